package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/smukkama/weather-tracker/internal/database"
	"github.com/smukkama/weather-tracker/internal/metrics"
	"github.com/smukkama/weather-tracker/internal/protocol"
)

// MessageSource is the consuming side of a topic; Consumer satisfies it
type MessageSource interface {
	Consume(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
}

// ObservationSink stores mirrored rows; database.DB satisfies it
type ObservationSink interface {
	UpsertObservations(ctx context.Context, rows []*database.Observation) error
}

// BatchWriter consumes observation events and batch-writes them to the database
type BatchWriter struct {
	consumer      MessageSource
	db            ObservationSink
	batchSize     int
	flushInterval time.Duration
	logger        zerolog.Logger
	stopCh        chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
}

// NewBatchWriter creates a new batch writer
func NewBatchWriter(consumer MessageSource, db ObservationSink, batchSize int, flushInterval time.Duration, logger zerolog.Logger) *BatchWriter {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &BatchWriter{
		consumer:      consumer,
		db:            db,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger.With().Str("component", "batch_writer").Logger(),
		stopCh:        make(chan struct{}),
	}
}

// Start begins consuming and writing to database
func (bw *BatchWriter) Start(ctx context.Context) {
	bw.wg.Add(1)
	go bw.run(ctx)
}

// Stop flushes what is pending and waits for the writer to finish
func (bw *BatchWriter) Stop() {
	bw.stopOnce.Do(func() { close(bw.stopCh) })
	bw.wg.Wait()
}

func (bw *BatchWriter) run(ctx context.Context) {
	defer bw.wg.Done()

	consumeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var batch []kafka.Message
	ticker := time.NewTicker(bw.flushInterval)
	defer ticker.Stop()

	msgChan := make(chan kafka.Message, bw.batchSize)
	go bw.consume(consumeCtx, msgChan)

	for {
		// A full batch that failed to write waits for the ticker; reading
		// pauses so the batch stays bounded while the database is down
		in := msgChan
		if len(batch) >= bw.batchSize {
			in = nil
		}

		select {
		case <-bw.stopCh:
			// Flush remaining batch before stopping
			bw.flush(context.WithoutCancel(ctx), batch)
			return

		case <-ctx.Done():
			bw.flush(context.WithoutCancel(ctx), batch)
			return

		case <-ticker.C:
			// Periodic flush
			if len(batch) > 0 {
				bw.logger.Debug().Int("messages", len(batch)).Msg("flush interval reached")
				batch = bw.flush(ctx, batch)
			}

		case msg := <-in:
			batch = append(batch, msg)

			// Flush if batch is full
			if len(batch) >= bw.batchSize {
				bw.logger.Debug().Int("messages", len(batch)).Msg("batch full")
				batch = bw.flush(ctx, batch)
			}
		}
	}
}

func (bw *BatchWriter) consume(ctx context.Context, out chan<- kafka.Message) {
	for {
		msg, err := bw.consumer.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			bw.logger.Error().Err(err).Msg("consumer error")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// flush writes the batch in one transaction and commits its offsets. A failed
// write keeps the batch so the next tick retries it.
func (bw *BatchWriter) flush(ctx context.Context, batch []kafka.Message) []kafka.Message {
	if len(batch) == 0 {
		return nil
	}

	rows := make([]*database.Observation, 0, len(batch))
	for _, msg := range batch {
		row, err := decodeObservation(msg)
		if err != nil {
			// Undecodable messages are dropped so they do not block the partition
			bw.logger.Error().Err(err).Int("partition", msg.Partition).Int64("offset", msg.Offset).Msg("failed to process message")
			metrics.MirrorRowsWritten.WithLabelValues("invalid").Inc()
			continue
		}
		rows = append(rows, row)
	}

	if err := bw.db.UpsertObservations(ctx, rows); err != nil {
		bw.logger.Error().Err(err).Int("rows", len(rows)).Msg("failed to write batch")
		metrics.MirrorRowsWritten.WithLabelValues("error").Add(float64(len(rows)))
		return batch
	}
	metrics.MirrorRowsWritten.WithLabelValues("ok").Add(float64(len(rows)))

	// Commit offsets after successful processing
	if err := bw.consumer.Commit(ctx, batch...); err != nil {
		bw.logger.Error().Err(err).Msg("failed to commit offsets")
	}

	bw.logger.Info().Int("rows", len(rows)).Msg("flushed batch to database")
	return nil
}

func decodeObservation(msg kafka.Message) (*database.Observation, error) {
	event, err := protocol.DecodeObservationEvent(msg.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}

	fields, err := json.Marshal(event.Fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode fields: %w", err)
	}

	return &database.Observation{
		Table:      event.Table,
		ID:         event.ID,
		ObservedAt: event.Timestamp,
		Fields:     string(fields),
		EventID:    event.EventID,
		RecordedAt: event.RecordedAt,
	}, nil
}
