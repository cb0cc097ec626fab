package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/smukkama/weather-tracker/internal/database"
	"github.com/smukkama/weather-tracker/internal/logger"
	"github.com/smukkama/weather-tracker/internal/queue"
	"github.com/smukkama/weather-tracker/internal/tracker"
	"github.com/smukkama/weather-tracker/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	base := logger.Init(cfg.Logger.Level, cfg.Logger.Format)
	log := logger.WithComponent("dbwriter")
	log.Info().Msg("starting database writer")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(cfg.Database.ConnectionString(), base)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, database.Migrations); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	if err := queue.CreateTopic(cfg.Kafka.Brokers, cfg.Kafka.TopicObservations, cfg.Kafka.NumPartitions, 1, base); err != nil {
		log.Warn().Err(err).Str("topic", cfg.Kafka.TopicObservations).Msg("could not create observation topic")
	}

	consumer := queue.NewConsumer(queue.ConsumerConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.TopicObservations,
		GroupID: cfg.Kafka.GroupDBWriter,
	}, base)
	defer consumer.Close()

	batchWriter := queue.NewBatchWriter(consumer, db, cfg.Kafka.BatchSize, cfg.Kafka.BatchTimeout, base)
	batchWriter.Start(ctx)

	// Log consumer stats periodically
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := consumer.Stats()
				event := log.Info().
					Int64("messages", stats.Messages).
					Int64("bytes", stats.Bytes).
					Int64("errors", stats.Errors)
				for _, kind := range tracker.Kinds {
					if n, err := db.CountObservations(ctx, kind); err == nil {
						event = event.Int(kind, n)
					}
				}
				event.Msg("consumer stats")
			}
		}
	}()

	for _, kind := range tracker.Kinds {
		log.Debug().Str("table", kind).Int("partition", queue.PartitionFor(kind, cfg.Kafka.NumPartitions)).Msg("table partition")
	}

	log.Info().
		Str("topic", cfg.Kafka.TopicObservations).
		Int("batch_size", cfg.Kafka.BatchSize).
		Dur("flush_interval", cfg.Kafka.BatchTimeout).
		Msg("database writer is running")

	<-ctx.Done()

	log.Info().Msg("shutting down gracefully")
	batchWriter.Stop()
	log.Info().Msg("database writer stopped")
}
