package queue

import (
	"context"
	"fmt"
	"hash/crc32"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/smukkama/weather-tracker/internal/metrics"
)

// ProducerConfig names the topic a producer writes to. Partitions is the
// topic's partition count, used to report where each key lands.
type ProducerConfig struct {
	Brokers    []string
	Topic      string
	Partitions int
}

// Producer writes keyed messages to one topic. Messages are partitioned by the
// CRC32 of their key, so every row of a table (observations are keyed by table)
// and every alert of a household (alerts are keyed by scope and subject) stays
// on one partition, in order.
type Producer struct {
	writer     *kafka.Writer
	topic      string
	partitions int
	logger     zerolog.Logger
}

// NewProducer creates a synchronous producer for cfg.Topic
func NewProducer(cfg ProducerConfig, logger zerolog.Logger) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.CRC32Balancer{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
		topic:      cfg.Topic,
		partitions: cfg.Partitions,
		logger:     logger.With().Str("component", "producer").Str("topic", cfg.Topic).Logger(),
	}
}

// Partition returns the partition a key is written to
func (p *Producer) Partition(key string) int {
	return PartitionFor(key, p.partitions)
}

// Publish writes one message and waits for the leader to acknowledge it
func (p *Producer) Publish(ctx context.Context, key string, value []byte) error {
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value}); err != nil {
		metrics.MessagesPublished.WithLabelValues(p.topic, "error").Inc()
		return fmt.Errorf("failed to write message to %s: %w", p.topic, err)
	}

	metrics.MessagesPublished.WithLabelValues(p.topic, "ok").Inc()
	p.logger.Debug().Str("key", key).Int("partition", p.Partition(key)).Int("bytes", len(value)).Msg("message published")
	return nil
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// ConsumerConfig names the topic and consumer group to read from
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Consumer reads a topic as part of a consumer group. Offsets are committed
// explicitly once a message has been handled.
type Consumer struct {
	reader *kafka.Reader
	logger zerolog.Logger
}

// NewConsumer creates a group consumer. A new group starts from the oldest
// offset so a fresh mirror replays the whole topic.
func NewConsumer(cfg ConsumerConfig, logger zerolog.Logger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.Brokers,
			Topic:          cfg.Topic,
			GroupID:        cfg.GroupID,
			MinBytes:       1,
			MaxBytes:       10e6,
			CommitInterval: 0,
			StartOffset:    kafka.FirstOffset,
		}),
		logger: logger.With().Str("component", "consumer").Str("topic", cfg.Topic).Str("group", cfg.GroupID).Logger(),
	}
}

// Consume reads messages from Kafka
func (c *Consumer) Consume(ctx context.Context) (kafka.Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to fetch message: %w", err)
	}
	return msg, nil
}

// Commit commits the offsets of the given messages
func (c *Consumer) Commit(ctx context.Context, msgs ...kafka.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := c.reader.CommitMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to commit messages: %w", err)
	}
	last := msgs[len(msgs)-1]
	c.logger.Debug().Int("messages", len(msgs)).Int("partition", last.Partition).Int64("offset", last.Offset).Msg("offsets committed")
	return nil
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// Stats returns consumer statistics
func (c *Consumer) Stats() kafka.ReaderStats {
	return c.reader.Stats()
}

// PartitionFor returns the partition a key lands on under kafka.CRC32Balancer
// with numPartitions partitions
func PartitionFor(key string, numPartitions int) int {
	if numPartitions <= 0 {
		return 0
	}
	hash := crc32.ChecksumIEEE([]byte(key))
	return int(hash % uint32(numPartitions))
}

// CreateTopic creates a Kafka topic with the specified number of partitions
func CreateTopic(brokers []string, topic string, numPartitions int, replicationFactor int, logger zerolog.Logger) error {
	if len(brokers) == 0 {
		return fmt.Errorf("no brokers configured")
	}

	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("failed to dial broker: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to get controller: %w", err)
	}

	controllerConn, err := kafka.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	if err != nil {
		return fmt.Errorf("failed to dial controller: %w", err)
	}
	defer controllerConn.Close()

	topicConfigs := []kafka.TopicConfig{
		{
			Topic:             topic,
			NumPartitions:     numPartitions,
			ReplicationFactor: replicationFactor,
		},
	}

	err = controllerConn.CreateTopics(topicConfigs...)
	if err != nil {
		return fmt.Errorf("failed to create topic: %w", err)
	}

	logger.Info().Str("topic", topic).Int("partitions", numPartitions).Msg("topic created")
	return nil
}
