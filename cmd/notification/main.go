package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/smukkama/weather-tracker/internal/logger"
	"github.com/smukkama/weather-tracker/internal/notification"
	"github.com/smukkama/weather-tracker/internal/protocol"
	"github.com/smukkama/weather-tracker/internal/queue"
	"github.com/smukkama/weather-tracker/pkg/config"
)

const (
	sendAttempts = 3
	retryDelay   = 5 * time.Second
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	base := logger.Init(cfg.Logger.Level, cfg.Logger.Format)
	log := logger.WithComponent("notifier")
	log.Info().Msg("starting notification service")

	notifier := notification.NewEmailNotifier(&cfg.SMTP, base)

	// Test SMTP connection (optional, will skip if not configured)
	if err := notifier.TestConnection(); err != nil {
		log.Warn().Err(err).Msg("notifications will be logged only")
	}

	consumer := queue.NewConsumer(queue.ConsumerConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.TopicAlerts,
		GroupID: cfg.Kafka.GroupNotification,
	}, base)
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("topic", cfg.Kafka.TopicAlerts).Str("group", cfg.Kafka.GroupNotification).Msg("notification service is running")

	for {
		msg, err := consumer.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Error().Err(err).Msg("failed to consume message")
			continue
		}

		alert, err := protocol.DecodeAlertNotification(msg.Value)
		if err != nil {
			log.Error().Err(err).Int64("offset", msg.Offset).Msg("dropping undecodable notification")
		} else if !deliver(ctx, notifier, alert, log) {
			// Leave the offset uncommitted so the alert is redelivered after a restart
			if ctx.Err() != nil {
				break
			}
			continue
		}

		if err := consumer.Commit(ctx, msg); err != nil {
			log.Error().Err(err).Int64("offset", msg.Offset).Msg("failed to commit offset")
		}
	}

	log.Info().Msg("notification service stopped")
}

// deliver sends an alert, retrying a few times before giving up
func deliver(ctx context.Context, notifier *notification.EmailNotifier, alert *protocol.AlertNotification, log zerolog.Logger) bool {
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		err := notifier.SendAlertNotification(alert)
		if err == nil {
			return true
		}
		log.Error().Err(err).
			Str("type", alert.Type).
			Str("subject", alert.Subject).
			Int("attempt", attempt).
			Msg("failed to send notification")

		select {
		case <-ctx.Done():
			return false
		case <-time.After(retryDelay):
		}
	}
	return false
}
