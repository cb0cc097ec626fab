package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/smukkama/weather-tracker/internal/alarming"
	"github.com/smukkama/weather-tracker/internal/anomaly"
	"github.com/smukkama/weather-tracker/internal/database"
	"github.com/smukkama/weather-tracker/internal/logger"
	"github.com/smukkama/weather-tracker/internal/queue"
	"github.com/smukkama/weather-tracker/internal/scheduler"
	"github.com/smukkama/weather-tracker/internal/tracker"
	"github.com/smukkama/weather-tracker/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	base := logger.Init(cfg.Logger.Level, cfg.Logger.Format)
	log := logger.WithComponent("monitor")
	log.Info().Msg("starting monitor")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tr, err := tracker.New(tracker.OptionsFromConfig(cfg), base)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create tracker")
	}
	if err := tr.Init(); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tables")
	}

	scorer, err := anomaly.Configured(cfg.Alerts)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid anomaly scorer")
	}

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("failed to connect to Redis")
	}
	log.Info().Str("addr", cfg.Redis.Addr).Msg("connected to Redis")
	states := alarming.NewStateManager(redisClient, cfg.Alerts.StateTTL)

	if existing, err := states.GetAllStates(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to read alert states")
	} else {
		for key, s := range existing {
			if s.Status == alarming.AlertStateActive {
				log.Info().Str("key", key).Str("day", s.Day).Float64("total", s.Total).Msg("resuming active alert")
			}
		}
	}

	// Alert history is optional
	var history alarming.History
	if cfg.Database.Enabled {
		db, err := database.Connect(cfg.Database.ConnectionString(), base)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		if err := db.RunMigrations(ctx, database.Migrations); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}

		active, err := db.ActiveAlerts(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("failed to load active alerts")
		}
		for _, a := range active {
			log.Info().Int64("alert_id", a.AlertID).Str("type", a.Type).Str("subject", a.Subject).Time("since", a.StartTime).Msg("alert still active")
		}
		history = db
	}

	if err := queue.CreateTopic(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts, cfg.Kafka.NumPartitions, 1, base); err != nil {
		log.Warn().Err(err).Str("topic", cfg.Kafka.TopicAlerts).Msg("could not create alert topic")
	}
	alertProducer := queue.NewProducer(queue.ProducerConfig{
		Brokers:    cfg.Kafka.Brokers,
		Topic:      cfg.Kafka.TopicAlerts,
		Partitions: cfg.Kafka.NumPartitions,
	}, base)
	defer alertProducer.Close()

	evaluator := alarming.NewEvaluator(states, alertProducer, history, cfg.Alerts.DailyQuota, cfg.Alerts.WarningRatio, base)
	scanner := alarming.NewScanner(tr, evaluator, scorer, cfg.Alerts.Households, cfg.Alerts.AnomalyTables, base)

	sched := scheduler.New(2, base)
	sched.Start()
	defer sched.Stop()

	if err := sched.Now("quota", cfg.Alerts.ScanInterval, scanner.CheckQuotas); err != nil {
		log.Fatal().Err(err).Msg("failed to schedule quota check")
	}
	if err := sched.Now("anomalies", cfg.Alerts.ScanInterval, scanner.ScanAnomalies); err != nil {
		log.Fatal().Err(err).Msg("failed to schedule anomaly scan")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := redisClient.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Metrics.Addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	log.Info().
		Dur("interval", cfg.Alerts.ScanInterval).
		Strs("households", cfg.Alerts.Households).
		Strs("tables", cfg.Alerts.AnomalyTables).
		Str("scorer", scorer.Name()).
		Msg("monitor is running")

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("monitor stopped with error")
	}
	log.Info().Msg("monitor stopped")
}
