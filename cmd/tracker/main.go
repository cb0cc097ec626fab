package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/smukkama/weather-tracker/internal/logger"
	"github.com/smukkama/weather-tracker/internal/queue"
	"github.com/smukkama/weather-tracker/internal/tracker"
	"github.com/smukkama/weather-tracker/pkg/config"
)

const usage = `Usage: tracker <command> [flags] [args]

Commands:
  init                              create every table with its header
  record <table> key=value...       append one row
  list <table>                      print every row
  summary <table>                   descriptive statistics
  group <table> -field F            aggregate a column by day, month or year
  anomalies <table> -field F        flag unusual values in a column
  quota [-household H] [-day D]     water usage against the daily quota
  forecast <table> -field F         next daily total from a moving average
  export <table> [-from] [-to]      write rows as CSV
  seed <weather|water> [-year]      append a synthetic year of data
  plant add -name N ...             register a plant
  plant water <id> -ml N            log a watering
  plant last <id>                   latest watering of a plant
  plant due <id>                    whether a plant needs water
  plant freq <id> <days>            change a plant's watering frequency

Tables: weather, plants, watering, water
`

type command func(ctx context.Context, app *app, args []string) error

var commands = map[string]command{
	"init":      runInit,
	"record":    runRecord,
	"list":      runList,
	"summary":   runSummary,
	"group":     runGroup,
	"anomalies": runAnomalies,
	"quota":     runQuota,
	"forecast":  runForecast,
	"export":    runExport,
	"seed":      runSeed,
	"plant":     runPlant,
}

// app carries what every command needs
type app struct {
	cfg     *config.Config
	tracker *tracker.Tracker
	logger  zerolog.Logger
	out     io.Writer
}

func main() {
	if len(os.Args) < 2 || os.Args[1] == "-h" || os.Args[1] == "help" {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.Init(cfg.Logger.Level, cfg.Logger.Format)

	tr, err := tracker.New(tracker.OptionsFromConfig(cfg), log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create tracker")
	}

	if cfg.Kafka.Enabled {
		producer := queue.NewProducer(queue.ProducerConfig{
			Brokers:    cfg.Kafka.Brokers,
			Topic:      cfg.Kafka.TopicObservations,
			Partitions: cfg.Kafka.NumPartitions,
		}, log)
		defer producer.Close()
		tr.SetPublisher(queue.NewObservationPublisher(producer))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{cfg: cfg, tracker: tr, logger: log, out: os.Stdout}
	if err := cmd(ctx, a, os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "tracker %s: %v\n", os.Args[1], err)
		stop()
		os.Exit(1)
	}
}
