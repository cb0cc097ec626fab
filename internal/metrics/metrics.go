package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Record store metrics
	StoreRowsAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_store_rows_appended_total",
			Help: "Total number of observations appended",
		},
		[]string{"table"},
	)

	StoreRowsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_store_rows_skipped_total",
			Help: "Total number of malformed rows skipped during load",
		},
		[]string{"table"},
	)

	StoreRewrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_store_rewrites_total",
			Help: "Total number of full table rewrites",
		},
		[]string{"table"},
	)

	StoreFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_store_failures_total",
			Help: "Total number of failed storage operations",
		},
		[]string{"table", "op"},
	)

	StoreLoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tracker_store_load_duration_seconds",
			Help:    "Time taken to load a full table",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"table"},
	)

	// Engine metrics
	AnomaliesFlagged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_anomalies_flagged_total",
			Help: "Total number of rows labelled as anomalies",
		},
		[]string{"table", "severity"},
	)

	ScoringFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_scoring_failures_total",
			Help: "Total number of anomaly scoring calls that failed",
		},
		[]string{"table"},
	)

	ThresholdEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_threshold_evaluations_total",
			Help: "Total number of quota threshold evaluations",
		},
		[]string{"status"},
	)

	// Alerting metrics
	AlertsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_alerts_published_total",
			Help: "Total number of alert notifications published",
		},
		[]string{"type", "status"},
	)

	// Queue metrics
	MessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_messages_published_total",
			Help: "Total number of messages written to Kafka",
		},
		[]string{"topic", "status"},
	)

	// Scheduler metrics
	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_job_runs_total",
			Help: "Total number of scheduled job runs",
		},
		[]string{"job", "status"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tracker_job_duration_seconds",
			Help:    "Duration of scheduled job runs",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"job"},
	)

	ScheduledTasks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracker_scheduled_tasks",
			Help: "Number of tasks waiting in the scheduler",
		},
	)

	// Mirror metrics
	MirrorRowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracker_mirror_rows_written_total",
			Help: "Total number of observation events written to Postgres",
		},
		[]string{"status"},
	)
)
