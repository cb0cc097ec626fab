// Package tracker ties the record store and the analysis engine together for
// the bundled deployments: weather, plants with their watering log, and
// household water usage.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/smukkama/weather-tracker/internal/analysis"
	"github.com/smukkama/weather-tracker/internal/generator"
	"github.com/smukkama/weather-tracker/internal/metrics"
	"github.com/smukkama/weather-tracker/internal/record"
	"github.com/smukkama/weather-tracker/internal/schema"
	"github.com/smukkama/weather-tracker/internal/store"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUnknownTable = errors.New("unknown table")
)

// Publisher receives every observation after it has been stored
type Publisher interface {
	PublishObservation(ctx context.Context, table string, obs record.Observation) error
}

// Options configures where tables live and how quotas are judged
type Options struct {
	DataDir       string
	Files         map[string]string
	WeatherLayout string
	DateLayout    string
	DailyQuota    float64
	WarningRatio  float64
}

// DefaultFiles are the table file names used when Options.Files omits one
var DefaultFiles = map[string]string{
	schema.NameWeather:  "weather_2025.csv",
	schema.NamePlants:   "plants.csv",
	schema.NameWatering: "watering_log.csv",
	schema.NameWater:    "water_usage.csv",
}

// Kinds lists the bundled tables in creation order
var Kinds = []string{schema.NameWeather, schema.NamePlants, schema.NameWatering, schema.NameWater}

// Tracker owns one table per deployment kind
type Tracker struct {
	opts      Options
	tables    map[string]*store.Table
	publisher Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

// New binds a tracker to the tables under opts.DataDir. Nothing is read or
// written until the first operation.
func New(opts Options, logger zerolog.Logger) (*Tracker, error) {
	if opts.DailyQuota <= 0 {
		opts.DailyQuota = 1500
	}
	if opts.WarningRatio <= 0 {
		opts.WarningRatio = 0.9
	}

	t := &Tracker{
		opts:   opts,
		tables: make(map[string]*store.Table, len(Kinds)),
		logger: logger.With().Str("component", "tracker").Logger(),
		now:    time.Now,
	}

	for _, kind := range Kinds {
		layout := opts.DateLayout
		if kind == schema.NameWeather {
			layout = opts.WeatherLayout
		}
		s, err := schema.ByName(kind, layout)
		if err != nil {
			return nil, err
		}

		file := opts.Files[kind]
		if file == "" {
			file = DefaultFiles[kind]
		}
		if !filepath.IsAbs(file) {
			file = filepath.Join(opts.DataDir, file)
		}
		t.tables[kind] = store.NewTable(file, s, logger)
	}
	return t, nil
}

// SetPublisher registers a publisher for stored observations
func (t *Tracker) SetPublisher(p Publisher) {
	t.publisher = p
}

// Table returns the table of a kind
func (t *Tracker) Table(kind string) (*store.Table, error) {
	table, ok := t.tables[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, kind)
	}
	return table, nil
}

// Init ensures every table exists with its header
func (t *Tracker) Init() error {
	for _, kind := range Kinds {
		if err := t.tables[kind].EnsureSchema(); err != nil {
			return fmt.Errorf("failed to initialize %s table: %w", kind, err)
		}
	}
	return nil
}

// Record stores one observation given as raw text per column. The date
// column is parsed with the table layout; the id column, when present, sets
// the observation id.
func (t *Tracker) Record(ctx context.Context, kind string, fields map[string]string) (record.Observation, error) {
	table, err := t.Table(kind)
	if err != nil {
		return record.Observation{}, err
	}

	obs, err := t.observationFrom(table.Schema(), fields)
	if err != nil {
		return record.Observation{}, err
	}
	return t.append(ctx, table, obs)
}

func (t *Tracker) append(ctx context.Context, table *store.Table, obs record.Observation) (record.Observation, error) {
	stored, err := table.Append(obs)
	if err != nil {
		return record.Observation{}, err
	}

	t.publish(ctx, table, stored)
	return stored, nil
}

// publish forwards a stored row to the mirror. The row is durable already, so
// a failed publish is logged and the mirror catches up on the next one.
func (t *Tracker) publish(ctx context.Context, table *store.Table, obs record.Observation) {
	if t.publisher == nil {
		return
	}
	if err := t.publisher.PublishObservation(ctx, table.Schema().Name, obs); err != nil {
		t.logger.Warn().Err(err).Str("table", table.Schema().Name).Str("id", obs.ID).Msg("failed to publish observation")
	}
}

func (t *Tracker) observationFrom(s *schema.Schema, fields map[string]string) (record.Observation, error) {
	obs := record.Observation{Fields: make(map[string]record.Value, len(fields))}
	for name, raw := range fields {
		c, ok := s.Column(name)
		if !ok {
			// Left in place so validation reports it
			obs.Fields[name] = record.Text(raw)
			continue
		}
		switch c.Kind {
		case schema.KindID:
			obs.ID = strings.TrimSpace(raw)
		case schema.KindDate:
			ts, err := s.ParseTime(raw)
			if err != nil {
				return record.Observation{}, &record.ValidationError{
					Field:   name,
					Value:   raw,
					Message: "date must use layout " + s.Layout,
					Err:     err,
				}
			}
			obs.Timestamp = ts
		case schema.KindNumber:
			obs.Fields[name] = record.ParseNumber(raw)
		default:
			obs.Fields[name] = record.Text(raw)
		}
	}
	return obs, nil
}

// List loads every row of a table
func (t *Tracker) List(kind string) (*store.LoadResult, error) {
	table, err := t.Table(kind)
	if err != nil {
		return nil, err
	}
	return table.Load()
}

func (t *Tracker) rows(kind string) (*store.Table, []record.Observation, error) {
	table, err := t.Table(kind)
	if err != nil {
		return nil, nil, err
	}
	result, err := table.Load()
	if err != nil {
		return nil, nil, err
	}
	return table, result.Rows, nil
}

// Summary describes every numeric and categorical column of a table
func (t *Tracker) Summary(kind string) (analysis.Summary, error) {
	table, rows, err := t.rows(kind)
	if err != nil {
		return analysis.Summary{}, err
	}
	s := table.Schema()
	return analysis.Summarize(rows, s.NumericFields(), s.CategoricalFields()...), nil
}

// Group aggregates a numeric column of a table by calendar period
func (t *Tracker) Group(kind string, period analysis.Period, field string, agg analysis.Aggregation) ([]analysis.Bucket, error) {
	table, rows, err := t.rows(kind)
	if err != nil {
		return nil, err
	}
	if err := requireNumeric(table.Schema(), field); err != nil {
		return nil, err
	}
	return analysis.GroupByPeriod(rows, period, field, agg)
}

// Anomalies scores a numeric column of a table. Rows without a value in the
// column are left out of the series.
func (t *Tracker) Anomalies(kind, field string, scorer analysis.Scorer) ([]analysis.Flag, error) {
	table, rows, err := t.rows(kind)
	if err != nil {
		return nil, err
	}
	if err := requireNumeric(table.Schema(), field); err != nil {
		return nil, err
	}

	scored := rows[:0:0]
	for _, r := range rows {
		if _, ok := r.Float(field); ok {
			scored = append(scored, r)
		}
	}

	flags, err := analysis.ScoreAnomalies(scored, field, scorer)
	if err != nil {
		metrics.ScoringFailures.WithLabelValues(kind).Inc()
		return nil, err
	}

	for _, f := range analysis.Anomalies(flags) {
		metrics.AnomaliesFlagged.WithLabelValues(kind, f.Severity.String()).Inc()
	}
	return flags, nil
}

// Forecast predicts the next daily total of a column from a trailing moving
// average over window days
func (t *Tracker) Forecast(kind, field string, window int) (float64, bool, error) {
	buckets, err := t.Group(kind, analysis.PeriodDay, field, analysis.AggSum)
	if err != nil {
		return 0, false, err
	}
	values := make([]float64, len(buckets))
	for i, b := range buckets {
		values[i] = b.Value
	}
	next, ok := analysis.Forecast(values, window)
	return next, ok, nil
}

// Export writes the rows of a table dated within [from, to]; zero bounds are open
func (t *Tracker) Export(kind string, w io.Writer, from, to time.Time) error {
	table, rows, err := t.rows(kind)
	if err != nil {
		return err
	}
	return table.Export(w, analysis.Filter(rows, from, to))
}

// Seed appends a synthetic year of data to the weather or water table
func (t *Tracker) Seed(ctx context.Context, kind string, year int, seed uint64, households ...string) (int, error) {
	table, err := t.Table(kind)
	if err != nil {
		return 0, err
	}

	gen := generator.New(seed)
	var rows []record.Observation
	switch kind {
	case schema.NameWeather:
		rows = gen.Weather(year)
	case schema.NameWater:
		rows = gen.Water(year, households...)
	default:
		return 0, fmt.Errorf("no generator for %s table", kind)
	}

	for i, obs := range rows {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if _, err := t.append(ctx, table, obs); err != nil {
			return i, fmt.Errorf("failed to seed row %d: %w", i+1, err)
		}
	}

	t.logger.Info().Str("table", kind).Int("rows", len(rows)).Int("year", year).Msg("table seeded")
	return len(rows), nil
}

func requireNumeric(s *schema.Schema, field string) error {
	c, ok := s.Column(field)
	if !ok {
		return &record.ValidationError{Field: field, Message: "not a " + s.Name + " column", Err: record.ErrUnknownField}
	}
	if c.Kind != schema.KindNumber {
		return &record.ValidationError{Field: field, Message: "not a numeric column"}
	}
	return nil
}
