package alarming

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/smukkama/weather-tracker/internal/analysis"
	"github.com/smukkama/weather-tracker/internal/record"
	"github.com/smukkama/weather-tracker/internal/schema"
	"github.com/smukkama/weather-tracker/internal/tracker"
)

// AnomalyFields is the column scanned for anomalies in each table
var AnomalyFields = map[string]string{
	schema.NameWeather:  schema.FieldTemperature,
	schema.NameWatering: schema.FieldAmountML,
	schema.NameWater:    schema.FieldUsageLiters,
}

// Source is the read side of the tracker a scan needs; tracker.Tracker satisfies it
type Source interface {
	Quota(day time.Time, household string) (tracker.QuotaReport, error)
	Anomalies(kind, field string, scorer analysis.Scorer) ([]analysis.Flag, error)
}

// Scanner runs the periodic checks of the monitor: the daily quota of each
// household and the anomaly scan of each table
type Scanner struct {
	source     Source
	evaluator  *Evaluator
	scorer     analysis.Scorer
	households []string
	tables     []string
	logger     zerolog.Logger
	now        func() time.Time
}

// NewScanner creates a scanner over the given households and tables
func NewScanner(source Source, evaluator *Evaluator, scorer analysis.Scorer, households, tables []string, logger zerolog.Logger) *Scanner {
	return &Scanner{
		source:     source,
		evaluator:  evaluator,
		scorer:     scorer,
		households: households,
		tables:     tables,
		logger:     logger.With().Str("component", "scanner").Logger(),
		now:        time.Now,
	}
}

// CheckQuotas evaluates today's usage of every household. A failing household
// does not stop the others; the errors are joined.
func (s *Scanner) CheckQuotas(ctx context.Context) error {
	var errs []error
	for _, household := range s.households {
		report, err := s.source.Quota(s.now(), household)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to total %s: %w", household, err))
			continue
		}

		if _, err := s.evaluator.EvaluateQuota(ctx, household, report.Day, report.Total); err != nil {
			errs = append(errs, fmt.Errorf("failed to evaluate quota for %s: %w", household, err))
			continue
		}

		s.logger.Debug().
			Str("household", household).
			Float64("total", report.Total).
			Str("status", report.Status.String()).
			Msg("quota checked")
	}
	return errors.Join(errs...)
}

// ScanAnomalies scores every configured table and notifies new anomalies.
// Tables the scorer cannot fit are skipped; a table that cannot be read fails
// the scan.
func (s *Scanner) ScanAnomalies(ctx context.Context) error {
	var errs []error
	for _, table := range s.tables {
		field, ok := AnomalyFields[table]
		if !ok {
			errs = append(errs, fmt.Errorf("no anomaly field for %s table", table))
			continue
		}

		flags, err := s.source.Anomalies(table, field, s.scorer)
		var modelErr *record.ModelError
		switch {
		case errors.As(err, &modelErr):
			s.logger.Warn().Err(err).Str("table", table).Msg("anomaly scan skipped")
			continue
		case err != nil:
			errs = append(errs, fmt.Errorf("failed to score %s: %w", table, err))
			continue
		}

		sent, err := s.evaluator.EvaluateAnomalies(ctx, table, field, flags)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to notify %s anomalies: %w", table, err))
			continue
		}

		if len(sent) > 0 {
			s.logger.Info().Str("table", table).Int("new", len(sent)).Msg("anomalies notified")
		}
	}
	return errors.Join(errs...)
}
