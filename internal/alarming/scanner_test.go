package alarming

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/weather-tracker/internal/analysis"
	"github.com/smukkama/weather-tracker/internal/anomaly"
	"github.com/smukkama/weather-tracker/internal/protocol"
	"github.com/smukkama/weather-tracker/internal/record"
	"github.com/smukkama/weather-tracker/internal/schema"
	"github.com/smukkama/weather-tracker/internal/tracker"
)

type fakeSource struct {
	totals   map[string]float64
	flags    map[string][]analysis.Flag
	fields   []string
	scoreErr map[string]error
	quotaErr error
}

func (f *fakeSource) Quota(day time.Time, household string) (tracker.QuotaReport, error) {
	if f.quotaErr != nil {
		return tracker.QuotaReport{}, f.quotaErr
	}
	return tracker.QuotaReport{Household: household, Day: day, Total: f.totals[household]}, nil
}

func (f *fakeSource) Anomalies(kind, field string, _ analysis.Scorer) ([]analysis.Flag, error) {
	f.fields = append(f.fields, field)
	if err := f.scoreErr[kind]; err != nil {
		return nil, err
	}
	flags, ok := f.flags[kind]
	if !ok {
		return nil, &record.ModelError{Scorer: "zscore", Err: anomaly.ErrInsufficientData}
	}
	return flags, nil
}

func newScanner(source Source, pub *capturePublisher, tables ...string) *Scanner {
	e, _ := newEvaluator(pub, nil)
	s := NewScanner(source, e, anomaly.ZScore{}, []string{"home", "cabin"}, tables, zerolog.Nop())
	s.now = func() time.Time { return time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC) }
	return s
}

func TestScanner_CheckQuotas(t *testing.T) {
	pub := &capturePublisher{}
	source := &fakeSource{totals: map[string]float64{"home": 1400, "cabin": 200}}
	s := newScanner(source, pub)
	ctx := context.Background()

	require.NoError(t, s.CheckQuotas(ctx))
	require.Len(t, pub.alerts, 1)
	assert.Equal(t, protocol.AlertTypeQuotaWarning, pub.alerts[0].Type)
	assert.Equal(t, "home", pub.alerts[0].Subject)

	// A second pass in the same state emits nothing
	require.NoError(t, s.CheckQuotas(ctx))
	assert.Len(t, pub.alerts, 1)

	source.totals["home"] = 100
	require.NoError(t, s.CheckQuotas(ctx))
	require.Len(t, pub.alerts, 2)
	assert.Equal(t, protocol.AlertTypeQuotaCleared, pub.alerts[1].Type)
}

func TestScanner_CheckQuotasJoinsErrors(t *testing.T) {
	source := &fakeSource{quotaErr: errors.New("disk gone")}
	s := newScanner(source, &capturePublisher{})

	err := s.CheckQuotas(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "home")
	assert.Contains(t, err.Error(), "cabin")
}

func TestScanner_ScanAnomalies(t *testing.T) {
	pub := &capturePublisher{}
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	source := &fakeSource{flags: map[string][]analysis.Flag{
		schema.NameWater: {
			{ID: "1", Timestamp: day, Value: 12, Label: analysis.Normal, Severity: analysis.Low},
			{ID: "2", Timestamp: day, Value: 900, Label: analysis.Anomaly, Severity: analysis.High},
		},
	}}
	s := newScanner(source, pub, schema.NameWater, schema.NameWeather)
	ctx := context.Background()

	// The weather table has too little data and is skipped without failing the scan
	require.NoError(t, s.ScanAnomalies(ctx))
	require.Len(t, pub.alerts, 1)
	assert.Equal(t, "2", pub.alerts[0].ObservationID)
	assert.Equal(t, []string{schema.FieldUsageLiters, schema.FieldTemperature}, source.fields)

	require.NoError(t, s.ScanAnomalies(ctx))
	assert.Len(t, pub.alerts, 1, "already notified anomalies are not repeated")
}

func TestScanner_UnknownTable(t *testing.T) {
	s := newScanner(&fakeSource{}, &capturePublisher{}, schema.NamePlants)
	assert.Error(t, s.ScanAnomalies(context.Background()))
}

func TestScanner_ScanAnomaliesReportsStorageErrors(t *testing.T) {
	pub := &capturePublisher{}
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	source := &fakeSource{
		flags: map[string][]analysis.Flag{
			schema.NameWater: {{ID: "7", Timestamp: day, Value: 900, Label: analysis.Anomaly, Severity: analysis.High}},
		},
		scoreErr: map[string]error{
			schema.NameWeather: &record.StorageError{Op: "read", Path: "weather.csv", Err: errors.New("permission denied")},
		},
	}
	s := newScanner(source, pub, schema.NameWeather, schema.NameWater)

	err := s.ScanAnomalies(context.Background())
	require.Error(t, err)
	var storageErr *record.StorageError
	assert.True(t, errors.As(err, &storageErr))

	// The readable table is still scanned
	require.Len(t, pub.alerts, 1)
	assert.Equal(t, "7", pub.alerts[0].ObservationID)
}

func TestScanner_ScanAnomaliesReportsSchemaMismatch(t *testing.T) {
	source := &fakeSource{scoreErr: map[string]error{
		schema.NameWater: fmt.Errorf("%w: water.csv", record.ErrSchemaMismatch),
	}}
	s := newScanner(source, &capturePublisher{}, schema.NameWater)

	assert.ErrorIs(t, s.ScanAnomalies(context.Background()), record.ErrSchemaMismatch)
}
