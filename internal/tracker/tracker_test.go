package tracker

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/weather-tracker/internal/analysis"
	"github.com/smukkama/weather-tracker/internal/anomaly"
	"github.com/smukkama/weather-tracker/internal/record"
	"github.com/smukkama/weather-tracker/internal/schema"
)

func newTracker(t *testing.T) *Tracker {
	t.Helper()
	tr, err := New(Options{DataDir: t.TempDir()}, zerolog.Nop())
	require.NoError(t, err)
	return tr
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type recordingPublisher struct {
	mu     sync.Mutex
	tables []string
	rows   []record.Observation
	err    error
}

func (p *recordingPublisher) PublishObservation(_ context.Context, table string, obs record.Observation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tables = append(p.tables, table)
	p.rows = append(p.rows, obs)
	return p.err
}

func TestInit_CreatesAllTables(t *testing.T) {
	tr := newTracker(t)
	require.NoError(t, tr.Init())
	require.NoError(t, tr.Init())

	for _, kind := range Kinds {
		table, err := tr.Table(kind)
		require.NoError(t, err)

		data, err := os.ReadFile(table.Path())
		require.NoError(t, err)
		assert.Equal(t, strings.Join(table.Schema().Header(), ",")+"\n", string(data))
	}

	_, err := tr.Table("forecasts")
	assert.ErrorIs(t, err, ErrUnknownTable)
}

func TestRecord_WeatherRoundTrip(t *testing.T) {
	tr := newTracker(t)
	ctx := context.Background()

	stored, err := tr.Record(ctx, schema.NameWeather, map[string]string{
		"Date": "06-15-2025", "Temperature": "31", "Condition": "Sunny", "Humidity": "40", "Wind": "12",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, stored.ID)

	result, err := tr.List(schema.NameWeather)
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, date(2025, 6, 15), result.Rows[0].Timestamp)
	temp, _ := result.Rows[0].Float("Temperature")
	assert.Equal(t, 31.0, temp)
}

func TestRecord_Rejects(t *testing.T) {
	tr := newTracker(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		fields map[string]string
	}{
		{"bad date", map[string]string{"date": "15/06/2025", "household": "home", "usage_liters": "1"}},
		{"missing date", map[string]string{"household": "home", "usage_liters": "1"}},
		{"unknown field", map[string]string{"date": "2025-06-15", "household": "home", "pressure": "1"}},
		{"negative usage", map[string]string{"date": "2025-06-15", "household": "home", "usage_liters": "-4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tr.Record(ctx, schema.NameWater, tt.fields)
			var validation *record.ValidationError
			assert.ErrorAs(t, err, &validation)
		})
	}

	result, err := tr.List(schema.NameWater)
	require.NoError(t, err)
	assert.Empty(t, result.Rows)
}

func TestRecord_PublishesAfterStore(t *testing.T) {
	tr := newTracker(t)
	pub := &recordingPublisher{err: errors.New("broker down")}
	tr.SetPublisher(pub)

	_, err := tr.Record(context.Background(), schema.NameWater, map[string]string{
		"date": "2025-06-15", "household": "home", "usage_liters": "10",
	})
	require.NoError(t, err, "a failed publish does not fail the append")
	assert.Equal(t, []string{schema.NameWater}, pub.tables)

	result, err := tr.List(schema.NameWater)
	require.NoError(t, err)
	assert.Len(t, result.Rows, 1)
}

func TestQuota_Boundary(t *testing.T) {
	tr := newTracker(t)
	ctx := context.Background()

	for _, liters := range []string{"1000", "350"} {
		_, err := tr.Record(ctx, schema.NameWater, map[string]string{
			"date": "2025-06-15", "household": "home", "usage_liters": liters,
		})
		require.NoError(t, err)
	}
	_, err := tr.Record(ctx, schema.NameWater, map[string]string{
		"date": "2025-06-15", "household": "cabin", "usage_liters": "900",
	})
	require.NoError(t, err)

	report, err := tr.Quota(date(2025, 6, 15), "home")
	require.NoError(t, err)
	assert.Equal(t, 1350.0, report.Total)
	assert.Equal(t, analysis.StatusOK, report.Status)

	_, err = tr.Record(ctx, schema.NameWater, map[string]string{
		"date": "2025-06-15", "household": "home", "usage_liters": "1",
	})
	require.NoError(t, err)

	report, err = tr.Quota(date(2025, 6, 15), "home")
	require.NoError(t, err)
	assert.Equal(t, 1351.0, report.Total)
	assert.Equal(t, analysis.StatusWarning, report.Status)

	all, err := tr.Quota(date(2025, 6, 15), "")
	require.NoError(t, err)
	assert.Equal(t, 2251.0, all.Total)
}

func TestGroup_Monthly(t *testing.T) {
	tr := newTracker(t)
	ctx := context.Background()

	for d := 1; d <= 30; d++ {
		_, err := tr.Record(ctx, schema.NameWater, map[string]string{
			"date": date(2025, 4, d).Format("2006-01-02"), "household": "home", "usage_liters": "2",
		})
		require.NoError(t, err)
	}

	buckets, err := tr.Group(schema.NameWater, analysis.PeriodMonth, schema.FieldUsageLiters, analysis.AggSum)
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, 60.0, buckets[0].Value)

	_, err = tr.Group(schema.NameWater, analysis.PeriodMonth, schema.FieldHousehold, analysis.AggSum)
	assert.Error(t, err)
}

func TestAnomalies_Seeded(t *testing.T) {
	tr := newTracker(t)
	ctx := context.Background()

	n, err := tr.Seed(ctx, schema.NameWater, 2025, 11)
	require.NoError(t, err)
	require.Greater(t, n, 365)

	flags, err := tr.Anomalies(schema.NameWater, schema.FieldUsageLiters, anomaly.Contamination{Rate: 0.1})
	require.NoError(t, err)
	assert.Len(t, flags, n)

	outliers := analysis.Anomalies(flags)
	assert.NotEmpty(t, outliers)
	assert.LessOrEqual(t, len(outliers), n/10+1)
}

func TestAnomalies_EmptyTableIsModelError(t *testing.T) {
	tr := newTracker(t)

	_, err := tr.Anomalies(schema.NameWater, schema.FieldUsageLiters, anomaly.ZScore{})
	var modelErr *record.ModelError
	require.ErrorAs(t, err, &modelErr)
	assert.ErrorIs(t, err, anomaly.ErrInsufficientData)
}

func TestSummary_Weather(t *testing.T) {
	tr := newTracker(t)
	_, err := tr.Seed(context.Background(), schema.NameWeather, 2025, 42)
	require.NoError(t, err)

	s, err := tr.Summary(schema.NameWeather)
	require.NoError(t, err)
	assert.Equal(t, 365, s.Rows)

	temp, ok := s.Field(schema.FieldTemperature)
	require.True(t, ok)
	assert.Equal(t, 365, temp.Count)
	require.NotNil(t, temp.StdDev)

	cond, ok := s.Category(schema.FieldCondition)
	require.True(t, ok)
	require.NotNil(t, cond.Mode)
	assert.Equal(t, "Sunny", *cond.Mode)
}

func TestSeed_UnsupportedTable(t *testing.T) {
	tr := newTracker(t)
	_, err := tr.Seed(context.Background(), schema.NamePlants, 2025, 1)
	assert.Error(t, err)
}

func TestPlants_WateringLifecycle(t *testing.T) {
	tr := newTracker(t)
	ctx := context.Background()

	plant, err := tr.AddPlant(ctx, "Fern", "Balcony", date(2025, 5, 1), 3, "shade")
	require.NoError(t, err)

	status, err := tr.WateringDue(plant.ID, date(2025, 5, 3))
	require.NoError(t, err)
	assert.False(t, status.Watered)
	assert.False(t, status.Due)
	assert.Equal(t, date(2025, 5, 4), status.NextDue)

	last, err := tr.LastWatered(plant.ID)
	require.NoError(t, err)
	assert.Nil(t, last)

	_, err = tr.LogWatering(ctx, plant.ID, date(2025, 5, 10), 250, "")
	require.NoError(t, err)
	_, err = tr.LogWatering(ctx, plant.ID, date(2025, 5, 6), 100, "late entry")
	require.NoError(t, err)

	last, err = tr.LastWatered(plant.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, date(2025, 5, 10), last.Timestamp)

	status, err = tr.WateringDue(plant.ID, date(2025, 5, 13))
	require.NoError(t, err)
	assert.True(t, status.Due)

	require.NoError(t, tr.SetWateringFrequency(ctx, plant.ID, 10))
	status, err = tr.WateringDue(plant.ID, date(2025, 5, 13))
	require.NoError(t, err)
	assert.Equal(t, 10, status.Frequency)
	assert.False(t, status.Due)
}

func TestSetWateringFrequency_PublishesEdit(t *testing.T) {
	tr := newTracker(t)
	pub := &recordingPublisher{}
	tr.SetPublisher(pub)
	ctx := context.Background()

	plant, err := tr.AddPlant(ctx, "Fern", "Kitchen", date(2025, 5, 1), 3, "shade")
	require.NoError(t, err)
	require.Len(t, pub.rows, 1)

	require.NoError(t, tr.SetWateringFrequency(ctx, plant.ID, 9))
	require.Len(t, pub.rows, 2)
	assert.Equal(t, []string{schema.NamePlants, schema.NamePlants}, pub.tables)

	edited := pub.rows[1]
	assert.Equal(t, plant.ID, edited.ID)
	freq, ok := edited.Float(schema.FieldWateringFreq)
	require.True(t, ok)
	assert.Equal(t, 9.0, freq)
	assert.Equal(t, "Fern", edited.Get(schema.FieldName).String())

	// A failed edit publishes nothing
	assert.Error(t, tr.SetWateringFrequency(ctx, "missing", 4))
	assert.Len(t, pub.rows, 2)
}

func TestPlants_Unknown(t *testing.T) {
	tr := newTracker(t)
	ctx := context.Background()

	_, err := tr.LogWatering(ctx, "missing", date(2025, 5, 1), 10, "")
	assert.ErrorIs(t, err, ErrNotFound)

	err = tr.SetWateringFrequency(ctx, "missing", 4)
	assert.ErrorIs(t, err, ErrNotFound)

	plant, err := tr.AddPlant(ctx, "Cactus", "Desk", date(2025, 1, 1), 30, "full")
	require.NoError(t, err)
	var validation *record.ValidationError
	assert.ErrorAs(t, tr.SetWateringFrequency(ctx, plant.ID, 0), &validation)
}

func TestExport_DateRange(t *testing.T) {
	tr := newTracker(t)
	ctx := context.Background()

	for _, d := range []string{"2025-01-01", "2025-02-01", "2025-03-01"} {
		_, err := tr.Record(ctx, schema.NameWater, map[string]string{
			"id": "row-" + d, "date": d, "household": "home", "usage_liters": "5", "activity": "Shower",
		})
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	require.NoError(t, tr.Export(schema.NameWater, &buf, date(2025, 2, 1), time.Time{}))
	assert.Equal(t,
		"id,date,household,usage_liters,activity\n"+
			"row-2025-02-01,2025-02-01,home,5,Shower\n"+
			"row-2025-03-01,2025-03-01,home,5,Shower\n",
		buf.String())
}

func TestForecast(t *testing.T) {
	tr := newTracker(t)
	ctx := context.Background()

	for i, liters := range []string{"100", "200", "300"} {
		_, err := tr.Record(ctx, schema.NameWater, map[string]string{
			"date": date(2025, 1, i+1).Format("2006-01-02"), "household": "home", "usage_liters": liters,
		})
		require.NoError(t, err)
	}

	next, ok, err := tr.Forecast(schema.NameWater, schema.FieldUsageLiters, 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 250.0, next)
}

func TestNew_CustomFiles(t *testing.T) {
	dir := t.TempDir()
	abs := filepath.Join(dir, "elsewhere", "w.csv")

	tr, err := New(Options{DataDir: dir, Files: map[string]string{schema.NameWeather: abs}}, zerolog.Nop())
	require.NoError(t, err)

	table, err := tr.Table(schema.NameWeather)
	require.NoError(t, err)
	assert.Equal(t, abs, table.Path())
}
