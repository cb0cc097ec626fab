package tracker

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/weather-tracker/internal/schema"
	"github.com/smukkama/weather-tracker/pkg/config"
)

func TestOptionsFromConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Store: config.StoreConfig{
			DataDir:       dir,
			WeatherFile:   "w.csv",
			WaterFile:     filepath.Join(dir, "abs", "water.csv"),
			WeatherLayout: "2006-01-02",
			DateLayout:    "2006-01-02",
		},
		Alerts: config.AlertsConfig{DailyQuota: 1000, WarningRatio: 0.8},
	}

	opts := OptionsFromConfig(cfg)
	assert.Equal(t, 1000.0, opts.DailyQuota)
	assert.Equal(t, 0.8, opts.WarningRatio)

	tr, err := New(opts, zerolog.Nop())
	require.NoError(t, err)

	weather, err := tr.Table(schema.NameWeather)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "w.csv"), weather.Path())

	water, err := tr.Table(schema.NameWater)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "abs", "water.csv"), water.Path())

	// Empty file names fall back to the defaults
	plants, err := tr.Table(schema.NamePlants)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, DefaultFiles[schema.NamePlants]), plants.Path())
}
