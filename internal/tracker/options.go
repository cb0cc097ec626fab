package tracker

import (
	"github.com/smukkama/weather-tracker/internal/schema"
	"github.com/smukkama/weather-tracker/pkg/config"
)

// OptionsFromConfig maps the store and alert settings onto tracker options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		DataDir: cfg.Store.DataDir,
		Files: map[string]string{
			schema.NameWeather:  cfg.Store.WeatherFile,
			schema.NamePlants:   cfg.Store.PlantsFile,
			schema.NameWatering: cfg.Store.WateringFile,
			schema.NameWater:    cfg.Store.WaterFile,
		},
		WeatherLayout: cfg.Store.WeatherLayout,
		DateLayout:    cfg.Store.DateLayout,
		DailyQuota:    cfg.Alerts.DailyQuota,
		WarningRatio:  cfg.Alerts.WarningRatio,
	}
}
