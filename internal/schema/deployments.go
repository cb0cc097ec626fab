package schema

import (
	"fmt"
	"math"
)

// Default date layouts for the bundled deployments
const (
	WeatherLayout = "01-02-2006"
	ISODateLayout = "2006-01-02"
)

// Deployment names
const (
	NameWeather  = "weather"
	NamePlants   = "plants"
	NameWatering = "watering"
	NameWater    = "water"
)

// Weather field names
const (
	FieldDate        = "Date"
	FieldTemperature = "Temperature"
	FieldCondition   = "Condition"
	FieldHumidity    = "Humidity"
	FieldWind        = "Wind"
)

// Plant tracker field names
const (
	FieldID           = "id"
	FieldName         = "name"
	FieldLocation     = "location"
	FieldAcquired     = "date_acquired"
	FieldWateringFreq = "watering_freq"
	FieldSunlight     = "sunlight"
	FieldPhotoPath    = "photo_path"
	FieldNotes        = "notes"
	FieldPlantID      = "plant_id"
	FieldDay          = "date"
	FieldAmountML     = "amount_ml"
)

// Water usage field names
const (
	FieldHousehold   = "household"
	FieldUsageLiters = "usage_liters"
	FieldActivity    = "activity"
)

var inf = math.Inf(1)

// Weather is the daily weather observation table
func Weather(layout string) *Schema {
	return &Schema{
		Name:   NameWeather,
		Layout: orDefault(layout, WeatherLayout),
		Columns: []Column{
			{Name: FieldDate, Kind: KindDate, Required: true},
			{Name: FieldTemperature, Kind: KindNumber, Min: -90, Max: 60},
			{Name: FieldCondition, Kind: KindText, Categorical: true},
			{Name: FieldHumidity, Kind: KindNumber, Min: 0, Max: 100},
			{Name: FieldWind, Kind: KindNumber, Min: 0, Max: inf},
		},
	}
}

// Plants is the plant inventory table
func Plants(layout string) *Schema {
	return &Schema{
		Name:   NamePlants,
		Layout: orDefault(layout, ISODateLayout),
		Columns: []Column{
			{Name: FieldID, Kind: KindID},
			{Name: FieldName, Kind: KindText, Required: true},
			{Name: FieldLocation, Kind: KindText, Categorical: true},
			{Name: FieldAcquired, Kind: KindDate, Required: true},
			{Name: FieldWateringFreq, Kind: KindNumber, Min: 1, Max: 365},
			{Name: FieldSunlight, Kind: KindText, Categorical: true},
			{Name: FieldPhotoPath, Kind: KindText},
			{Name: FieldNotes, Kind: KindText},
		},
	}
}

// Watering is the log of watering events, joined to plants by plant_id
func Watering(layout string) *Schema {
	return &Schema{
		Name:   NameWatering,
		Layout: orDefault(layout, ISODateLayout),
		Columns: []Column{
			{Name: FieldID, Kind: KindID},
			{Name: FieldPlantID, Kind: KindText, Required: true, Categorical: true},
			{Name: FieldDay, Kind: KindDate, Required: true},
			{Name: FieldAmountML, Kind: KindNumber, Min: 0, Max: inf},
			{Name: FieldNotes, Kind: KindText},
		},
	}
}

// Water is the daily household water usage table
func Water(layout string) *Schema {
	return &Schema{
		Name:   NameWater,
		Layout: orDefault(layout, ISODateLayout),
		Columns: []Column{
			{Name: FieldID, Kind: KindID},
			{Name: FieldDay, Kind: KindDate, Required: true},
			{Name: FieldHousehold, Kind: KindText, Required: true, Categorical: true},
			{Name: FieldUsageLiters, Kind: KindNumber, Min: 0, Max: inf},
			{Name: FieldActivity, Kind: KindText, Categorical: true},
		},
	}
}

// ByName returns the bundled schema for a deployment name
func ByName(name, layout string) (*Schema, error) {
	switch name {
	case NameWeather:
		return Weather(layout), nil
	case NamePlants:
		return Plants(layout), nil
	case NameWatering:
		return Watering(layout), nil
	case NameWater:
		return Water(layout), nil
	default:
		return nil, fmt.Errorf("unknown deployment: %s", name)
	}
}

func orDefault(layout, fallback string) string {
	if layout == "" {
		return fallback
	}
	return layout
}
