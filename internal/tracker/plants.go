package tracker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/smukkama/weather-tracker/internal/record"
	"github.com/smukkama/weather-tracker/internal/schema"
)

// WateringStatus tells when a plant was last watered and when it is due
type WateringStatus struct {
	PlantID     string
	Name        string
	Frequency   int
	LastWatered time.Time
	Watered     bool
	NextDue     time.Time
	Due         bool
}

// Plant returns the plant with the given id
func (t *Tracker) Plant(plantID string) (record.Observation, error) {
	plant, err := t.tables[schema.NamePlants].FindLatest(schema.FieldID, plantID, schema.FieldAcquired)
	if err != nil {
		return record.Observation{}, err
	}
	if plant == nil {
		return record.Observation{}, fmt.Errorf("plant %s: %w", plantID, ErrNotFound)
	}
	return *plant, nil
}

// LogWatering records that a plant was given ml of water on day
func (t *Tracker) LogWatering(ctx context.Context, plantID string, day time.Time, ml float64, notes string) (record.Observation, error) {
	if _, err := t.Plant(plantID); err != nil {
		return record.Observation{}, err
	}

	obs := record.New(day).
		Set(schema.FieldPlantID, record.Text(plantID)).
		Set(schema.FieldAmountML, record.Number(ml)).
		Set(schema.FieldNotes, record.Text(notes))
	return t.append(ctx, t.tables[schema.NameWatering], obs)
}

// LastWatered returns the latest watering of a plant, or nil if it was never watered
func (t *Tracker) LastWatered(plantID string) (*record.Observation, error) {
	return t.tables[schema.NameWatering].FindLatest(schema.FieldPlantID, plantID, schema.FieldDay)
}

// WateringDue reports whether a plant needs water at now. A plant that was
// never watered counts from the day it was acquired.
func (t *Tracker) WateringDue(plantID string, now time.Time) (WateringStatus, error) {
	plant, err := t.Plant(plantID)
	if err != nil {
		return WateringStatus{}, err
	}

	freq := 7
	if f, ok := plant.Float(schema.FieldWateringFreq); ok && f >= 1 {
		freq = int(f)
	}

	status := WateringStatus{
		PlantID:     plantID,
		Name:        plant.Get(schema.FieldName).String(),
		Frequency:   freq,
		LastWatered: plant.Timestamp,
	}

	last, err := t.LastWatered(plantID)
	if err != nil {
		return WateringStatus{}, err
	}
	if last != nil {
		status.LastWatered = last.Timestamp
		status.Watered = true
	}

	status.NextDue = status.LastWatered.AddDate(0, 0, freq)
	status.Due = !now.Before(status.NextDue)
	return status, nil
}

// AddPlant stores a new plant and returns it with its assigned id
func (t *Tracker) AddPlant(ctx context.Context, name, location string, acquired time.Time, frequency int, sunlight string) (record.Observation, error) {
	obs := record.New(acquired).
		Set(schema.FieldName, record.Text(name)).
		Set(schema.FieldLocation, record.Text(location)).
		Set(schema.FieldWateringFreq, record.Number(float64(frequency))).
		Set(schema.FieldSunlight, record.Text(sunlight))
	return t.append(ctx, t.tables[schema.NamePlants], obs)
}

// SetWateringFrequency changes how often a plant is watered, in days. The
// rewritten row is published like an appended one so the mirror sees the edit.
func (t *Tracker) SetWateringFrequency(ctx context.Context, plantID string, days int) error {
	plants := t.tables[schema.NamePlants]
	updated, err := plants.UpdateMatching(
		func(o record.Observation) bool { return o.ID == plantID },
		func(o record.Observation) record.Observation {
			return o.Set(schema.FieldWateringFreq, record.ParseNumber(strconv.Itoa(days)))
		},
	)
	if err != nil {
		return err
	}
	if len(updated) == 0 {
		return fmt.Errorf("plant %s: %w", plantID, ErrNotFound)
	}
	for _, obs := range updated {
		t.publish(ctx, plants, obs)
	}
	return nil
}
