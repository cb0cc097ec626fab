package database

import (
	"time"
)

// Observation is the Postgres mirror of one table row
type Observation struct {
	Table      string
	ID         string
	ObservedAt time.Time
	Fields     string // JSON
	EventID    string
	RecordedAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AlertLog represents a logged alert event
type AlertLog struct {
	AlertID       int64
	Type          string
	Scope         string
	Subject       string
	ObservationID *string
	Value         float64
	Threshold     *float64
	Details       string // JSON
	StartTime     time.Time
	EndTime       *time.Time
	Status        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

const (
	AlertStatusActive  = "ACTIVE"
	AlertStatusCleared = "CLEARED"
	// Anomalies have no clear transition
	AlertStatusNotified = "NOTIFIED"
)
