package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/smukkama/weather-tracker/internal/record"
)

// ObservationEvent is published for every observation stored in a table
type ObservationEvent struct {
	EventID    string            `json:"event_id"`
	Table      string            `json:"table"`
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	Fields     map[string]string `json:"fields"`
	RecordedAt time.Time         `json:"recorded_at"`
}

// NewObservationEvent captures a stored observation with its fields as text
func NewObservationEvent(eventID, table string, obs record.Observation, recordedAt time.Time) *ObservationEvent {
	fields := make(map[string]string, len(obs.Fields))
	for name, v := range obs.Fields {
		fields[name] = v.String()
	}
	return &ObservationEvent{
		EventID:    eventID,
		Table:      table,
		ID:         obs.ID,
		Timestamp:  obs.Timestamp,
		Fields:     fields,
		RecordedAt: recordedAt,
	}
}

// Key is the partition key: rows of one table stay ordered
func (e *ObservationEvent) Key() string {
	return e.Table
}

// AlertNotification is the message format for alert notifications
type AlertNotification struct {
	Type          string    `json:"type"` // QUOTA_WARNING, QUOTA_CLEARED, ANOMALY_DETECTED
	Scope         string    `json:"scope"`
	Subject       string    `json:"subject"`
	Day           string    `json:"day,omitempty"`
	Total         float64   `json:"total,omitempty"`
	Quota         float64   `json:"quota,omitempty"`
	Limit         float64   `json:"limit,omitempty"`
	Ratio         float64   `json:"ratio,omitempty"`
	ObservationID string    `json:"observation_id,omitempty"`
	Field         string    `json:"field,omitempty"`
	Value         float64   `json:"value,omitempty"`
	Severity      string    `json:"severity,omitempty"`
	StartTime     time.Time `json:"start_time"`
	AlertID       int64     `json:"alert_id,omitempty"`
}

const (
	AlertTypeQuotaWarning    = "QUOTA_WARNING"
	AlertTypeQuotaCleared    = "QUOTA_CLEARED"
	AlertTypeAnomalyDetected = "ANOMALY_DETECTED"
)

const (
	ScopeQuota   = "quota"
	ScopeAnomaly = "anomaly"
)

// Key is the partition key for an alert
func (a *AlertNotification) Key() string {
	return fmt.Sprintf("%s-%s", a.Scope, a.Subject)
}

// EncodeObservationEvent encodes an ObservationEvent to JSON
func EncodeObservationEvent(e *ObservationEvent) ([]byte, error) {
	return json.Marshal(e)
}

// DecodeObservationEvent decodes JSON to ObservationEvent
func DecodeObservationEvent(data []byte) (*ObservationEvent, error) {
	var e ObservationEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	if e.Table == "" || e.ID == "" {
		return nil, fmt.Errorf("observation event is missing table or id")
	}
	return &e, nil
}

// EncodeAlertNotification encodes an AlertNotification to JSON
func EncodeAlertNotification(alert *AlertNotification) ([]byte, error) {
	return json.Marshal(alert)
}

// DecodeAlertNotification decodes JSON to AlertNotification
func DecodeAlertNotification(data []byte) (*AlertNotification, error) {
	var alert AlertNotification
	if err := json.Unmarshal(data, &alert); err != nil {
		return nil, err
	}
	return &alert, nil
}
