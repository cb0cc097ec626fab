package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/smukkama/weather-tracker/internal/protocol"
	"github.com/smukkama/weather-tracker/internal/record"
)

// MessagePublisher is the producing side of a topic; Producer satisfies it
type MessagePublisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// ObservationPublisher turns stored observations into events on a topic
type ObservationPublisher struct {
	producer MessagePublisher
	newID    func() string
	now      func() time.Time
}

// NewObservationPublisher creates a publisher writing through producer
func NewObservationPublisher(producer MessagePublisher) *ObservationPublisher {
	return &ObservationPublisher{producer: producer, newID: uuid.NewString, now: time.Now}
}

// PublishObservation sends one observation keyed by its table
func (p *ObservationPublisher) PublishObservation(ctx context.Context, table string, obs record.Observation) error {
	event := protocol.NewObservationEvent(p.newID(), table, obs, p.now().UTC())

	data, err := protocol.EncodeObservationEvent(event)
	if err != nil {
		return fmt.Errorf("failed to encode observation event: %w", err)
	}
	return p.producer.Publish(ctx, event.Key(), data)
}
