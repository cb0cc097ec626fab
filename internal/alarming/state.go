package alarming

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// AlertState represents the current state of a quota alert
type AlertState struct {
	Status      string    `json:"status"` // CLEAR, ALARMING
	Day         string    `json:"day,omitempty"`
	StartTime   time.Time `json:"start_time"`
	LastChecked time.Time `json:"last_checked"`
	Total       float64   `json:"total"`
	AlertID     int64     `json:"alert_id,omitempty"`
}

const (
	AlertStateClear  = "CLEAR"
	AlertStateActive = "ALARMING"
)

// DefaultStateTTL lets stale states expire on their own
const DefaultStateTTL = 7 * 24 * time.Hour

// StateStore keeps alert states and the set of anomalies already notified
type StateStore interface {
	GetState(ctx context.Context, scope, subject string) (*AlertState, error)
	SetState(ctx context.Context, scope, subject string, state *AlertState) error
	DeleteState(ctx context.Context, scope, subject string) error
	// MarkNotified records id under subject and reports whether it was new
	MarkNotified(ctx context.Context, subject, id string) (bool, error)
	ForgetNotified(ctx context.Context, subject, id string) error
}

// StateManager manages alert states in Redis
type StateManager struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewStateManager creates a new state manager
func NewStateManager(redisClient *redis.Client, ttl time.Duration) *StateManager {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateManager{redis: redisClient, ttl: ttl}
}

func stateKey(scope, subject string) string {
	return fmt.Sprintf("alert_state:%s:%s", scope, subject)
}

func notifiedKey(subject string) string {
	return fmt.Sprintf("alert_notified:%s", subject)
}

// GetState retrieves the alert state for a scope and subject
func (sm *StateManager) GetState(ctx context.Context, scope, subject string) (*AlertState, error) {
	data, err := sm.redis.Get(ctx, stateKey(scope, subject)).Result()
	if err == redis.Nil {
		// No state exists, return CLEAR state
		return &AlertState{Status: AlertStateClear}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state from Redis: %w", err)
	}

	var state AlertState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return &state, nil
}

// SetState saves the alert state for a scope and subject
func (sm *StateManager) SetState(ctx context.Context, scope, subject string, state *AlertState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := sm.redis.Set(ctx, stateKey(scope, subject), data, sm.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set state in Redis: %w", err)
	}

	return nil
}

// DeleteState removes the alert state (returns to CLEAR)
func (sm *StateManager) DeleteState(ctx context.Context, scope, subject string) error {
	return sm.redis.Del(ctx, stateKey(scope, subject)).Err()
}

// MarkNotified adds id to the notified set of subject
func (sm *StateManager) MarkNotified(ctx context.Context, subject, id string) (bool, error) {
	key := notifiedKey(subject)

	pipe := sm.redis.TxPipeline()
	added := pipe.SAdd(ctx, key, id)
	pipe.Expire(ctx, key, sm.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to mark %s notified: %w", id, err)
	}

	return added.Val() == 1, nil
}

// ForgetNotified removes id from the notified set so it is sent again
func (sm *StateManager) ForgetNotified(ctx context.Context, subject, id string) error {
	return sm.redis.SRem(ctx, notifiedKey(subject), id).Err()
}

// GetAllStates returns all stored alert states (for monitoring)
func (sm *StateManager) GetAllStates(ctx context.Context) (map[string]*AlertState, error) {
	states := make(map[string]*AlertState)

	iter := sm.redis.Scan(ctx, 0, "alert_state:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := sm.redis.Get(ctx, key).Result()
		if err != nil {
			continue
		}

		var state AlertState
		if err := json.Unmarshal([]byte(data), &state); err != nil {
			continue
		}

		states[key] = &state
	}

	return states, iter.Err()
}
