package alarming

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/weather-tracker/internal/analysis"
	"github.com/smukkama/weather-tracker/internal/database"
	"github.com/smukkama/weather-tracker/internal/protocol"
)

type memoryStates struct {
	mu       sync.Mutex
	states   map[string]*AlertState
	notified map[string]bool
}

func newMemoryStates() *memoryStates {
	return &memoryStates{states: make(map[string]*AlertState), notified: make(map[string]bool)}
}

func (m *memoryStates) GetState(_ context.Context, scope, subject string) (*AlertState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[stateKey(scope, subject)]; ok {
		c := *s
		return &c, nil
	}
	return &AlertState{Status: AlertStateClear}, nil
}

func (m *memoryStates) SetState(_ context.Context, scope, subject string, state *AlertState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *state
	m.states[stateKey(scope, subject)] = &c
	return nil
}

func (m *memoryStates) DeleteState(_ context.Context, scope, subject string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, stateKey(scope, subject))
	return nil
}

func (m *memoryStates) MarkNotified(_ context.Context, subject, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := subject + "/" + id
	if m.notified[key] {
		return false, nil
	}
	m.notified[key] = true
	return true, nil
}

func (m *memoryStates) ForgetNotified(_ context.Context, subject, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.notified, subject+"/"+id)
	return nil
}

type capturePublisher struct {
	alerts []*protocol.AlertNotification
	keys   []string
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, key string, value []byte) error {
	if p.err != nil {
		return p.err
	}
	alert, err := protocol.DecodeAlertNotification(value)
	if err != nil {
		return err
	}
	p.keys = append(p.keys, key)
	p.alerts = append(p.alerts, alert)
	return nil
}

type memoryHistory struct {
	next    int64
	logs    []*database.AlertLog
	cleared []int64
}

func (h *memoryHistory) InsertAlertLog(_ context.Context, alert *database.AlertLog) error {
	h.next++
	alert.AlertID = h.next
	h.logs = append(h.logs, alert)
	return nil
}

func (h *memoryHistory) UpdateAlertLogCleared(_ context.Context, alertID int64, _ time.Time) error {
	h.cleared = append(h.cleared, alertID)
	return nil
}

func newEvaluator(pub *capturePublisher, history History) (*Evaluator, *memoryStates) {
	states := newMemoryStates()
	e := NewEvaluator(states, pub, history, 1500, 0.9, zerolog.Nop())
	e.now = func() time.Time { return time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC) }
	return e, states
}

func TestEvaluateQuota_OncePerTransition(t *testing.T) {
	pub := &capturePublisher{}
	history := &memoryHistory{}
	e, _ := newEvaluator(pub, history)
	ctx := context.Background()
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	n, err := e.EvaluateQuota(ctx, "home", day, 1350)
	require.NoError(t, err)
	assert.Nil(t, n, "exactly at the limit is ok")

	n, err = e.EvaluateQuota(ctx, "home", day, 1351)
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, protocol.AlertTypeQuotaWarning, n.Type)
	assert.Equal(t, int64(1), n.AlertID)
	assert.Equal(t, 1350.0, n.Limit)

	n, err = e.EvaluateQuota(ctx, "home", day, 1420)
	require.NoError(t, err)
	assert.Nil(t, n)

	n, err = e.EvaluateQuota(ctx, "home", day, 200)
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, protocol.AlertTypeQuotaCleared, n.Type)

	n, err = e.EvaluateQuota(ctx, "home", day, 200)
	require.NoError(t, err)
	assert.Nil(t, n)

	require.Len(t, pub.alerts, 2)
	assert.Equal(t, []string{"quota-home", "quota-home"}, pub.keys)
	assert.Equal(t, []int64{1}, history.cleared)
}

func TestEvaluateQuota_NewDayStartsNewAlert(t *testing.T) {
	pub := &capturePublisher{}
	history := &memoryHistory{}
	e, _ := newEvaluator(pub, history)
	ctx := context.Background()

	_, err := e.EvaluateQuota(ctx, "home", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), 1400)
	require.NoError(t, err)

	n, err := e.EvaluateQuota(ctx, "home", time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), 1500)
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, protocol.AlertTypeQuotaWarning, n.Type)
	assert.Equal(t, "2025-06-02", n.Day)
	assert.Equal(t, []int64{1}, history.cleared)
	assert.Len(t, history.logs, 2)
}

func TestEvaluateQuota_HouseholdsAreIndependent(t *testing.T) {
	pub := &capturePublisher{}
	e, _ := newEvaluator(pub, nil)
	ctx := context.Background()
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	_, err := e.EvaluateQuota(ctx, "home", day, 1400)
	require.NoError(t, err)
	n, err := e.EvaluateQuota(ctx, "cabin", day, 1400)
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Len(t, pub.alerts, 2)
}

func TestEvaluateQuota_PublishFailureKeepsState(t *testing.T) {
	pub := &capturePublisher{err: errors.New("broker down")}
	e, states := newEvaluator(pub, nil)
	ctx := context.Background()
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	_, err := e.EvaluateQuota(ctx, "home", day, 1400)
	require.Error(t, err)

	state, err := states.GetState(ctx, protocol.ScopeQuota, "home")
	require.NoError(t, err)
	assert.Equal(t, AlertStateClear, state.Status, "a lost warning is retried on the next evaluation")

	pub.err = nil
	n, err := e.EvaluateQuota(ctx, "home", day, 1400)
	require.NoError(t, err)
	assert.NotNil(t, n)
}

func TestEvaluateAnomalies_Dedup(t *testing.T) {
	pub := &capturePublisher{}
	history := &memoryHistory{}
	e, _ := newEvaluator(pub, history)
	ctx := context.Background()

	flags := []analysis.Flag{
		{ID: "a", Value: 10, Label: analysis.Normal, Severity: analysis.Low},
		{ID: "b", Value: 900, Label: analysis.Anomaly, Severity: analysis.High},
	}

	sent, err := e.EvaluateAnomalies(ctx, "water", "usage_liters", flags)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, "b", sent[0].ObservationID)
	assert.Equal(t, "high", sent[0].Severity)
	assert.Equal(t, protocol.AlertTypeAnomalyDetected, pub.alerts[0].Type)

	flags = append(flags, analysis.Flag{ID: "c", Value: 30, Label: analysis.Anomaly, Severity: analysis.Medium})
	sent, err = e.EvaluateAnomalies(ctx, "water", "usage_liters", flags)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, "c", sent[0].ObservationID)

	assert.Len(t, pub.alerts, 2)
	require.Len(t, history.logs, 2)
	assert.Equal(t, database.AlertStatusNotified, history.logs[0].Status)
}

func TestEvaluateAnomalies_RetryAfterPublishFailure(t *testing.T) {
	pub := &capturePublisher{err: errors.New("broker down")}
	e, _ := newEvaluator(pub, nil)
	ctx := context.Background()
	flags := []analysis.Flag{{ID: "b", Value: 900, Label: analysis.Anomaly, Severity: analysis.High}}

	_, err := e.EvaluateAnomalies(ctx, "water", "usage_liters", flags)
	require.Error(t, err)

	pub.err = nil
	sent, err := e.EvaluateAnomalies(ctx, "water", "usage_liters", flags)
	require.NoError(t, err)
	assert.Len(t, sent, 1)
}
