package alarming

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/smukkama/weather-tracker/internal/analysis"
	"github.com/smukkama/weather-tracker/internal/database"
	"github.com/smukkama/weather-tracker/internal/metrics"
	"github.com/smukkama/weather-tracker/internal/protocol"
)

// Publisher sends an encoded alert; queue.Producer satisfies it
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// History records alerts durably; database.DB satisfies it
type History interface {
	InsertAlertLog(ctx context.Context, alert *database.AlertLog) error
	UpdateAlertLogCleared(ctx context.Context, alertID int64, endTime time.Time) error
}

// Evaluator turns quota checks and anomaly flags into alert notifications,
// emitting each alert once per state transition
type Evaluator struct {
	states    StateStore
	publisher Publisher
	history   History
	quota     float64
	ratio     float64
	logger    zerolog.Logger
	now       func() time.Time
}

// NewEvaluator creates a new alert evaluator. history may be nil.
func NewEvaluator(states StateStore, publisher Publisher, history History, quota, ratio float64, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		states:    states,
		publisher: publisher,
		history:   history,
		quota:     quota,
		ratio:     ratio,
		logger:    logger.With().Str("component", "alarming").Logger(),
		now:       time.Now,
	}
}

// EvaluateQuota checks a household's usage total for day. It returns the
// notification it emitted, or nil when the alert state did not change.
func (e *Evaluator) EvaluateQuota(ctx context.Context, household string, day time.Time, total float64) (*protocol.AlertNotification, error) {
	status := analysis.EvaluateThreshold(total, e.quota, e.ratio)

	state, err := e.states.GetState(ctx, protocol.ScopeQuota, household)
	if err != nil {
		return nil, err
	}

	now := e.now()
	dayKey := day.Format("2006-01-02")

	if status == analysis.StatusWarning {
		return e.handleBreach(ctx, household, dayKey, total, state, now)
	}
	return e.handleNoBreach(ctx, household, dayKey, total, state, now)
}

func (e *Evaluator) handleBreach(ctx context.Context, household, day string, total float64, state *AlertState, now time.Time) (*protocol.AlertNotification, error) {
	if state.Status == AlertStateActive && state.Day == day {
		// Alert already active, update last checked
		state.LastChecked = now
		state.Total = total
		return nil, e.states.SetState(ctx, protocol.ScopeQuota, household, state)
	}

	if state.Status == AlertStateActive {
		// Still over quota on a new day: the old alert ends, a new one starts
		e.closeHistory(ctx, state.AlertID, now)
	}

	return e.triggerQuota(ctx, household, day, total, now)
}

func (e *Evaluator) handleNoBreach(ctx context.Context, household, day string, total float64, state *AlertState, now time.Time) (*protocol.AlertNotification, error) {
	if state.Status != AlertStateActive {
		// Nothing to do
		return nil, nil
	}
	return e.clearQuota(ctx, household, day, total, state, now)
}

func (e *Evaluator) triggerQuota(ctx context.Context, household, day string, total float64, now time.Time) (*protocol.AlertNotification, error) {
	limit := e.quota * e.ratio
	e.logger.Warn().
		Str("household", household).
		Str("day", day).
		Float64("total", total).
		Float64("limit", limit).
		Msg("quota warning triggered")

	notification := &protocol.AlertNotification{
		Type:      protocol.AlertTypeQuotaWarning,
		Scope:     protocol.ScopeQuota,
		Subject:   household,
		Day:       day,
		Total:     total,
		Quota:     e.quota,
		Limit:     limit,
		Ratio:     analysis.UsageRatio(total, e.quota),
		StartTime: now,
	}

	if e.history != nil {
		details, _ := json.Marshal(map[string]any{"day": day, "quota": e.quota, "ratio": e.ratio})
		alertLog := &database.AlertLog{
			Type:      notification.Type,
			Scope:     protocol.ScopeQuota,
			Subject:   household,
			Value:     total,
			Threshold: &limit,
			Details:   string(details),
			StartTime: now,
			Status:    database.AlertStatusActive,
		}
		if err := e.history.InsertAlertLog(ctx, alertLog); err != nil {
			return nil, fmt.Errorf("failed to insert alert log: %w", err)
		}
		notification.AlertID = alertLog.AlertID
	}

	if err := e.send(ctx, notification); err != nil {
		return nil, err
	}

	state := &AlertState{
		Status:      AlertStateActive,
		Day:         day,
		StartTime:   now,
		LastChecked: now,
		Total:       total,
		AlertID:     notification.AlertID,
	}
	if err := e.states.SetState(ctx, protocol.ScopeQuota, household, state); err != nil {
		return nil, err
	}
	return notification, nil
}

func (e *Evaluator) clearQuota(ctx context.Context, household, day string, total float64, state *AlertState, now time.Time) (*protocol.AlertNotification, error) {
	e.logger.Info().
		Str("household", household).
		Str("day", day).
		Float64("total", total).
		Msg("quota warning cleared")

	notification := &protocol.AlertNotification{
		Type:      protocol.AlertTypeQuotaCleared,
		Scope:     protocol.ScopeQuota,
		Subject:   household,
		Day:       day,
		Total:     total,
		Quota:     e.quota,
		Limit:     e.quota * e.ratio,
		Ratio:     analysis.UsageRatio(total, e.quota),
		StartTime: state.StartTime,
		AlertID:   state.AlertID,
	}

	if err := e.send(ctx, notification); err != nil {
		return nil, err
	}

	e.closeHistory(ctx, state.AlertID, now)

	if err := e.states.DeleteState(ctx, protocol.ScopeQuota, household); err != nil {
		return nil, err
	}
	return notification, nil
}

// EvaluateAnomalies emits one ANOMALY_DETECTED per flagged row of table that
// has not been notified before
func (e *Evaluator) EvaluateAnomalies(ctx context.Context, table, field string, flags []analysis.Flag) ([]*protocol.AlertNotification, error) {
	var sent []*protocol.AlertNotification

	for _, f := range analysis.Anomalies(flags) {
		isNew, err := e.states.MarkNotified(ctx, table, f.ID)
		if err != nil {
			return sent, err
		}
		if !isNew {
			continue
		}

		notification := &protocol.AlertNotification{
			Type:          protocol.AlertTypeAnomalyDetected,
			Scope:         protocol.ScopeAnomaly,
			Subject:       table,
			Day:           f.Timestamp.Format("2006-01-02"),
			ObservationID: f.ID,
			Field:         field,
			Value:         f.Value,
			Severity:      f.Severity.String(),
			StartTime:     e.now(),
		}

		if e.history != nil {
			id := f.ID
			details, _ := json.Marshal(map[string]any{"field": field, "severity": notification.Severity})
			alertLog := &database.AlertLog{
				Type:          notification.Type,
				Scope:         protocol.ScopeAnomaly,
				Subject:       table,
				ObservationID: &id,
				Value:         f.Value,
				Details:       string(details),
				StartTime:     notification.StartTime,
				Status:        database.AlertStatusNotified,
			}
			if err := e.history.InsertAlertLog(ctx, alertLog); err != nil {
				e.logger.Error().Err(err).Str("id", f.ID).Msg("failed to insert alert log")
			} else {
				notification.AlertID = alertLog.AlertID
			}
		}

		if err := e.send(ctx, notification); err != nil {
			if ferr := e.states.ForgetNotified(ctx, table, f.ID); ferr != nil {
				e.logger.Error().Err(ferr).Str("id", f.ID).Msg("failed to reset notified anomaly")
			}
			return sent, err
		}

		e.logger.Warn().
			Str("table", table).
			Str("id", f.ID).
			Float64("value", f.Value).
			Str("severity", notification.Severity).
			Msg("anomaly detected")
		sent = append(sent, notification)
	}

	return sent, nil
}

func (e *Evaluator) closeHistory(ctx context.Context, alertID int64, now time.Time) {
	if e.history == nil || alertID <= 0 {
		return
	}
	if err := e.history.UpdateAlertLogCleared(ctx, alertID, now); err != nil {
		e.logger.Error().Err(err).Int64("alert_id", alertID).Msg("failed to update alert log")
	}
}

func (e *Evaluator) send(ctx context.Context, notification *protocol.AlertNotification) error {
	data, err := protocol.EncodeAlertNotification(notification)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	if err := e.publisher.Publish(ctx, notification.Key(), data); err != nil {
		metrics.AlertsPublished.WithLabelValues(notification.Type, "error").Inc()
		return fmt.Errorf("failed to publish %s: %w", notification.Type, err)
	}

	metrics.AlertsPublished.WithLabelValues(notification.Type, "ok").Inc()
	return nil
}
