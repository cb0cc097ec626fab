package notification

import (
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/weather-tracker/internal/protocol"
	"github.com/smukkama/weather-tracker/pkg/config"
)

func quotaWarning() *protocol.AlertNotification {
	return &protocol.AlertNotification{
		Type:    protocol.AlertTypeQuotaWarning,
		Scope:   protocol.ScopeQuota,
		Subject: "home",
		Day:     "2025-06-01",
		Total:   1400,
		Quota:   1500,
		Limit:   1350,
		Ratio:   1400.0 / 1500.0,
		AlertID: 4,
	}
}

func TestRender_QuotaWarning(t *testing.T) {
	body, err := Render(quotaWarning())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(body, "Water Usage Warning"))
	assert.Contains(t, body, "Usage: 1400.0 L of 1500.0 L (93%)")
	assert.Contains(t, body, "Warning Limit: 1350.0 L")
	assert.Contains(t, body, "Alert ID: 4")
}

func TestRender_Anomaly(t *testing.T) {
	body, err := Render(&protocol.AlertNotification{
		Type:          protocol.AlertTypeAnomalyDetected,
		Subject:       "water",
		ObservationID: "row-9",
		Day:           "2025-06-01",
		Field:         "usage_liters",
		Value:         900,
		Severity:      "high",
	})
	require.NoError(t, err)
	assert.Contains(t, body, "Row: row-9")
	assert.Contains(t, body, "Severity: high")
}

func TestSubject_UnknownType(t *testing.T) {
	_, err := Subject(&protocol.AlertNotification{Type: "SOMETHING"})
	assert.Error(t, err)
}

func TestSendAlertNotification_Unconfigured(t *testing.T) {
	n := NewEmailNotifier(&config.SMTPConfig{}, zerolog.Nop())
	n.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("should not send without credentials")
		return nil
	}

	assert.NoError(t, n.SendAlertNotification(quotaWarning()))
}

func TestSendAlertNotification_Sends(t *testing.T) {
	cfg := &config.SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "u", Password: "p", From: "a@example.com", To: "b@example.com"}
	n := NewEmailNotifier(cfg, zerolog.Nop())

	var gotAddr string
	var gotMsg []byte
	n.sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotMsg = addr, msg
		assert.Equal(t, "a@example.com", from)
		assert.Equal(t, []string{"b@example.com"}, to)
		return nil
	}

	require.NoError(t, n.SendAlertNotification(quotaWarning()))
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Contains(t, string(gotMsg), "Subject: Water usage warning - home, 2025-06-01\r\n")
}

func TestSendAlertNotification_SendFailure(t *testing.T) {
	cfg := &config.SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "u", Password: "p"}
	n := NewEmailNotifier(cfg, zerolog.Nop())
	n.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	}

	assert.Error(t, n.SendAlertNotification(quotaWarning()))
}
