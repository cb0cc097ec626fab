package notification

import (
	"bytes"
	"fmt"
	"net/smtp"
	"strings"
	"text/template"
	"time"

	"github.com/rs/zerolog"

	"github.com/smukkama/weather-tracker/internal/protocol"
	"github.com/smukkama/weather-tracker/pkg/config"
)

var templates = template.Must(template.New("alerts").Funcs(template.FuncMap{
	"percent": func(r float64) string { return fmt.Sprintf("%.0f%%", r*100) },
	"liters":  func(v float64) string { return fmt.Sprintf("%.1f L", v) },
}).Parse(`
{{define "QUOTA_WARNING"}}
Water Usage Warning
===================

Household: {{.Subject}}
Day: {{.Day}}
Usage: {{liters .Total}} of {{liters .Quota}} ({{percent .Ratio}})
Warning Limit: {{liters .Limit}}
Alert ID: {{.AlertID}}

Description:
Water use for {{.Subject}} on {{.Day}} has passed the warning limit of
{{liters .Limit}}. Consider cutting back on heavy uses for the rest of the day.

---
WaterGuard Notification System
{{end}}

{{define "QUOTA_CLEARED"}}
Water Usage Back Under Limit
============================

Household: {{.Subject}}
Day: {{.Day}}
Usage: {{liters .Total}} of {{liters .Quota}}
Alert ID: {{.AlertID}}

Description:
Water use for {{.Subject}} is back under the warning limit of {{liters .Limit}}.

---
WaterGuard Notification System
{{end}}

{{define "ANOMALY_DETECTED"}}
Unusual Reading Detected
========================

Table: {{.Subject}}
Row: {{.ObservationID}}
Date: {{.Day}}
Field: {{.Field}}
Value: {{.Value}}
Severity: {{.Severity}}

Description:
The {{.Field}} value {{.Value}} recorded on {{.Day}} stands out from the rest
of the {{.Subject}} data. Please check whether it was entered correctly.

---
WaterGuard Notification System
{{end}}
`))

// EmailNotifier sends email notifications
type EmailNotifier struct {
	config   *config.SMTPConfig
	logger   zerolog.Logger
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailNotifier creates a new email notifier
func NewEmailNotifier(cfg *config.SMTPConfig, logger zerolog.Logger) *EmailNotifier {
	return &EmailNotifier{
		config:   cfg,
		logger:   logger.With().Str("component", "notification").Logger(),
		sendMail: smtp.SendMail,
	}
}

// Subject returns the email subject line for an alert
func Subject(n *protocol.AlertNotification) (string, error) {
	switch n.Type {
	case protocol.AlertTypeQuotaWarning:
		return fmt.Sprintf("Water usage warning - %s, %s", n.Subject, n.Day), nil
	case protocol.AlertTypeQuotaCleared:
		return fmt.Sprintf("Water usage back under limit - %s, %s", n.Subject, n.Day), nil
	case protocol.AlertTypeAnomalyDetected:
		return fmt.Sprintf("Unusual %s reading (%s) - %s", n.Field, n.Severity, n.Subject), nil
	default:
		return "", fmt.Errorf("unknown notification type: %s", n.Type)
	}
}

// Render returns the email body for an alert
func Render(n *protocol.AlertNotification) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, n.Type, n); err != nil {
		return "", err
	}
	return strings.TrimLeft(buf.String(), "\n"), nil
}

// SendAlertNotification sends an email for an alert notification
func (e *EmailNotifier) SendAlertNotification(n *protocol.AlertNotification) error {
	subject, err := Subject(n)
	if err != nil {
		return err
	}

	body, err := Render(n)
	if err != nil {
		return fmt.Errorf("failed to render email template: %w", err)
	}

	return e.sendEmail(subject, body)
}

func (e *EmailNotifier) sendEmail(subject, body string) error {
	// Skip sending if SMTP is not configured
	if e.config.Username == "" || e.config.Password == "" {
		e.logger.Info().Str("subject", subject).Str("body", body).Msg("SMTP not configured, skipping email")
		return nil
	}

	// Construct message
	message := fmt.Sprintf("From: %s\r\n", e.config.From)
	message += fmt.Sprintf("To: %s\r\n", e.config.To)
	message += fmt.Sprintf("Subject: %s\r\n", subject)
	message += fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	message += "\r\n"
	message += body

	// Setup authentication
	auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)

	// Send email
	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	if err := e.sendMail(addr, auth, e.config.From, []string{e.config.To}, []byte(message)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	e.logger.Info().Str("subject", subject).Msg("email sent")
	return nil
}

// TestConnection tests the SMTP connection
func (e *EmailNotifier) TestConnection() error {
	if e.config.Username == "" {
		return fmt.Errorf("SMTP not configured")
	}

	// Try to connect
	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	e.logger.Info().Str("addr", addr).Msg("SMTP connection test successful")
	return nil
}
