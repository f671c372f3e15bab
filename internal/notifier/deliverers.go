// Package notifier drains the alarms topic and delivers each event
// through the notification methods its definition names for the new
// state.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/skywatchhq/skywatch/internal/errors"
	"github.com/skywatchhq/skywatch/internal/models"
)

// pagerDutyEventsURL is the generic events API endpoint. The method's
// address carries the service key.
const pagerDutyEventsURL = "https://events.pagerduty.com/generic/2010-04-15/create_event.json"

// Deliverer sends one alarm event through one notification method.
type Deliverer interface {
	Deliver(ctx context.Context, method *models.NotificationMethod, alarm *models.Alarm) error
}

// Registry maps normalized method types to their deliverer.
type Registry map[string]Deliverer

// SMTPConfig holds the email deliverer settings.
type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
}

// NewRegistry wires the built-in deliverers.
func NewRegistry(smtpCfg SMTPConfig) Registry {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	return Registry{
		models.MethodEmail:     NewEmailDeliverer(smtpCfg),
		models.MethodWebhook:   &WebhookDeliverer{client: httpClient},
		models.MethodPagerDuty: &PagerDutyDeliverer{client: httpClient, url: pagerDutyEventsURL},
	}
}

// Resolve looks up a deliverer by method type. Types are matched case
// insensitively and the historical PAGEDUTY spelling is accepted.
func (r Registry) Resolve(methodType string) (Deliverer, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(methodType))
	if normalized == "PAGEDUTY" {
		normalized = models.MethodPagerDuty
	}
	d, ok := r[normalized]
	return d, ok
}

// EmailDeliverer sends alarm events over SMTP.
type EmailDeliverer struct {
	cfg  SMTPConfig
	send func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailDeliverer(cfg SMTPConfig) *EmailDeliverer {
	if cfg.Port <= 0 {
		cfg.Port = 25
	}
	return &EmailDeliverer{cfg: cfg, send: smtp.SendMail}
}

func (d *EmailDeliverer) Deliver(_ context.Context, method *models.NotificationMethod, alarm *models.Alarm) error {
	if d.cfg.Host == "" {
		return fmt.Errorf("%w: smtp host is not configured", errors.ErrInvalidInput)
	}
	subject := fmt.Sprintf("Alarm: %s is %s", alarm.AlarmDefinition.Name, alarm.State)
	body, err := json.MarshalIndent(alarm, "", "  ")
	if err != nil {
		return err
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: application/json\r\n\r\n%s\r\n",
		d.cfg.From, method.Address, subject, body)

	var auth smtp.Auth
	if d.cfg.Username != "" {
		auth = smtp.PlainAuth("", d.cfg.Username, d.cfg.Password, d.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", d.cfg.Host, d.cfg.Port)
	if err := d.send(addr, auth, d.cfg.From, []string{method.Address}, []byte(msg)); err != nil {
		return errors.WrapUpstream("notify.email", method.Address, err)
	}
	return nil
}

// WebhookDeliverer posts the alarm event as JSON to the method address.
type WebhookDeliverer struct {
	client *http.Client
}

func (d *WebhookDeliverer) Deliver(ctx context.Context, method *models.NotificationMethod, alarm *models.Alarm) error {
	payload, err := json.Marshal(alarm)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, method.Address, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return errors.WrapUpstream("notify.webhook", method.Address, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return errors.WrapUpstream("notify.webhook", method.Address,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return nil
}

// PagerDutyDeliverer triggers or resolves an incident through the
// generic events API. The method address is the service key.
type PagerDutyDeliverer struct {
	client *http.Client
	url    string
}

func (d *PagerDutyDeliverer) Deliver(ctx context.Context, method *models.NotificationMethod, alarm *models.Alarm) error {
	eventType := "trigger"
	if alarm.State == models.StateOK {
		eventType = "resolve"
	}
	event := map[string]any{
		"service_key":  method.Address,
		"event_type":   eventType,
		"incident_key": alarm.AlarmDefinition.ID,
		"description":  fmt.Sprintf("%s is %s", alarm.AlarmDefinition.Name, alarm.State),
		"details":      alarm,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return errors.WrapUpstream("notify.pagerduty", method.ID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return errors.WrapUpstream("notify.pagerduty", method.ID,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	log.Debug().Str("incident", alarm.AlarmDefinition.ID).Str("event", eventType).Msg("PagerDuty event sent")
	return nil
}
