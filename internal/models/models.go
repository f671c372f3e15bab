// Package models holds the wire-level data model shared by the ingress,
// the threshold engine, the persister and the notifier: metric samples,
// alarm definitions, alarm events and notification methods.
package models

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"time"
)

// State is the three-valued alarm state. OK behaves as false, ALARM as
// true and UNDETERMINED as unknown when states are combined.
type State string

const (
	StateOK           State = "OK"
	StateAlarm        State = "ALARM"
	StateUndetermined State = "UNDETERMINED"
)

// Valid reports whether s is one of the three recognized states.
func (s State) Valid() bool {
	return s == StateOK || s == StateAlarm || s == StateUndetermined
}

// Severity levels for alarm definitions. Anything unrecognized is
// normalized to SeverityLow on create and update.
const (
	SeverityLow      = "LOW"
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

// NormalizeSeverity maps unknown severity values to LOW.
func NormalizeSeverity(severity string) string {
	switch severity {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return severity
	default:
		return SeverityLow
	}
}

// Notification method types.
const (
	MethodEmail     = "EMAIL"
	MethodPagerDuty = "PAGERDUTY"
	MethodWebhook   = "WEBHOOK"
)

// Metric is a single metric sample as posted by producers. Timestamp is
// seconds since the epoch. Dimensions may be empty but never nil once the
// sample passed validation.
type Metric struct {
	Name           string            `json:"name"`
	Timestamp      float64           `json:"timestamp"`
	Value          float64           `json:"value"`
	Dimensions     map[string]string `json:"dimensions"`
	DimensionsHash string            `json:"dimensions_hash,omitempty"`

	// Provenance fields, filled by the augmenter middleware when present.
	Tenant    string `json:"tenant,omitempty"`
	TenantID  string `json:"tenant_id,omitempty"`
	User      string `json:"user,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	Source    string `json:"source,omitempty"`
}

// Envelope wraps validated ingress bodies before they are put on the bus.
type Envelope struct {
	Metric       json.RawMessage `json:"metric,omitempty"`
	Meter        json.RawMessage `json:"meter,omitempty"`
	Meta         EnvelopeMeta    `json:"meta"`
	CreationTime float64         `json:"creation_time"`
}

// EnvelopeMeta carries the request-scoped provenance of an envelope.
type EnvelopeMeta struct {
	TenantID string  `json:"tenantId"`
	Region   *string `json:"region"`
}

// MetricDescriptor identifies a metric stream by name and dimensions.
type MetricDescriptor struct {
	Name       string            `json:"name"`
	Dimensions map[string]string `json:"dimensions"`
}

// SubExprData is the normalized form of one aggregate-threshold clause of
// an alarm expression, stored with the definition as expression_data.
type SubExprData struct {
	Function   string            `json:"function"`
	MetricName string            `json:"metric_name"`
	Dimensions map[string]string `json:"dimensions"`
	Operator   string            `json:"operator"`
	Threshold  float64           `json:"threshold"`
	Period     int               `json:"period"`
	Periods    int               `json:"periods"`
}

// AlarmDefinition is the user-supplied alarm rule evaluated by the
// threshold engine.
type AlarmDefinition struct {
	ID                  string        `json:"id"`
	Name                string        `json:"name"`
	Description         string        `json:"description"`
	Expression          string        `json:"expression"`
	MatchBy             []string      `json:"match_by"`
	Severity            string        `json:"severity"`
	AlarmActions        []string      `json:"alarm_actions"`
	OkActions           []string      `json:"ok_actions"`
	UndeterminedActions []string      `json:"undetermined_actions"`
	ExpressionData      []SubExprData `json:"expression_data,omitempty"`
}

// ActionsFor returns the notification method ids configured for the given
// alarm state.
func (d *AlarmDefinition) ActionsFor(state State) []string {
	switch state {
	case StateAlarm:
		return d.AlarmActions
	case StateOK:
		return d.OkActions
	case StateUndetermined:
		return d.UndeterminedActions
	}
	return nil
}

// SubAlarm is the per-clause evaluation detail attached to an alarm event.
// CurrentValues holds one aggregate per period; nil marks a period with no
// data (UNDEFINED).
type SubAlarm struct {
	SubAlarmExpression SubExprData `json:"sub_alarm_expression"`
	SubAlarmState      State       `json:"sub_alarm_state"`
	CurrentValues      []*float64  `json:"current_values"`
}

// Alarm is the state-change event emitted by a threshold processor and
// published on the alarms topic.
type Alarm struct {
	ID                    string             `json:"id"`
	AlarmDefinition       *AlarmDefinition   `json:"alarm_definition"`
	Metrics               []MetricDescriptor `json:"metrics"`
	State                 State              `json:"state"`
	Reason                string             `json:"reason"`
	ReasonData            map[string]any     `json:"reason_data"`
	SubAlarms             []SubAlarm         `json:"sub_alarms"`
	CreatedTimestamp      string             `json:"created_timestamp"`
	UpdatedTimestamp      string             `json:"updated_timestamp"`
	StateUpdatedTimestamp string             `json:"state_updated_timestamp"`
}

// NotificationMethod is a delivery target referenced from alarm definition
// action lists.
type NotificationMethod struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Address string `json:"address"`
}

// ISO8601 renders an epoch-seconds timestamp the way alarm events carry
// timestamps on the wire.
func ISO8601(epoch float64) string {
	sec := int64(epoch)
	nsec := int64((epoch - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC().Format("2006-01-02T15:04:05Z")
}

// HashDimensions returns the md5 hex digest of the canonical JSON encoding
// of dims (sorted keys, compact separators, no HTML escaping). Samples are
// grouped by this hash in the store.
func HashDimensions(dims map[string]string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encoding a map[string]string cannot fail.
	_ = enc.Encode(dims)
	sum := md5.Sum(bytes.TrimRight(buf.Bytes(), "\n"))
	return hex.EncodeToString(sum[:])
}
