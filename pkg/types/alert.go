package types

import (
	"time"
)

// Severity ranks an alert.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityWarning, SeverityInfo:
		return true
	}
	return false
}

// Status is the lifecycle state of an alert.
type Status string

const (
	StatusFiring       Status = "firing"
	StatusAcknowledged Status = "acknowledged"
	StatusSuppressed   Status = "suppressed"
	StatusResolved     Status = "resolved"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusFiring, StatusAcknowledged, StatusSuppressed, StatusResolved:
		return true
	}
	return false
}

// Signal is one observation that an alert condition holds. Repeated
// signals with the same name and labels refer to the same alert.
type Signal struct {
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	Severity     Severity          `json:"severity"`
	Source       string            `json:"source,omitempty"`
	Metric       string            `json:"metric,omitempty"`
	CurrentValue float64           `json:"current_value"`
	Threshold    float64           `json:"threshold"`
	Condition    string            `json:"condition,omitempty"`
	Labels       map[string]string `json:"labels,omitempty"`
	Annotations  map[string]string `json:"annotations,omitempty"`
}

// Alert is one detected anomaly and its notification bookkeeping.
type Alert struct {
	ID          string `json:"id"`
	Fingerprint string `json:"fingerprint"`

	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Severity     Severity `json:"severity"`
	Source       string   `json:"source,omitempty"`
	Metric       string   `json:"metric,omitempty"`
	CurrentValue float64  `json:"current_value"`
	Threshold    float64  `json:"threshold"`
	Condition    string   `json:"condition,omitempty"`

	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`

	Status         Status     `json:"status"`
	StartsAt       time.Time  `json:"starts_at"`
	EndsAt         *time.Time `json:"ends_at,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	SilencedUntil  *time.Time `json:"silenced_until,omitempty"`

	EscalationLevel    int        `json:"escalation_level"`
	NotificationsSent  int        `json:"notifications_sent"`
	LastNotificationAt *time.Time `json:"last_notification_at,omitempty"`
}

// Active reports whether the alert still holds its fingerprint.
func (a *Alert) Active() bool {
	return a.Status != StatusResolved
}

// Clone returns a deep copy of a.
func (a *Alert) Clone() Alert {
	cp := *a
	cp.Labels = copyMap(a.Labels)
	cp.Annotations = copyMap(a.Annotations)
	cp.EndsAt = copyTime(a.EndsAt)
	cp.ResolvedAt = copyTime(a.ResolvedAt)
	cp.AcknowledgedAt = copyTime(a.AcknowledgedAt)
	cp.SilencedUntil = copyTime(a.SilencedUntil)
	cp.LastNotificationAt = copyTime(a.LastNotificationAt)
	return cp
}

// TemplateData exposes the alert to notification templates under the same
// names it carries on the wire.
func (a *Alert) TemplateData() map[string]any {
	return map[string]any{
		"id":                   a.ID,
		"fingerprint":          a.Fingerprint,
		"name":                 a.Name,
		"description":          a.Description,
		"severity":             string(a.Severity),
		"source":               a.Source,
		"metric":               a.Metric,
		"current_value":        a.CurrentValue,
		"threshold":            a.Threshold,
		"condition":            a.Condition,
		"labels":               copyMap(a.Labels),
		"annotations":          copyMap(a.Annotations),
		"status":               string(a.Status),
		"starts_at":            a.StartsAt,
		"ends_at":              a.EndsAt,
		"resolved_at":          a.ResolvedAt,
		"acknowledged_at":      a.AcknowledgedAt,
		"acknowledged_by":      a.AcknowledgedBy,
		"silenced_until":       a.SilencedUntil,
		"escalation_level":     a.EscalationLevel,
		"notifications_sent":   a.NotificationsSent,
		"last_notification_at": a.LastNotificationAt,
	}
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
