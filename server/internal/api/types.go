package api

import (
	"github.com/obsidianstack/alertd/pkg/labels"
	"github.com/obsidianstack/alertd/pkg/types"
	"github.com/obsidianstack/alertd/server/internal/senders"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status       string `json:"status"`
	Firing       int    `json:"firing"`
	Acknowledged int    `json:"acknowledged"`
	Suppressed   int    `json:"suppressed"`
	Resolved     int    `json:"resolved"`
	Silences     int    `json:"silences_active"`

	Senders []senders.Entry `json:"senders,omitempty"`
}

// AlertResponse is one alert in GET /api/v1/alerts/{id}.
type AlertResponse struct {
	types.Alert
	Diagnostics []DiagnosticHint `json:"diagnostics"`
}

// FireResponse is returned by POST /api/v1/alerts.
type FireResponse struct {
	ID          string `json:"id"`
	Fingerprint string `json:"fingerprint"`
}

// AckRequest is the body of POST /api/v1/alerts/{id}/ack.
type AckRequest struct {
	By      string `json:"by"`
	Comment string `json:"comment"`
}

// SilenceRequest is the body of POST /api/v1/silences. Duration uses Go
// duration syntax ("90m", "2h").
type SilenceRequest struct {
	Matchers  []labels.Matcher `json:"matchers"`
	Duration  string           `json:"duration"`
	CreatedBy string           `json:"created_by"`
	Comment   string           `json:"comment"`
}

// SilenceResponse is one silence in GET /api/v1/silences.
type SilenceResponse struct {
	ID        string           `json:"id"`
	Matchers  []labels.Matcher `json:"matchers"`
	StartsAt  string           `json:"starts_at"` // RFC3339
	EndsAt    string           `json:"ends_at"`   // RFC3339
	CreatedBy string           `json:"created_by"`
	Comment   string           `json:"comment,omitempty"`
	Active    bool             `json:"active"`
}

// StatsResponse is the payload for GET /api/v1/stats.
type StatsResponse struct {
	Timeframe         string                 `json:"timeframe"`
	Total             int                    `json:"total"`
	ByStatus          map[types.Status]int   `json:"by_status"`
	BySeverity        map[types.Severity]int `json:"by_severity"`
	BySource          map[string]int         `json:"by_source"`
	AvgResolutionSecs float64                `json:"avg_resolution_seconds"`
	EscalationRate    float64                `json:"escalation_rate"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
