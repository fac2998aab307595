package alerts

import (
	"time"

	"github.com/obsidianstack/alertd/pkg/types"
)

// Stats summarises the alerts that started within a timeframe.
type Stats struct {
	Total      int                    `json:"total"`
	ByStatus   map[types.Status]int   `json:"by_status"`
	BySeverity map[types.Severity]int `json:"by_severity"`
	BySource   map[string]int         `json:"by_source"`

	// AvgResolutionTime is the mean StartsAt→ResolvedAt of the resolved
	// alerts in the set, zero when none resolved.
	AvgResolutionTime time.Duration `json:"avg_resolution_time"`

	// EscalationRate is the share of alerts that went past level 1, 0..1.
	EscalationRate float64 `json:"escalation_rate"`
}

// Stats aggregates alerts whose StartsAt lies within timeframe of now. A
// non-positive timeframe covers every alert held.
func (m *Manager) Stats(timeframe time.Duration) Stats {
	var f Filter
	if timeframe > 0 {
		f.Since = m.clock.Now().Add(-timeframe)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st := Stats{
		ByStatus:   make(map[types.Status]int),
		BySeverity: make(map[types.Severity]int),
		BySource:   make(map[string]int),
	}
	var (
		resolved  int
		totalRes  time.Duration
		escalated int
	)
	for _, a := range m.alerts.List(f) {
		st.Total++
		st.ByStatus[a.Status]++
		st.BySeverity[a.Severity]++
		src := a.Source
		if src == "" {
			src = "unknown"
		}
		st.BySource[src]++
		if a.ResolvedAt != nil {
			resolved++
			totalRes += a.ResolvedAt.Sub(a.StartsAt)
		}
		if a.EscalationLevel > 1 {
			escalated++
		}
	}
	if resolved > 0 {
		st.AvgResolutionTime = totalRes / time.Duration(resolved)
	}
	if st.Total > 0 {
		st.EscalationRate = float64(escalated) / float64(st.Total)
	}
	return st
}
