package api

import (
	"fmt"
	"sort"
	"time"

	"github.com/obsidianstack/alertd/pkg/types"
)

// Thresholds for the age hints on unacknowledged firing alerts.
const (
	staleWarnAge = time.Hour
	staleCritAge = 4 * time.Hour
)

// DiagnosticHint is one human-readable insight about an alert. The UI shows
// these as chips on the alert card; Detail is the explanation on click.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level  string `json:"level"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
	// Value is an optional number tied to the hint (minutes, level, count).
	Value *float64 `json:"value,omitempty"`
}

var levelRank = map[string]int{"critical": 0, "warning": 1, "info": 2, "ok": 3}

// computeDiagnostics derives hints from an alert's bookkeeping at now.
// Hints are ordered critical first, then warnings, then info.
func computeDiagnostics(a types.Alert, now time.Time) []DiagnosticHint {
	var hints []DiagnosticHint

	switch a.Status {
	// ── Resolved ─────────────────────────────────────────────────────────────
	case types.StatusResolved:
		detail := "This alert is closed."
		var v *float64
		if a.ResolvedAt != nil {
			mins := a.ResolvedAt.Sub(a.StartsAt).Minutes()
			v = &mins
			detail = fmt.Sprintf("This alert was open for %.0f minutes before it resolved.", mins)
		}
		if by := a.Annotations["resolved_by"]; by != "" {
			detail += fmt.Sprintf(" It was resolved by %s.", by)
		}
		return []DiagnosticHint{{Key: "resolved", Level: "ok", Title: "Resolved", Detail: detail, Value: v}}

	// ── Suppressed ───────────────────────────────────────────────────────────
	case types.StatusSuppressed:
		detail := "A silence matches this alert, so no notifications go out and escalation is paused."
		if a.SilencedUntil != nil {
			left := a.SilencedUntil.Sub(now).Round(time.Minute)
			detail = fmt.Sprintf(
				"A silence matches this alert until %s (%s from now). "+
					"No notifications go out and escalation is paused. "+
					"If the condition is still present when the silence ends, escalation resumes "+
					"from level %d.",
				a.SilencedUntil.UTC().Format(time.RFC3339), left, a.EscalationLevel+1,
			)
		}
		hints = append(hints, DiagnosticHint{Key: "silenced", Level: "info", Title: "Silenced", Detail: detail})

	// ── Acknowledged ─────────────────────────────────────────────────────────
	case types.StatusAcknowledged:
		detail := fmt.Sprintf("%s acknowledged this alert, so escalation has stopped at level %d.",
			a.AcknowledgedBy, a.EscalationLevel)
		if c := a.Annotations["acknowledge_comment"]; c != "" {
			detail += fmt.Sprintf(" Their note: %q.", c)
		}
		hints = append(hints, DiagnosticHint{Key: "acknowledged", Level: "info", Title: "Acknowledged", Detail: detail})

	// ── Firing ───────────────────────────────────────────────────────────────
	case types.StatusFiring:
		age := now.Sub(a.StartsAt)
		mins := age.Minutes()
		switch {
		case age >= staleCritAge:
			hints = append(hints, DiagnosticHint{
				Key:   "unacknowledged",
				Level: "critical",
				Title: "Nobody has picked this up",
				Detail: fmt.Sprintf(
					"This alert has been firing for %.0f minutes without acknowledgement. "+
						"Check that the escalation policy reaches someone who is on call.",
					mins,
				),
				Value: &mins,
			})
		case age >= staleWarnAge:
			hints = append(hints, DiagnosticHint{
				Key:    "unacknowledged",
				Level:  "warning",
				Title:  "Unacknowledged",
				Detail: fmt.Sprintf("This alert has been firing for %.0f minutes without acknowledgement.", mins),
				Value:  &mins,
			})
		}
		if a.EscalationLevel == 0 {
			hints = append(hints, DiagnosticHint{
				Key:   "no_policy",
				Level: "warning",
				Title: "Not escalating",
				Detail: "No escalation policy has picked this alert up, so nobody has been notified. " +
					"Either no policy's label selectors match it, or it was released from a silence " +
					"and the next escalation tick has not run yet.",
			})
		}
	}

	// ── Delivery ─────────────────────────────────────────────────────────────
	if a.EscalationLevel > 0 && a.NotificationsSent == 0 {
		hints = append(hints, DiagnosticHint{
			Key:   "undelivered",
			Level: "warning",
			Title: "No notification delivered",
			Detail: fmt.Sprintf(
				"The alert reached escalation level %d but no channel accepted a notification. "+
					"The channels may be disabled, filter out %s alerts, be outside their time "+
					"restrictions, or their transport failed. The server log has the reason per channel.",
				a.EscalationLevel, a.Severity,
			),
		})
	}
	if a.EscalationLevel > 1 {
		v := float64(a.EscalationLevel)
		hints = append(hints, DiagnosticHint{
			Key:    "escalated",
			Level:  "warning",
			Title:  fmt.Sprintf("Escalated to level %d", a.EscalationLevel),
			Detail: fmt.Sprintf("Earlier levels did not acknowledge in time. %d notifications sent so far.", a.NotificationsSent),
			Value:  &v,
		})
	}

	if len(hints) == 0 {
		hints = append(hints, DiagnosticHint{
			Key:    "notified",
			Level:  "ok",
			Title:  "On track",
			Detail: fmt.Sprintf("Level %d has been notified and the next level is not due yet.", a.EscalationLevel),
		})
	}

	sort.SliceStable(hints, func(i, j int) bool {
		return levelRank[hints[i].Level] < levelRank[hints[j].Level]
	})
	return hints
}
