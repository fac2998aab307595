package alerts

import (
	"time"

	"github.com/obsidianstack/alertd/pkg/types"
)

// escalator holds the escalation policies in registration order.
type escalator struct {
	policies []types.EscalationPolicy
}

// Register appends p, or replaces the policy with the same ID in place.
func (e *escalator) Register(p types.EscalationPolicy) {
	for i := range e.policies {
		if e.policies[i].ID == p.ID {
			e.policies[i] = p
			return
		}
	}
	e.policies = append(e.policies, p)
}

// Set replaces every policy.
func (e *escalator) Set(ps []types.EscalationPolicy) {
	e.policies = append([]types.EscalationPolicy(nil), ps...)
}

// PolicyFor returns the first policy whose selectors all match lbls.
func (e *escalator) PolicyFor(lbls map[string]string) (types.EscalationPolicy, bool) {
	for _, p := range e.policies {
		if p.Matches(lbls) {
			return p, true
		}
	}
	return types.EscalationPolicy{}, false
}

// advance moves a to the next level of p when that level exists and its
// wait time has passed since the last notification (or since the alert
// started). immediate skips the wait, for the first dispatch on fire.
// It returns the level reached.
func advance(a *types.Alert, p types.EscalationPolicy, now time.Time, immediate bool) (types.EscalationLevel, bool) {
	next, ok := p.Level(a.EscalationLevel + 1)
	if !ok {
		return types.EscalationLevel{}, false
	}
	if !immediate {
		since := a.StartsAt
		if a.LastNotificationAt != nil {
			since = *a.LastNotificationAt
		}
		if now.Sub(since) < next.WaitTime {
			return types.EscalationLevel{}, false
		}
	}
	a.EscalationLevel = next.Level
	at := now
	a.LastNotificationAt = &at
	return next, true
}
