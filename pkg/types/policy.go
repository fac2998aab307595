package types

import (
	"time"

	"github.com/obsidianstack/alertd/pkg/labels"
)

// EscalationPolicy is a ladder of notification levels for the alerts its
// selectors match.
type EscalationPolicy struct {
	ID             string            `yaml:"id" json:"id"`
	Name           string            `yaml:"name" json:"name"`
	LabelSelectors []labels.Matcher  `yaml:"label_selectors" json:"label_selectors,omitempty"`
	Levels         []EscalationLevel `yaml:"levels" json:"levels"`
}

// EscalationLevel is one rung of a policy. WaitTime is measured from the
// previous notification (or from the alert's start if none was sent).
type EscalationLevel struct {
	Level    int           `yaml:"level" json:"level"`
	WaitTime time.Duration `yaml:"wait_time" json:"wait_time"`
	Channels []string      `yaml:"channels" json:"channels"`
	// AutoResolve is carried for configuration compatibility and has no
	// effect on the engine.
	AutoResolve bool `yaml:"auto_resolve" json:"auto_resolve,omitempty"`
}

// Matches reports whether the policy governs an alert with lbls.
func (p EscalationPolicy) Matches(lbls map[string]string) bool {
	return labels.MatchAll(p.LabelSelectors, lbls)
}

// Level returns the definition of level n.
func (p EscalationPolicy) Level(n int) (EscalationLevel, bool) {
	for _, l := range p.Levels {
		if l.Level == n {
			return l, true
		}
	}
	return EscalationLevel{}, false
}

// ChannelsThrough returns the distinct channels of every level up to and
// including n, in ladder order.
func (p EscalationPolicy) ChannelsThrough(n int) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, l := range p.Levels {
		if l.Level > n {
			continue
		}
		for _, c := range l.Channels {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}
