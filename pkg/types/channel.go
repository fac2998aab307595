package types

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/obsidianstack/alertd/pkg/labels"
)

// ChannelType selects the transport used to deliver to a channel.
type ChannelType string

const (
	ChannelEmail     ChannelType = "email"
	ChannelSlack     ChannelType = "slack"
	ChannelWebhook   ChannelType = "webhook"
	ChannelSMS       ChannelType = "sms"
	ChannelPagerDuty ChannelType = "pagerduty"
	ChannelTeams     ChannelType = "teams"
)

// Valid reports whether t is a known channel type.
func (t ChannelType) Valid() bool {
	switch t {
	case ChannelEmail, ChannelSlack, ChannelWebhook, ChannelSMS, ChannelPagerDuty, ChannelTeams:
		return true
	}
	return false
}

// Channel is a named notification sink and the filters guarding it.
type Channel struct {
	ID      string      `yaml:"id" json:"id"`
	Name    string      `yaml:"name" json:"name"`
	Type    ChannelType `yaml:"type" json:"type"`
	Enabled bool        `yaml:"enabled" json:"enabled"`

	// Config is passed through to the transport untouched. Keys ending in
	// "_env" name an environment variable; see Setting.
	Config map[string]string `yaml:"config" json:"config,omitempty"`

	// SeverityFilter lists accepted severities. Empty accepts all.
	SeverityFilter []Severity `yaml:"severity_filter" json:"severity_filter,omitempty"`

	// LabelSelectors must all match the alert's labels.
	LabelSelectors []labels.Matcher `yaml:"label_selectors" json:"label_selectors,omitempty"`

	TimeRestrictions *TimeRestrictions `yaml:"time_restrictions" json:"time_restrictions,omitempty"`
}

// Setting returns Config[key], or the environment variable named by
// Config[key+"_env"] when the literal is absent.
func (c Channel) Setting(key string) string {
	if v := c.Config[key]; v != "" {
		return v
	}
	if env := c.Config[key+"_env"]; env != "" {
		return os.Getenv(env)
	}
	return ""
}

// AcceptsSeverity reports whether the severity filter admits s.
func (c Channel) AcceptsSeverity(s Severity) bool {
	if len(c.SeverityFilter) == 0 {
		return true
	}
	for _, f := range c.SeverityFilter {
		if f == s {
			return true
		}
	}
	return false
}

// TimeRestrictions limits delivery to windows of the day on some weekdays,
// evaluated in Timezone (IANA name, default UTC).
type TimeRestrictions struct {
	Timezone string       `yaml:"timezone" json:"timezone,omitempty"`
	Windows  []TimeWindow `yaml:"windows" json:"windows,omitempty"`
	// Days are allowed weekdays, 0 = Sunday. Empty allows every day.
	Days []int `yaml:"days" json:"days,omitempty"`
}

// TimeWindow is a [Start, End) range of wall-clock time in "HH:MM" form.
// An End before Start wraps past midnight.
type TimeWindow struct {
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end" json:"end"`
}

// Location loads the restriction's timezone, falling back to UTC.
func (r TimeRestrictions) Location() (*time.Location, error) {
	if r.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.UTC, fmt.Errorf("timezone %q: %w", r.Timezone, err)
	}
	return loc, nil
}

// Allows reports whether t falls on an allowed day inside some window.
func (r TimeRestrictions) Allows(t time.Time) bool {
	if len(r.Days) > 0 {
		ok := false
		for _, d := range r.Days {
			if time.Weekday(d) == t.Weekday() {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(r.Windows) == 0 {
		return true
	}
	minute := t.Hour()*60 + t.Minute()
	for _, w := range r.Windows {
		if w.contains(minute) {
			return true
		}
	}
	return false
}

// Validate checks every window parses.
func (r TimeRestrictions) Validate() error {
	for _, w := range r.Windows {
		if _, err := parseClock(w.Start); err != nil {
			return err
		}
		if _, err := parseClock(w.End); err != nil {
			return err
		}
	}
	for _, d := range r.Days {
		if d < 0 || d > 6 {
			return fmt.Errorf("day %d out of range [0, 6]", d)
		}
	}
	return nil
}

func (w TimeWindow) contains(minute int) bool {
	start, err := parseClock(w.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(w.End)
	if err != nil {
		return false
	}
	if start <= end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

// parseClock converts "HH:MM" to minutes since midnight. "24:00" is accepted
// as end of day.
func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("time %q: want HH:MM", s)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("time %q out of range", s)
	}
	return h*60 + m, nil
}
