package ws

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/obsidianstack/alertd/pkg/types"
)

// Subscription narrows the alerts one client receives. The zero value
// admits every active alert.
type Subscription struct {
	Severities []types.Severity `json:"severity,omitempty"`
	Sources    []string         `json:"source,omitempty"`
}

// parseQuery reads ?severity=critical,warning&source=a,b.
func parseQuery(q url.Values) (Subscription, error) {
	var sub Subscription
	for _, s := range splitCSV(q.Get("severity")) {
		sub.Severities = append(sub.Severities, types.Severity(s))
	}
	sub.Sources = splitCSV(q.Get("source"))
	return sub, sub.validate()
}

func (s Subscription) validate() error {
	for _, sev := range s.Severities {
		if !sev.Valid() {
			return fmt.Errorf("severity %q unknown", sev)
		}
	}
	return nil
}

func (s Subscription) admits(a *types.Alert) bool {
	if len(s.Severities) > 0 && !containsSeverity(s.Severities, a.Severity) {
		return false
	}
	if len(s.Sources) > 0 && !containsString(s.Sources, a.Source) {
		return false
	}
	return true
}

func splitCSV(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func containsSeverity(list []types.Severity, s types.Severity) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
