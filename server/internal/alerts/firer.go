package alerts

import (
	"github.com/obsidianstack/alertd/pkg/labels"
	"github.com/obsidianstack/alertd/pkg/types"
)

// Firer adapts a Manager to rules.Firer, whose Fire reports the
// fingerprint an alert is filed under rather than its id.
type Firer struct {
	m *Manager
}

// NewFirer returns a Firer feeding m.
func NewFirer(m *Manager) Firer {
	return Firer{m: m}
}

// Fire records sig and returns its fingerprint.
func (f Firer) Fire(sig types.Signal) string {
	f.m.Fire(sig)
	return labels.Fingerprint(labels.Identity(sig.Name, sig.Labels))
}

// Resolve resolves the alert filed under fingerprint.
func (f Firer) Resolve(fingerprint, resolvedBy string) bool {
	return f.m.Resolve(fingerprint, resolvedBy)
}
