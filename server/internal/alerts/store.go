package alerts

import (
	"sort"
	"time"

	"github.com/obsidianstack/alertd/pkg/types"
)

// Filter narrows Manager.Alerts. Zero fields match everything.
type Filter struct {
	Status   types.Status
	Severity types.Severity
	Source   string
	Since    time.Time // StartsAt at or after
	Limit    int
}

func (f Filter) match(a *types.Alert) bool {
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	if f.Source != "" && a.Source != f.Source {
		return false
	}
	if !f.Since.IsZero() && a.StartsAt.Before(f.Since) {
		return false
	}
	return true
}

// store holds alert records keyed by id, plus an index from fingerprint to
// the id of the one active alert carrying it. It is not locked; the
// Manager serialises access.
type store struct {
	byID          map[string]*types.Alert
	byFingerprint map[string]string
}

func newStore() *store {
	return &store{
		byID:          make(map[string]*types.Alert),
		byFingerprint: make(map[string]string),
	}
}

// Get returns the alert with id, active or resolved.
func (s *store) Get(id string) (*types.Alert, bool) {
	a, ok := s.byID[id]
	return a, ok
}

// ActiveByFingerprint returns the unresolved alert holding fp.
func (s *store) ActiveByFingerprint(fp string) (*types.Alert, bool) {
	id, ok := s.byFingerprint[fp]
	if !ok {
		return nil, false
	}
	return s.Get(id)
}

// Insert adds a new active alert.
func (s *store) Insert(a *types.Alert) {
	s.byID[a.ID] = a
	s.byFingerprint[a.Fingerprint] = a.ID
}

// Deactivate releases a's fingerprint so the next signal carrying it opens
// a fresh alert. The record itself stays until evicted.
func (s *store) Deactivate(a *types.Alert) {
	if s.byFingerprint[a.Fingerprint] == a.ID {
		delete(s.byFingerprint, a.Fingerprint)
	}
}

// List returns the alerts passing f, newest StartsAt first, truncated to
// f.Limit when positive.
func (s *store) List(f Filter) []*types.Alert {
	out := make([]*types.Alert, 0, len(s.byID))
	for _, a := range s.byID {
		if f.match(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].StartsAt.After(out[j].StartsAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// WithStatus returns alerts in status st, oldest first.
func (s *store) WithStatus(st types.Status) []*types.Alert {
	out := s.List(Filter{Status: st})
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Count returns the number of records held, resolved ones included.
func (s *store) Count() int {
	return len(s.byID)
}

// Evict deletes resolved alerts whose ResolvedAt is at or before cutoff and
// returns them.
func (s *store) Evict(cutoff time.Time) []*types.Alert {
	var removed []*types.Alert
	for id, a := range s.byID {
		if a.Status != types.StatusResolved || a.ResolvedAt == nil {
			continue
		}
		if !a.ResolvedAt.After(cutoff) {
			delete(s.byID, id)
			s.Deactivate(a)
			removed = append(removed, a)
		}
	}
	return removed
}
