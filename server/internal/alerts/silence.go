package alerts

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/obsidianstack/alertd/pkg/labels"
)

// ErrNoMatchers is returned when a silence would match every alert.
var ErrNoMatchers = errors.New("silence needs at least one matcher")

// Silence suppresses notifications for the alerts its matchers select
// while now is within [StartsAt, EndsAt].
type Silence struct {
	ID        string           `json:"id"`
	Matchers  []labels.Matcher `json:"matchers"`
	StartsAt  time.Time        `json:"starts_at"`
	EndsAt    time.Time        `json:"ends_at"`
	CreatedBy string           `json:"created_by"`
	Comment   string           `json:"comment,omitempty"`
}

// ActiveAt reports whether t falls inside the silence window.
func (s Silence) ActiveAt(t time.Time) bool {
	return !t.Before(s.StartsAt) && !t.After(s.EndsAt)
}

// Matches reports whether every matcher matches lbls. A silence without
// matchers matches nothing.
func (s Silence) Matches(lbls map[string]string) bool {
	return len(s.Matchers) > 0 && labels.MatchAll(s.Matchers, lbls)
}

func validateSilence(matchers []labels.Matcher, d time.Duration) error {
	if len(matchers) == 0 {
		return ErrNoMatchers
	}
	if d <= 0 {
		return fmt.Errorf("silence duration must be positive, got %s", d)
	}
	for _, m := range matchers {
		if m.Name == "" {
			return fmt.Errorf("matcher %s: empty label name", m)
		}
	}
	return nil
}

// silenceStore holds silence windows by id. Not locked; see store.
type silenceStore struct {
	byID map[string]*Silence
}

func newSilenceStore() *silenceStore {
	return &silenceStore{byID: make(map[string]*Silence)}
}

func (s *silenceStore) Add(sil *Silence) {
	s.byID[sil.ID] = sil
}

// Remove deletes and returns the silence with id.
func (s *silenceStore) Remove(id string) (*Silence, bool) {
	sil, ok := s.byID[id]
	if ok {
		delete(s.byID, id)
	}
	return sil, ok
}

func (s *silenceStore) Get(id string) (*Silence, bool) {
	sil, ok := s.byID[id]
	return sil, ok
}

func (s *silenceStore) Len() int { return len(s.byID) }

// List returns every stored silence ordered by start time.
func (s *silenceStore) List() []*Silence {
	out := make([]*Silence, 0, len(s.byID))
	for _, sil := range s.byID {
		out = append(out, sil)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].StartsAt.Before(out[j].StartsAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Matching returns the active silence covering lbls at now. When several
// apply, the one ending last wins.
func (s *silenceStore) Matching(lbls map[string]string, now time.Time) (*Silence, bool) {
	var best *Silence
	for _, sil := range s.byID {
		if !sil.ActiveAt(now) || !sil.Matches(lbls) {
			continue
		}
		if best == nil || sil.EndsAt.After(best.EndsAt) {
			best = sil
		}
	}
	return best, best != nil
}

// Expire deletes silences that ended before now and returns how many.
func (s *silenceStore) Expire(now time.Time) int {
	n := 0
	for id, sil := range s.byID {
		if sil.EndsAt.Before(now) {
			delete(s.byID, id)
			n++
		}
	}
	return n
}
