package senders

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Signal kinds counted per sender.
const (
	KindFire    = "fire"
	KindResolve = "resolve"
)

// Entry is one sender and its signal counts.
type Entry struct {
	Sender    string    `json:"sender"`
	Fired     int       `json:"fired"`
	Resolved  int       `json:"resolved"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Registry is a thread-safe in-memory sender registry.
// A background goroutine (Run) periodically evicts entries that have not
// been seen within the configured TTL.
type Registry struct {
	mu   sync.RWMutex
	data map[string]*Entry
	ttl  time.Duration
	now  func() time.Time // injectable for deterministic tests
}

// New creates a Registry with the given TTL.
func New(ttl time.Duration) *Registry {
	return &Registry{
		data: make(map[string]*Entry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Seen records one signal of kind from sender.
func (r *Registry) Seen(sender, kind string) {
	if sender == "" {
		sender = "unknown"
	}
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.data[sender]
	if !ok {
		e = &Entry{Sender: sender, FirstSeen: now}
		r.data[sender] = e
	}
	e.LastSeen = now
	switch kind {
	case KindFire:
		e.Fired++
	case KindResolve:
		e.Resolved++
	}
}

// Get returns a copy of the entry for sender. The entry may be stale if
// the TTL has elapsed.
func (r *Registry) Get(sender string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.data[sender]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// List returns the entries seen within the TTL, ordered by sender.
// Stale entries that have not yet been evicted are excluded.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	cutoff := r.now().Add(-r.ttl)
	out := make([]Entry, 0, len(r.data))
	for _, e := range r.data {
		if e.LastSeen.After(cutoff) {
			out = append(out, *e)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Sender < out[j].Sender })
	return out
}

// Evict removes entries whose LastSeen is older than now minus TTL.
// It returns the number of entries removed.
func (r *Registry) Evict(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := now.Add(-r.ttl)
	removed := 0
	for id, e := range r.data {
		if !e.LastSeen.After(cutoff) {
			delete(r.data, id)
			removed++
		}
	}
	return removed
}

// Run evicts stale entries at half the TTL (minimum 1 second) until ctx
// is cancelled.
func (r *Registry) Run(ctx context.Context) {
	interval := r.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := r.Evict(now); n > 0 {
				slog.Debug("senders: evicted quiet senders", "count", n)
			}
		}
	}
}
