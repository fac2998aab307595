package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/obsidianstack/alertd/pkg/labels"
	"github.com/obsidianstack/alertd/pkg/types"
	"github.com/obsidianstack/alertd/server/internal/config"
	"github.com/obsidianstack/alertd/server/internal/metrics"
	"github.com/obsidianstack/alertd/server/internal/notify"
	"github.com/obsidianstack/alertd/server/internal/scheduler"
)

const (
	defaultRetention          = 24 * time.Hour
	defaultEscalationInterval = time.Minute
	defaultCleanupInterval    = 5 * time.Minute

	// Annotation keys written by the manager.
	annotationAckComment = "acknowledge_comment"
	annotationResolvedBy = "resolved_by"
)

// Manager is the alert lifecycle orchestrator. It owns every alert and
// silence and serialises all mutations behind one lock. Notifications are
// planned under the lock and sent after it is released.
//
// Manager is safe for concurrent use.
type Manager struct {
	mu        sync.Mutex
	alerts    *store
	silences  *silenceStore
	escalator escalator
	sched     scheduler.Scheduler

	router  *notify.Router
	clock   scheduler.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
	newID   func() string

	retention          time.Duration
	escalationInterval time.Duration
	cleanupInterval    time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock.
func WithClock(c scheduler.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithRetention sets how long resolved alerts are kept before Cleanup
// evicts them.
func WithRetention(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.retention = d
		}
	}
}

// WithIntervals sets the escalation and cleanup periods used by Start.
func WithIntervals(escalation, cleanup time.Duration) Option {
	return func(m *Manager) {
		if escalation > 0 {
			m.escalationInterval = escalation
		}
		if cleanup > 0 {
			m.cleanupInterval = cleanup
		}
	}
}

// WithIDGenerator replaces the UUID generator for alert and silence ids.
func WithIDGenerator(f func() string) Option {
	return func(m *Manager) { m.newID = f }
}

// NewManager returns a Manager dispatching through router.
func NewManager(router *notify.Router, opts ...Option) *Manager {
	m := &Manager{
		alerts:             newStore(),
		silences:           newSilenceStore(),
		router:             router,
		clock:              scheduler.SystemClock{},
		logger:             slog.Default(),
		newID:              uuid.NewString,
		retention:          defaultRetention,
		escalationInterval: defaultEscalationInterval,
		cleanupInterval:    defaultCleanupInterval,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start registers the escalation and cleanup jobs on s and starts it.
func (m *Manager) Start(s scheduler.Scheduler) error {
	if err := s.Every(m.escalationInterval, "escalation", m.Tick); err != nil {
		return fmt.Errorf("schedule escalation: %w", err)
	}
	if err := s.Every(m.cleanupInterval, "cleanup", m.Cleanup); err != nil {
		return fmt.Errorf("schedule cleanup: %w", err)
	}
	m.mu.Lock()
	m.sched = s
	m.mu.Unlock()
	s.Start()
	m.logger.Info("alert manager started",
		"escalation_interval", m.escalationInterval,
		"cleanup_interval", m.cleanupInterval,
		"retention", m.retention,
	)
	return nil
}

// Stop halts the periodic jobs. In-flight jobs finish first.
func (m *Manager) Stop() {
	m.mu.Lock()
	s := m.sched
	m.sched = nil
	m.mu.Unlock()
	if s != nil {
		s.Stop()
	}
}

// RegisterPolicy adds p after the existing policies, or replaces the
// policy with the same ID.
func (m *Manager) RegisterPolicy(p types.EscalationPolicy) {
	m.mu.Lock()
	m.escalator.Register(p)
	m.mu.Unlock()
}

// SetPolicies replaces every escalation policy.
func (m *Manager) SetPolicies(ps []types.EscalationPolicy) {
	m.mu.Lock()
	m.escalator.Set(ps)
	m.mu.Unlock()
}

// ApplyConfig installs channels, templates, environment and policies from
// cfg. Existing alerts keep their escalation level.
func (m *Manager) ApplyConfig(cfg config.AlertingConfig) {
	specs := make([]notify.TemplateSpec, 0, len(cfg.Templates))
	for _, t := range cfg.Templates {
		specs = append(specs, notify.TemplateSpec{
			ChannelType: t.ChannelType,
			Severity:    t.Severity,
			Template:    t.Template,
		})
	}
	m.router.Configure(cfg.Channels, specs, cfg.Environment)

	m.mu.Lock()
	m.escalator.Set(cfg.Policies)
	if cfg.Retention > 0 {
		m.retention = cfg.Retention
	}
	m.mu.Unlock()

	m.logger.Info("alerting config applied",
		"channels", len(cfg.Channels),
		"policies", len(cfg.Policies),
		"templates", len(cfg.Templates),
	)
}

// Fire records sig and returns the id of the alert it belongs to. A signal
// whose fingerprint already has an unresolved alert refreshes that alert
// instead of opening a new one.
func (m *Manager) Fire(sig types.Signal) string {
	now := m.clock.Now()
	lbls := labels.Identity(sig.Name, sig.Labels)
	fp := labels.Fingerprint(lbls)

	m.mu.Lock()
	if a, ok := m.alerts.ActiveByFingerprint(fp); ok {
		a.CurrentValue = sig.CurrentValue
		if sig.Description != "" {
			a.Description = sig.Description
		}
		for k, v := range sig.Annotations {
			a.Annotations[k] = v
		}
		id := a.ID
		m.mu.Unlock()
		m.logger.Debug("alert refreshed",
			"alert_id", id,
			"fingerprint", fp,
			"current_value", sig.CurrentValue,
		)
		return id
	}

	sev := sig.Severity
	if !sev.Valid() {
		sev = types.SeverityWarning
	}
	annotations := make(map[string]string, len(sig.Annotations))
	for k, v := range sig.Annotations {
		annotations[k] = v
	}
	a := &types.Alert{
		ID:           m.newID(),
		Fingerprint:  fp,
		Name:         sig.Name,
		Description:  sig.Description,
		Severity:     sev,
		Source:       sig.Source,
		Metric:       sig.Metric,
		CurrentValue: sig.CurrentValue,
		Threshold:    sig.Threshold,
		Condition:    sig.Condition,
		Labels:       lbls,
		Annotations:  annotations,
		StartsAt:     now,
	}
	m.alerts.Insert(a)
	m.metrics.AlertFired(string(sev))

	var out []outbound
	if sil, ok := m.silences.Matching(a.Labels, now); ok {
		until := sil.EndsAt
		a.SilencedUntil = &until
		m.transition(a, types.StatusSuppressed)
	} else {
		m.transition(a, types.StatusFiring)
		if o, ok := m.escalate(a, now, true); ok {
			out = append(out, o)
		}
	}
	id := a.ID
	m.mu.Unlock()

	m.dispatch(out)
	return id
}

// Resolve closes the unresolved alert holding fingerprint and notifies
// every channel of the levels it reached. It returns false when no such
// alert exists.
func (m *Manager) Resolve(fingerprint, resolvedBy string) bool {
	now := m.clock.Now()

	m.mu.Lock()
	a, ok := m.alerts.ActiveByFingerprint(fingerprint)
	if !ok {
		m.mu.Unlock()
		return false
	}
	wasSuppressed := a.Status == types.StatusSuppressed

	ends, resolved := now, now
	a.EndsAt = &ends
	a.ResolvedAt = &resolved
	a.SilencedUntil = nil
	if resolvedBy != "" {
		a.Annotations[annotationResolvedBy] = resolvedBy
	}
	m.transition(a, types.StatusResolved)
	m.alerts.Deactivate(a)

	var out []outbound
	if !wasSuppressed && a.EscalationLevel > 0 {
		if p, ok := m.escalator.PolicyFor(a.Labels); ok {
			snap := a.Clone()
			out = append(out, outbound{
				alert:      snap,
				deliveries: m.router.Plan(snap, p.ChannelsThrough(a.EscalationLevel), notify.KindResolved, now),
			})
		}
	}
	m.mu.Unlock()

	m.dispatch(out)
	return true
}

// Acknowledge marks a firing alert as acknowledged by by. It returns false
// when the alert is unknown or not firing.
func (m *Manager) Acknowledge(id, by, comment string) bool {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts.Get(id)
	if !ok || a.Status != types.StatusFiring {
		return false
	}
	at := now
	a.AcknowledgedAt = &at
	a.AcknowledgedBy = by
	if comment != "" {
		a.Annotations[annotationAckComment] = comment
	}
	m.transition(a, types.StatusAcknowledged)
	return true
}

// Silence opens a silence window of length d starting now and suppresses
// every firing alert it matches. It returns the silence id.
func (m *Manager) Silence(matchers []labels.Matcher, d time.Duration, createdBy, comment string) (string, error) {
	if err := validateSilence(matchers, d); err != nil {
		return "", err
	}
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	sil := &Silence{
		ID:        m.newID(),
		Matchers:  append([]labels.Matcher(nil), matchers...),
		StartsAt:  now,
		EndsAt:    now.Add(d),
		CreatedBy: createdBy,
		Comment:   comment,
	}
	m.silences.Add(sil)
	m.metrics.SetSilences(m.silences.Len())

	suppressed := 0
	for _, a := range m.alerts.WithStatus(types.StatusFiring) {
		if !sil.Matches(a.Labels) {
			continue
		}
		until := sil.EndsAt
		a.SilencedUntil = &until
		m.transition(a, types.StatusSuppressed)
		suppressed++
	}
	m.logger.Info("silence created",
		"silence_id", sil.ID,
		"created_by", createdBy,
		"ends_at", sil.EndsAt,
		"suppressed", suppressed,
	)
	return sil.ID, nil
}

// RemoveSilence deletes the silence with id and returns the alerts it
// suppressed to firing, unless another active silence still covers them.
func (m *Manager) RemoveSilence(id string) bool {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	sil, ok := m.silences.Remove(id)
	if !ok {
		return false
	}
	m.metrics.SetSilences(m.silences.Len())

	released := 0
	for _, a := range m.alerts.WithStatus(types.StatusSuppressed) {
		if !sil.Matches(a.Labels) {
			continue
		}
		if other, ok := m.silences.Matching(a.Labels, now); ok {
			until := other.EndsAt
			a.SilencedUntil = &until
			continue
		}
		a.SilencedUntil = nil
		m.transition(a, types.StatusFiring)
		released++
	}
	m.logger.Info("silence removed", "silence_id", id, "released", released)
	return true
}

// Alert returns a copy of the alert with id.
func (m *Manager) Alert(id string) (types.Alert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts.Get(id)
	if !ok {
		return types.Alert{}, false
	}
	return a.Clone(), true
}

// Alerts returns copies of the alerts passing f, newest first.
func (m *Manager) Alerts(f Filter) []types.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.alerts.List(f)
	out := make([]types.Alert, 0, len(list))
	for _, a := range list {
		out = append(out, a.Clone())
	}
	return out
}

// Silences returns copies of every stored silence, expired ones that the
// cleanup sweep has not yet removed included.
func (m *Manager) Silences() []Silence {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.silences.List()
	out := make([]Silence, 0, len(list))
	for _, s := range list {
		cp := *s
		cp.Matchers = append([]labels.Matcher(nil), s.Matchers...)
		out = append(out, cp)
	}
	return out
}

// Tick is the escalation driver. It first returns suppressed alerts whose
// silence has run out to firing, then advances every firing alert whose
// next level is due.
func (m *Manager) Tick() {
	now := m.clock.Now()

	m.mu.Lock()
	m.releaseExpired(now)
	var out []outbound
	for _, a := range m.alerts.WithStatus(types.StatusFiring) {
		if o, ok := m.escalate(a, now, false); ok {
			out = append(out, o)
		}
	}
	m.mu.Unlock()

	m.dispatch(out)
}

// Cleanup evicts alerts resolved longer than the retention window ago and
// deletes silences that have ended.
func (m *Manager) Cleanup() {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := m.alerts.Evict(now.Add(-m.retention))
	for range evicted {
		m.metrics.Transition(string(types.StatusResolved), "")
	}
	expired := m.silences.Expire(now)
	m.metrics.SetSilences(m.silences.Len())
	m.releaseExpired(now)

	if len(evicted) > 0 || expired > 0 {
		m.logger.Info("cleanup sweep",
			"alerts_evicted", len(evicted),
			"silences_expired", expired,
			"alerts_held", m.alerts.Count(),
		)
	}
}

// releaseExpired returns suppressed alerts no longer covered by any active
// silence to firing. Caller holds m.mu.
func (m *Manager) releaseExpired(now time.Time) {
	for _, a := range m.alerts.WithStatus(types.StatusSuppressed) {
		if sil, ok := m.silences.Matching(a.Labels, now); ok {
			until := sil.EndsAt
			a.SilencedUntil = &until
			continue
		}
		a.SilencedUntil = nil
		m.transition(a, types.StatusFiring)
	}
}

// outbound is a notification planned under the lock and sent after it.
type outbound struct {
	alert      types.Alert
	deliveries []notify.Delivery
}

// escalate advances a along its policy and plans the notification for the
// level reached. Caller holds m.mu.
func (m *Manager) escalate(a *types.Alert, now time.Time, immediate bool) (outbound, bool) {
	p, ok := m.escalator.PolicyFor(a.Labels)
	if !ok {
		return outbound{}, false
	}
	lvl, ok := advance(a, p, now, immediate)
	if !ok {
		return outbound{}, false
	}
	m.metrics.Escalated(lvl.Level)
	m.logger.Info("alert escalated",
		"alert_id", a.ID,
		"fingerprint", a.Fingerprint,
		"policy", p.ID,
		"level", lvl.Level,
	)
	snap := a.Clone()
	return outbound{
		alert:      snap,
		deliveries: m.router.Plan(snap, lvl.Channels, notify.KindEscalation, now),
	}, true
}

// dispatch sends planned notifications and credits successful sends to
// the alerts that still exist. Caller must not hold m.mu.
func (m *Manager) dispatch(out []outbound) {
	for _, o := range out {
		if len(o.deliveries) == 0 {
			continue
		}
		sent := m.router.Deliver(context.Background(), o.alert, o.deliveries)
		if sent == 0 {
			continue
		}
		m.mu.Lock()
		if a, ok := m.alerts.Get(o.alert.ID); ok {
			a.NotificationsSent += sent
		}
		m.mu.Unlock()
	}
}

// transition moves a to status to and writes the audit record. Caller
// holds m.mu.
func (m *Manager) transition(a *types.Alert, to types.Status) {
	from := a.Status
	a.Status = to
	m.metrics.Transition(string(from), string(to))
	m.logger.Info("alert transition",
		"alert_id", a.ID,
		"fingerprint", a.Fingerprint,
		"name", a.Name,
		"from", string(from),
		"to", string(to),
	)
}
