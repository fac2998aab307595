package security

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/obsidianstack/alertd/agent/internal/config"
	"github.com/obsidianstack/alertd/pkg/rules"
	"github.com/obsidianstack/alertd/pkg/types"
)

const (
	alertName  = "CertificateExpiring"
	resolvedBy = "certs"
)

type checkFunc func(ctx context.Context, ep config.CertEndpoint, now time.Time, warnDays int) (CertStatus, error)

// Monitor checks certificates on an interval and raises an alert per
// endpoint whose certificate is inside the warning window. The alert is
// critical inside the critical window and resolves after renewal.
// Endpoints that cannot be reached keep their alert state.
type Monitor struct {
	firer  rules.Firer
	logger *slog.Logger
	check  checkFunc
	now    func() time.Time

	mu     sync.Mutex
	cfg    config.CertsConfig
	firing map[string]string // endpoint id → fingerprint
}

// NewMonitor returns a Monitor feeding firer.
func NewMonitor(cfg config.CertsConfig, firer rules.Firer, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		firer:  firer,
		logger: logger,
		check:  Check,
		now:    time.Now,
		cfg:    cfg,
		firing: make(map[string]string),
	}
}

// Reload swaps the endpoint list. Alerts of removed endpoints resolve.
func (m *Monitor) Reload(cfg config.CertsConfig) {
	keep := make(map[string]struct{}, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		keep[ep.ID] = struct{}{}
	}

	m.mu.Lock()
	m.cfg = cfg
	var stale []string
	for id, fp := range m.firing {
		if _, ok := keep[id]; !ok {
			stale = append(stale, fp)
			delete(m.firing, id)
		}
	}
	m.mu.Unlock()

	for _, fp := range stale {
		m.firer.Resolve(fp, resolvedBy)
	}
}

// Evaluate checks every endpoint once.
func (m *Monitor) Evaluate(ctx context.Context) {
	m.mu.Lock()
	cfg := m.cfg
	m.mu.Unlock()

	now := m.now()
	for _, ep := range cfg.Endpoints {
		cs, err := m.check(ctx, ep, now, cfg.WarnDays)
		if err != nil {
			m.logger.Warn("certs: check failed", "endpoint", ep.ID, "err", err)
			continue
		}
		m.apply(ep, cs, cfg)
	}
}

func (m *Monitor) apply(ep config.CertEndpoint, cs CertStatus, cfg config.CertsConfig) {
	lbls := map[string]string{"endpoint": ep.ID, "url": ep.Endpoint}

	if cs.Status == StatusValid {
		m.mu.Lock()
		fp, was := m.firing[ep.ID]
		delete(m.firing, ep.ID)
		m.mu.Unlock()
		if was {
			m.firer.Resolve(fp, resolvedBy)
			m.logger.Info("certs: certificate renewed", "endpoint", ep.ID, "days_left", cs.DaysLeft)
		}
		return
	}

	sev, threshold := types.SeverityWarning, cfg.WarnDays
	if cs.DaysLeft <= cfg.CriticalDays {
		sev, threshold = types.SeverityCritical, cfg.CriticalDays
	}
	desc := fmt.Sprintf("certificate for %s expires %s (%d days left, issuer %q)",
		ep.Endpoint, cs.NotAfter.Format(time.RFC3339), cs.DaysLeft, cs.Issuer)
	if cs.Status == StatusExpired {
		desc = fmt.Sprintf("certificate for %s expired %s", ep.Endpoint, cs.NotAfter.Format(time.RFC3339))
	}

	fp := m.firer.Fire(types.Signal{
		Name:         alertName,
		Description:  desc,
		Severity:     sev,
		Source:       "agent/certs",
		Metric:       "cert_days_left",
		CurrentValue: float64(cs.DaysLeft),
		Threshold:    float64(threshold),
		Condition:    "<=",
		Labels:       lbls,
		Annotations:  map[string]string{"not_after": cs.NotAfter.Format(time.RFC3339), "issuer": cs.Issuer},
	})
	if fp == "" {
		return
	}
	m.mu.Lock()
	m.firing[ep.ID] = fp
	m.mu.Unlock()
}

// Run evaluates immediately and then on every interval until ctx is
// cancelled. The interval is read once at start.
func (m *Monitor) Run(ctx context.Context) {
	m.mu.Lock()
	interval := m.cfg.Interval
	m.mu.Unlock()
	if interval <= 0 {
		interval = config.DefaultCertInterval
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	m.Evaluate(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Evaluate(ctx)
		}
	}
}
