package rules

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/obsidianstack/alertd/pkg/labels"
	"github.com/obsidianstack/alertd/pkg/types"
)

const (
	defaultInterval = 30 * time.Second

	// resolvedBy is recorded on alerts the evaluator resolves.
	resolvedBy = "rules"
)

// Firer receives the signals produced by rule evaluation. Fire returns
// the fingerprint the alert is filed under, which may differ from the
// fingerprint of the signal's own labels when the firer adds labels.
// Resolve is called with that returned fingerprint.
type Firer interface {
	Fire(sig types.Signal) string
	Resolve(fingerprint, resolvedBy string) bool
}

type compiledRule struct {
	Rule
	cond   Condition
	labels map[string]string // identity labels sent with every signal
	key    string            // fingerprint of name and labels; changes when the rule does
}

// firingRule is an alert raised by a rule.
type firingRule struct {
	key string // compiledRule.key at fire time
	fp  string // fingerprint returned by the firer
}

type target struct {
	Target
	client *http.Client
}

// Evaluator scrapes targets and evaluates rules against them.
//
// Evaluator is safe for concurrent use.
type Evaluator struct {
	firer  Firer
	logger *slog.Logger

	mu       sync.Mutex
	interval time.Duration
	targets  map[string]*target
	rules    []compiledRule
	firing   map[string]firingRule // by rule name
}

// New validates targets and rules and returns an Evaluator feeding firer.
func New(interval time.Duration, targets []Target, rules []Rule, firer Firer, logger *slog.Logger) (*Evaluator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Evaluator{
		firer:  firer,
		logger: logger,
		firing: make(map[string]firingRule),
	}
	if err := e.Reload(interval, targets, rules); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload swaps in a new rule set. Alerts raised by rules that no longer
// exist are resolved.
func (e *Evaluator) Reload(interval time.Duration, targets []Target, rules []Rule) error {
	if err := Validate(targets, rules); err != nil {
		return err
	}
	if interval <= 0 {
		interval = defaultInterval
	}

	ts := make(map[string]*target, len(targets))
	for _, t := range targets {
		ts[t.ID] = &target{Target: t, client: newClient(t)}
	}
	compiled := make([]compiledRule, 0, len(rules))
	keep := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		cond, _ := ParseCondition(r.Condition) // checked by Validate
		lbls := make(map[string]string, len(r.Labels)+2)
		for k, v := range r.Labels {
			lbls[k] = v
		}
		lbls["rule"] = r.Name
		lbls["target"] = r.Target
		cr := compiledRule{Rule: r, cond: cond, labels: lbls}
		cr.key = labels.Fingerprint(labels.Identity(r.Name, lbls))
		compiled = append(compiled, cr)
		keep[cr.key] = struct{}{}
	}

	e.mu.Lock()
	e.interval = interval
	e.targets = ts
	e.rules = compiled
	var stale []string
	for name, f := range e.firing {
		if _, ok := keep[f.key]; !ok {
			stale = append(stale, f.fp)
			delete(e.firing, name)
		}
	}
	e.mu.Unlock()

	for _, fp := range stale {
		e.firer.Resolve(fp, resolvedBy)
	}
	return nil
}

// Evaluate scrapes every target used by a rule once and applies the rules.
// A failed scrape leaves the alerts of its rules untouched.
func (e *Evaluator) Evaluate(ctx context.Context) {
	e.mu.Lock()
	rules := e.rules
	targets := e.targets
	e.mu.Unlock()

	scraped := make(map[string]map[string]*dto.MetricFamily)
	failed := make(map[string]bool)
	for _, r := range rules {
		if failed[r.Target] {
			continue
		}
		mfs, ok := scraped[r.Target]
		if !ok {
			t := targets[r.Target]
			var err error
			mfs, err = fetchMetrics(ctx, t.client, t.Endpoint)
			if err != nil {
				e.logger.Warn("rules: scrape failed", "target", t.ID, "err", err)
				failed[r.Target] = true
				continue
			}
			scraped[r.Target] = mfs
		}
		e.apply(r, mfs)
	}
}

func (e *Evaluator) apply(r compiledRule, mfs map[string]*dto.MetricFamily) {
	v, ok := sumMatching(mfs[r.cond.Metric], r.Match)
	if !ok {
		e.logger.Debug("rules: no matching series", "rule", r.Name, "metric", r.cond.Metric)
		return
	}

	if r.cond.Holds(v) {
		sev := r.Severity
		if sev == "" {
			sev = types.SeverityWarning
		}
		desc := r.Description
		if desc == "" {
			desc = fmt.Sprintf("%s %s (value %g)", r.cond.Metric, r.cond, v)
		}
		fp := e.firer.Fire(types.Signal{
			Name:         r.Name,
			Description:  desc,
			Severity:     sev,
			Source:       r.Target,
			Metric:       r.cond.Metric,
			CurrentValue: v,
			Threshold:    r.cond.Threshold,
			Condition:    r.cond.Op,
			Labels:       r.labels,
			Annotations:  r.Annotations,
		})
		e.mu.Lock()
		current := e.hasRuleLocked(r)
		if current {
			e.firing[r.Name] = firingRule{key: r.key, fp: fp}
		}
		e.mu.Unlock()
		if !current {
			// A reload dropped the rule while it was being evaluated.
			e.firer.Resolve(fp, resolvedBy)
		}
		return
	}

	e.mu.Lock()
	f, was := e.firing[r.Name]
	if was && f.key == r.key {
		delete(e.firing, r.Name)
	} else {
		was = false
	}
	e.mu.Unlock()
	if was {
		e.firer.Resolve(f.fp, resolvedBy)
		e.logger.Info("rules: condition cleared", "rule", r.Name, "value", v)
	}
}

// hasRuleLocked reports whether r is still part of the loaded rule set.
// e.mu must be held.
func (e *Evaluator) hasRuleLocked(r compiledRule) bool {
	for _, cur := range e.rules {
		if cur.Name == r.Name && cur.key == r.key {
			return true
		}
	}
	return false
}

// Run evaluates on every interval tick until ctx is cancelled. The
// interval is read once at start.
func (e *Evaluator) Run(ctx context.Context) {
	e.mu.Lock()
	interval := e.interval
	e.mu.Unlock()

	t := time.NewTicker(interval)
	defer t.Stop()

	e.Evaluate(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.Evaluate(ctx)
		}
	}
}
