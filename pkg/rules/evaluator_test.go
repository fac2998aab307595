package rules

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/obsidianstack/alertd/pkg/labels"
	"github.com/obsidianstack/alertd/pkg/types"
)

// fakeFirer records signals. Like a forwarding agent, it files each alert
// under its labels merged with extra.
type fakeFirer struct {
	mu       sync.Mutex
	extra    map[string]string
	fired    []types.Signal
	resolved []string
}

func (f *fakeFirer) Fire(sig types.Signal) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fired = append(f.fired, sig)
	merged := make(map[string]string, len(sig.Labels)+len(f.extra))
	for k, v := range f.extra {
		merged[k] = v
	}
	for k, v := range sig.Labels {
		merged[k] = v
	}
	return labels.Fingerprint(labels.Identity(sig.Name, merged))
}

func (f *fakeFirer) Resolve(fp, _ string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved = append(f.resolved, fp)
	return true
}

const exposition = `
# TYPE node_filesystem_avail_percent gauge
node_filesystem_avail_percent{mountpoint="/"} %s
node_filesystem_avail_percent{mountpoint="/boot"} 80
# TYPE http_requests_errors_total counter
http_requests_errors_total{code="500"} 7
http_requests_errors_total{code="502"} 5
`

// metricsServer serves exposition with the root filesystem value taken from
// *root, so tests can change it between evaluations.
func metricsServer(t *testing.T, root *atomic.Value, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(hits, 1)
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = w.Write([]byte(strings.Replace(exposition, "%s", root.Load().(string), 1)))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEvaluator_FireThenResolve(t *testing.T) {
	var root atomic.Value
	root.Store("5")
	var hits int32
	srv := metricsServer(t, &root, &hits)

	firer := &fakeFirer{}
	e, err := New(0, []Target{{ID: "node-1", Endpoint: srv.URL}}, []Rule{{
		Name:      "DiskAlmostFull",
		Target:    "node-1",
		Condition: "node_filesystem_avail_percent < 10",
		Match:     map[string]string{"mountpoint": "/"},
		Severity:  types.SeverityCritical,
		Labels:    map[string]string{"team": "infra"},
	}}, firer, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	e.Evaluate(context.Background())
	if len(firer.fired) != 1 {
		t.Fatalf("fired: got %d, want 1", len(firer.fired))
	}
	sig := firer.fired[0]
	if sig.CurrentValue != 5 || sig.Threshold != 10 || sig.Condition != "<" || sig.Metric != "node_filesystem_avail_percent" {
		t.Errorf("signal: %+v", sig)
	}
	if sig.Source != "node-1" || sig.Labels["team"] != "infra" || sig.Labels["rule"] != "DiskAlmostFull" {
		t.Errorf("signal labels/source: %+v", sig)
	}

	root.Store("50")
	e.Evaluate(context.Background())
	if len(firer.resolved) != 1 {
		t.Fatalf("resolved: got %d, want 1", len(firer.resolved))
	}
	want := labels.Fingerprint(labels.Identity(sig.Name, sig.Labels))
	if firer.resolved[0] != want {
		t.Errorf("resolved fingerprint: got %s, want %s", firer.resolved[0], want)
	}

	// Still clear: no second resolve.
	e.Evaluate(context.Background())
	if len(firer.resolved) != 1 {
		t.Errorf("resolved again while clear: %d", len(firer.resolved))
	}
}

func TestEvaluator_SumsSeries(t *testing.T) {
	var root atomic.Value
	root.Store("50")
	var hits int32
	srv := metricsServer(t, &root, &hits)

	firer := &fakeFirer{}
	e, err := New(0, []Target{{ID: "web", Endpoint: srv.URL}}, []Rule{
		{Name: "Errors", Target: "web", Condition: "http_requests_errors_total > 10"},
		{Name: "Errors500", Target: "web", Condition: "http_requests_errors_total > 10", Match: map[string]string{"code": "500"}},
	}, firer, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.Evaluate(context.Background())

	if len(firer.fired) != 1 || firer.fired[0].CurrentValue != 12 {
		t.Errorf("fired: %+v", firer.fired)
	}
	if firer.fired[0].Severity != types.SeverityWarning {
		t.Errorf("default severity: got %s", firer.fired[0].Severity)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("scrapes: got %d, want 1 per target", n)
	}
}

func TestEvaluator_ScrapeFailureLeavesState(t *testing.T) {
	var root atomic.Value
	root.Store("5")
	var hits int32
	srv := metricsServer(t, &root, &hits)

	firer := &fakeFirer{}
	rule := Rule{Name: "Disk", Target: "n", Condition: "node_filesystem_avail_percent < 10", Match: map[string]string{"mountpoint": "/"}}
	e, err := New(0, []Target{{ID: "n", Endpoint: srv.URL}}, []Rule{rule}, firer, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.Evaluate(context.Background())
	srv.Close()

	e.Evaluate(context.Background())
	if len(firer.resolved) != 0 {
		t.Error("scrape failure must not resolve")
	}
}

func TestEvaluator_ReloadResolvesRemovedRules(t *testing.T) {
	var root atomic.Value
	root.Store("5")
	var hits int32
	srv := metricsServer(t, &root, &hits)

	firer := &fakeFirer{}
	targets := []Target{{ID: "n", Endpoint: srv.URL}}
	e, err := New(0, targets, []Rule{{Name: "Disk", Target: "n", Condition: "node_filesystem_avail_percent < 10"}}, firer, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.Evaluate(context.Background())

	if err := e.Reload(0, targets, nil); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if len(firer.resolved) != 1 {
		t.Errorf("resolved after reload: got %d, want 1", len(firer.resolved))
	}
}

func TestScrape_BearerAuth(t *testing.T) {
	t.Setenv("SCRAPE_TOKEN", "s3cret")
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		_, _ = w.Write([]byte("up 1\n"))
	}))
	defer srv.Close()

	c := newClient(Target{ID: "t", Endpoint: srv.URL, Auth: TargetAuth{Mode: "bearer", TokenEnv: "SCRAPE_TOKEN"}})
	mfs, err := fetchMetrics(context.Background(), c, srv.URL)
	if err != nil {
		t.Fatalf("fetchMetrics: %v", err)
	}
	if got != "Bearer s3cret" {
		t.Errorf("Authorization: got %q", got)
	}
	if v, ok := sumMatching(mfs["up"], nil); !ok || v != 1 {
		t.Errorf("up: got %v (%v)", v, ok)
	}
}

func TestEvaluator_ResolvesFingerprintReturnedByFirer(t *testing.T) {
	var root atomic.Value
	root.Store("5")
	var hits int32
	srv := metricsServer(t, &root, &hits)

	firer := &fakeFirer{extra: map[string]string{"env": "prod", "host": "edge-01"}}
	e, err := New(0, []Target{{ID: "n", Endpoint: srv.URL}}, []Rule{{
		Name:      "Disk",
		Target:    "n",
		Condition: "node_filesystem_avail_percent < 10",
		Match:     map[string]string{"mountpoint": "/"},
	}}, firer, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	e.Evaluate(context.Background())
	if len(firer.fired) != 1 {
		t.Fatalf("fired: got %d, want 1", len(firer.fired))
	}
	sig := firer.fired[0]
	filed := firer.Fire(sig) // same signal, same filing fingerprint
	if own := labels.Fingerprint(labels.Identity(sig.Name, sig.Labels)); own == filed {
		t.Fatal("extra labels did not change the fingerprint")
	}

	root.Store("50")
	e.Evaluate(context.Background())
	if len(firer.resolved) != 1 || firer.resolved[0] != filed {
		t.Errorf("resolved: got %v, want [%s]", firer.resolved, filed)
	}
}

func TestEvaluator_ReloadKeepsUnchangedRuleFiring(t *testing.T) {
	var root atomic.Value
	root.Store("5")
	var hits int32
	srv := metricsServer(t, &root, &hits)

	firer := &fakeFirer{extra: map[string]string{"env": "prod"}}
	targets := []Target{{ID: "n", Endpoint: srv.URL}}
	rules := []Rule{{Name: "Disk", Target: "n", Condition: "node_filesystem_avail_percent < 10", Match: map[string]string{"mountpoint": "/"}}}
	e, err := New(0, targets, rules, firer, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.Evaluate(context.Background())

	if err := e.Reload(0, targets, rules); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if len(firer.resolved) != 0 {
		t.Errorf("unchanged rule resolved on reload: %v", firer.resolved)
	}
}

func TestEvaluator_RuleDroppedDuringEvaluationIsResolved(t *testing.T) {
	var root atomic.Value
	root.Store("5")
	var hits int32
	srv := metricsServer(t, &root, &hits)

	firer := &fakeFirer{}
	targets := []Target{{ID: "n", Endpoint: srv.URL}}
	e, err := New(0, targets, []Rule{{Name: "Disk", Target: "n", Condition: "node_filesystem_avail_percent < 10"}}, firer, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Evaluation took its snapshot of the rules, then a reload removed them.
	e.mu.Lock()
	snapshot := e.rules
	e.mu.Unlock()
	if err := e.Reload(0, targets, nil); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	mfs, err := fetchMetrics(context.Background(), newClient(targets[0]), srv.URL)
	if err != nil {
		t.Fatalf("fetchMetrics: %v", err)
	}
	e.apply(snapshot[0], mfs)

	if len(firer.fired) != 1 || len(firer.resolved) != 1 {
		t.Fatalf("fired=%d resolved=%d, want 1/1", len(firer.fired), len(firer.resolved))
	}
	e.mu.Lock()
	n := len(e.firing)
	e.mu.Unlock()
	if n != 0 {
		t.Errorf("firing entries left for dropped rule: %d", n)
	}
}
