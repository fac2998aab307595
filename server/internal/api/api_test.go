package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/obsidianstack/alertd/pkg/types"
	"github.com/obsidianstack/alertd/server/internal/alerts"
	"github.com/obsidianstack/alertd/server/internal/api"
	"github.com/obsidianstack/alertd/server/internal/notify"
	"github.com/obsidianstack/alertd/server/internal/scheduler"
	"github.com/obsidianstack/alertd/server/internal/senders"
)

// --- test helpers -----------------------------------------------------------

var t0 = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func newServer(t *testing.T) (http.Handler, *alerts.Manager, *scheduler.ManualClock) {
	t.Helper()
	clock := scheduler.NewManualClock(t0)
	m := alerts.NewManager(notify.NewRouter(), alerts.WithClock(clock))
	return api.New(m, api.WithClock(clock)), m, clock
}

func sig(name, source string) types.Signal {
	return types.Signal{
		Name:     name,
		Severity: types.SeverityCritical,
		Source:   source,
		Labels:   map[string]string{"env": "prod"},
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

func wantStatus(t *testing.T, rr *httptest.ResponseRecorder, code int) {
	t.Helper()
	if rr.Code != code {
		t.Fatalf("status: got %d, want %d (body: %s)", rr.Code, code, rr.Body.String())
	}
}

// --- /api/v1/health ---------------------------------------------------------

func TestHealth_Counts(t *testing.T) {
	h, m, _ := newServer(t)
	m.Fire(sig("A", "node"))
	id := m.Fire(sig("B", "node"))
	m.Acknowledge(id, "alice", "")

	rr := do(t, h, http.MethodGet, "/api/v1/health", "")
	wantStatus(t, rr, http.StatusOK)
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q", ct)
	}
	var resp api.HealthResponse
	decode(t, rr, &resp)
	if resp.Status != "ok" || resp.Firing != 1 || resp.Acknowledged != 1 {
		t.Errorf("health: %+v", resp)
	}
}

func TestHealth_ListsSenders(t *testing.T) {
	clock := scheduler.NewManualClock(t0)
	m := alerts.NewManager(notify.NewRouter(), alerts.WithClock(clock))
	reg := senders.New(time.Hour)
	reg.Seen("10.0.0.7", senders.KindFire)
	h := api.New(m, api.WithClock(clock), api.WithSenders(reg))

	rr := do(t, h, http.MethodGet, "/api/v1/health", "")
	wantStatus(t, rr, http.StatusOK)
	var resp api.HealthResponse
	decode(t, rr, &resp)
	if len(resp.Senders) != 1 || resp.Senders[0].Sender != "10.0.0.7" || resp.Senders[0].Fired != 1 {
		t.Errorf("senders: %+v", resp.Senders)
	}
}

func TestHealth_MethodNotAllowed(t *testing.T) {
	h, _, _ := newServer(t)
	wantStatus(t, do(t, h, http.MethodPost, "/api/v1/health", ""), http.StatusMethodNotAllowed)
}

// --- /api/v1/alerts ---------------------------------------------------------

func TestAlerts_EmptyArray(t *testing.T) {
	h, _, _ := newServer(t)
	rr := do(t, h, http.MethodGet, "/api/v1/alerts", "")
	wantStatus(t, rr, http.StatusOK)
	if body := strings.TrimSpace(rr.Body.String()); body != "[]" {
		t.Errorf("body: got %s, want []", body)
	}
}

func TestAlerts_FireThenList(t *testing.T) {
	h, _, clock := newServer(t)

	rr := do(t, h, http.MethodPost, "/api/v1/alerts",
		`{"name":"HighCPU","severity":"critical","source":"node","labels":{"host":"db-1"}}`)
	wantStatus(t, rr, http.StatusCreated)
	var fired api.FireResponse
	decode(t, rr, &fired)
	if fired.ID == "" || len(fired.Fingerprint) != 16 {
		t.Fatalf("fire response: %+v", fired)
	}

	clock.Advance(time.Minute)
	do(t, h, http.MethodPost, "/api/v1/alerts", `{"name":"DiskFull","severity":"warning","source":"db"}`)

	rr = do(t, h, http.MethodGet, "/api/v1/alerts?severity=critical", "")
	wantStatus(t, rr, http.StatusOK)
	var list []types.Alert
	decode(t, rr, &list)
	if len(list) != 1 || list[0].ID != fired.ID {
		t.Fatalf("filtered list: %+v", list)
	}

	rr = do(t, h, http.MethodGet, "/api/v1/alerts?limit=1", "")
	decode(t, rr, &list)
	if len(list) != 1 || list[0].Name != "DiskFull" {
		t.Errorf("limit=1 should return the newest alert, got %+v", list)
	}
}

func TestAlerts_BadQuery(t *testing.T) {
	h, _, _ := newServer(t)
	for _, q := range []string{"status=burning", "severity=loud", "since=yesterday", "limit=-1"} {
		wantStatus(t, do(t, h, http.MethodGet, "/api/v1/alerts?"+q, ""), http.StatusBadRequest)
	}
}

func TestAlerts_FireRejectsBadBody(t *testing.T) {
	h, _, _ := newServer(t)
	wantStatus(t, do(t, h, http.MethodPost, "/api/v1/alerts", `{not json`), http.StatusBadRequest)
	wantStatus(t, do(t, h, http.MethodPost, "/api/v1/alerts", `{"severity":"critical"}`), http.StatusBadRequest)
	wantStatus(t, do(t, h, http.MethodPost, "/api/v1/alerts", `{"name":"X","severity":"meh"}`), http.StatusBadRequest)
	wantStatus(t, do(t, h, http.MethodPost, "/api/v1/alerts", ""), http.StatusBadRequest)
}

func TestAlerts_MethodNotAllowed(t *testing.T) {
	h, _, _ := newServer(t)
	wantStatus(t, do(t, h, http.MethodPut, "/api/v1/alerts", ""), http.StatusMethodNotAllowed)
}

// --- /api/v1/alerts/{id} ----------------------------------------------------

func TestGetAlert_FoundWithDiagnostics(t *testing.T) {
	h, m, clock := newServer(t)
	id := m.Fire(sig("HighCPU", "node"))
	clock.Advance(90 * time.Minute)

	rr := do(t, h, http.MethodGet, "/api/v1/alerts/"+id, "")
	wantStatus(t, rr, http.StatusOK)
	var resp api.AlertResponse
	decode(t, rr, &resp)
	if resp.ID != id || resp.Status != types.StatusFiring {
		t.Fatalf("alert: %+v", resp.Alert)
	}
	keys := map[string]string{}
	for _, d := range resp.Diagnostics {
		keys[d.Key] = d.Level
	}
	if keys["unacknowledged"] != "warning" {
		t.Errorf("unacknowledged hint: %v", keys)
	}
	if keys["no_policy"] != "warning" {
		t.Errorf("no_policy hint: %v", keys)
	}
}

func TestGetAlert_NotFound(t *testing.T) {
	h, _, _ := newServer(t)
	wantStatus(t, do(t, h, http.MethodGet, "/api/v1/alerts/does-not-exist", ""), http.StatusNotFound)
}

func TestGetAlert_MethodNotAllowed(t *testing.T) {
	h, m, _ := newServer(t)
	id := m.Fire(sig("HighCPU", "node"))
	wantStatus(t, do(t, h, http.MethodDelete, "/api/v1/alerts/"+id, ""), http.StatusMethodNotAllowed)
}

// --- /api/v1/alerts/{id}/ack ------------------------------------------------

func TestAck(t *testing.T) {
	h, m, _ := newServer(t)
	id := m.Fire(sig("HighCPU", "node"))

	rr := do(t, h, http.MethodPost, "/api/v1/alerts/"+id+"/ack", `{"by":"alice","comment":"on it"}`)
	wantStatus(t, rr, http.StatusOK)
	var a types.Alert
	decode(t, rr, &a)
	if a.Status != types.StatusAcknowledged || a.AcknowledgedBy != "alice" {
		t.Errorf("alert: %+v", a)
	}

	// Second ack conflicts; the alert is no longer firing.
	wantStatus(t, do(t, h, http.MethodPost, "/api/v1/alerts/"+id+"/ack", `{"by":"bob"}`), http.StatusConflict)
}

func TestAck_Errors(t *testing.T) {
	h, m, _ := newServer(t)
	id := m.Fire(sig("HighCPU", "node"))
	wantStatus(t, do(t, h, http.MethodPost, "/api/v1/alerts/nope/ack", `{"by":"alice"}`), http.StatusNotFound)
	wantStatus(t, do(t, h, http.MethodPost, "/api/v1/alerts/"+id+"/ack", `{}`), http.StatusBadRequest)
	wantStatus(t, do(t, h, http.MethodGet, "/api/v1/alerts/"+id+"/ack", ""), http.StatusMethodNotAllowed)
}

// --- /api/v1/alerts/resolve -------------------------------------------------

func TestResolve_ByNameAndLabels(t *testing.T) {
	h, m, _ := newServer(t)
	id := m.Fire(sig("HighCPU", "node"))

	rr := do(t, h, http.MethodPost, "/api/v1/alerts/resolve",
		`{"name":"HighCPU","labels":{"env":"prod"},"resolved_by":"ops"}`)
	wantStatus(t, rr, http.StatusOK)
	var resp struct {
		Fingerprint string `json:"fingerprint"`
		Resolved    bool   `json:"resolved"`
	}
	decode(t, rr, &resp)
	if !resp.Resolved {
		t.Fatal("resolved: got false")
	}
	a, _ := m.Alert(id)
	if a.Status != types.StatusResolved || a.Fingerprint != resp.Fingerprint {
		t.Errorf("alert after resolve: %+v", a)
	}

	// Idempotent: second call reports false.
	rr = do(t, h, http.MethodPost, "/api/v1/alerts/resolve", `{"fingerprint":"`+resp.Fingerprint+`"}`)
	decode(t, rr, &resp)
	if resp.Resolved {
		t.Error("second resolve: got true")
	}
}

func TestResolve_RequiresIdentity(t *testing.T) {
	h, _, _ := newServer(t)
	wantStatus(t, do(t, h, http.MethodPost, "/api/v1/alerts/resolve", `{"resolved_by":"ops"}`), http.StatusBadRequest)
	wantStatus(t, do(t, h, http.MethodGet, "/api/v1/alerts/resolve", ""), http.StatusMethodNotAllowed)
}

// --- /api/v1/stats ----------------------------------------------------------

func TestStats(t *testing.T) {
	h, m, clock := newServer(t)
	m.Fire(sig("Old", "legacy"))
	clock.Advance(48 * time.Hour)
	id := m.Fire(sig("New", ""))
	clock.Advance(10 * time.Minute)
	a, _ := m.Alert(id)
	m.Resolve(a.Fingerprint, "")

	rr := do(t, h, http.MethodGet, "/api/v1/stats", "")
	wantStatus(t, rr, http.StatusOK)
	var st api.StatsResponse
	decode(t, rr, &st)
	if st.Total != 1 || st.Timeframe != "24h0m0s" {
		t.Errorf("default timeframe: %+v", st)
	}
	if st.BySource["unknown"] != 1 {
		t.Errorf("by_source: %v", st.BySource)
	}
	if st.AvgResolutionSecs != 600 {
		t.Errorf("avg_resolution_seconds: got %v, want 600", st.AvgResolutionSecs)
	}

	rr = do(t, h, http.MethodGet, "/api/v1/stats?timeframe=0s", "")
	decode(t, rr, &st)
	if st.Total != 2 || st.Timeframe != "all" {
		t.Errorf("all timeframe: %+v", st)
	}

	rr = do(t, h, http.MethodGet, "/api/v1/stats?timeframe=all", "")
	wantStatus(t, rr, http.StatusOK)
	st = api.StatsResponse{}
	decode(t, rr, &st)
	if st.Total != 2 || st.Timeframe != "all" {
		t.Errorf("timeframe=all: %+v", st)
	}

	wantStatus(t, do(t, h, http.MethodGet, "/api/v1/stats?timeframe=soon", ""), http.StatusBadRequest)
}

// --- /api/v1/silences -------------------------------------------------------

func TestSilences_CreateListDelete(t *testing.T) {
	h, m, _ := newServer(t)
	alertID := m.Fire(sig("HighCPU", "node"))

	rr := do(t, h, http.MethodPost, "/api/v1/silences",
		`{"matchers":[{"name":"env","value":"prod"}],"duration":"2h","created_by":"alice","comment":"deploy"}`)
	wantStatus(t, rr, http.StatusCreated)
	var created map[string]string
	decode(t, rr, &created)
	sid := created["id"]
	if sid == "" {
		t.Fatal("no silence id returned")
	}
	if a, _ := m.Alert(alertID); a.Status != types.StatusSuppressed {
		t.Errorf("alert status: got %s, want suppressed", a.Status)
	}

	rr = do(t, h, http.MethodGet, "/api/v1/silences", "")
	wantStatus(t, rr, http.StatusOK)
	var list []api.SilenceResponse
	decode(t, rr, &list)
	if len(list) != 1 || list[0].ID != sid || !list[0].Active {
		t.Fatalf("silences: %+v", list)
	}
	if list[0].EndsAt != t0.Add(2*time.Hour).Format(time.RFC3339) {
		t.Errorf("ends_at: %s", list[0].EndsAt)
	}

	wantStatus(t, do(t, h, http.MethodDelete, "/api/v1/silences/"+sid, ""), http.StatusNoContent)
	if a, _ := m.Alert(alertID); a.Status != types.StatusFiring {
		t.Errorf("alert status after delete: got %s, want firing", a.Status)
	}
	wantStatus(t, do(t, h, http.MethodDelete, "/api/v1/silences/"+sid, ""), http.StatusNotFound)
}

func TestSilences_RejectsBadRequests(t *testing.T) {
	h, _, _ := newServer(t)
	cases := []string{
		`{"matchers":[],"duration":"1h"}`,
		`{"matchers":[{"name":"env","value":"prod"}],"duration":"forever"}`,
		`{"matchers":[{"name":"env","value":"prod"}],"duration":"-1h"}`,
		`{"matchers":[{"name":"env","value":"prod(","is_regex":true}],"duration":"1h"}`,
		`{"matchers":[{"name":"","value":"prod"}],"duration":"1h"}`,
	}
	for _, body := range cases {
		wantStatus(t, do(t, h, http.MethodPost, "/api/v1/silences", body), http.StatusBadRequest)
	}
}

func TestSilences_MethodNotAllowed(t *testing.T) {
	h, _, _ := newServer(t)
	wantStatus(t, do(t, h, http.MethodPut, "/api/v1/silences", ""), http.StatusMethodNotAllowed)
	wantStatus(t, do(t, h, http.MethodGet, "/api/v1/silences/abc", ""), http.StatusMethodNotAllowed)
}
