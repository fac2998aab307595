package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/obsidianstack/alertd/pkg/labels"
	"github.com/obsidianstack/alertd/pkg/signal"
	"github.com/obsidianstack/alertd/pkg/types"
	"github.com/obsidianstack/alertd/server/internal/alerts"
	"github.com/obsidianstack/alertd/server/internal/scheduler"
	"github.com/obsidianstack/alertd/server/internal/senders"
)

const (
	defaultStatsTimeframe = 24 * time.Hour

	// maxBodyBytes caps request bodies.
	maxBodyBytes = 1 << 20
)

// Manager is the alert manager surface the API drives.
type Manager interface {
	Fire(sig types.Signal) string
	Resolve(fingerprint, resolvedBy string) bool
	Acknowledge(id, by, comment string) bool
	Silence(matchers []labels.Matcher, d time.Duration, createdBy, comment string) (string, error)
	RemoveSilence(id string) bool
	Alert(id string) (types.Alert, bool)
	Alerts(f alerts.Filter) []types.Alert
	Silences() []alerts.Silence
	Stats(timeframe time.Duration) alerts.Stats
}

// SenderLister lists recently seen gRPC senders.
type SenderLister interface {
	List() []senders.Entry
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	mgr     Manager
	senders SenderLister
	clock   scheduler.Clock
	mux     *http.ServeMux
}

// Option configures a Handler.
type Option func(*Handler)

// WithClock sets the clock used for silence activity and diagnostics.
func WithClock(c scheduler.Clock) Option {
	return func(h *Handler) { h.clock = c }
}

// WithSenders reports the senders listed by l in the health payload.
func WithSenders(l SenderLister) Option {
	return func(h *Handler) { h.senders = l }
}

// New creates a Handler wired to mgr and registers all routes.
func New(mgr Manager, opts ...Option) http.Handler {
	h := &Handler{mgr: mgr, clock: scheduler.SystemClock{}, mux: http.NewServeMux()}
	for _, o := range opts {
		o(h)
	}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/alerts", h.alerts)
	h.mux.HandleFunc("/api/v1/alerts/", h.alertSubtree) // {id}, {id}/ack, resolve
	h.mux.HandleFunc("/api/v1/stats", h.stats)
	h.mux.HandleFunc("/api/v1/silences", h.silences)
	h.mux.HandleFunc("/api/v1/silences/", h.deleteSilence)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	st := h.mgr.Stats(0)
	now := h.clock.Now()
	active := 0
	for _, s := range h.mgr.Silences() {
		if s.ActiveAt(now) {
			active++
		}
	}
	resp := HealthResponse{
		Status:       "ok",
		Firing:       st.ByStatus[types.StatusFiring],
		Acknowledged: st.ByStatus[types.StatusAcknowledged],
		Suppressed:   st.ByStatus[types.StatusSuppressed],
		Resolved:     st.ByStatus[types.StatusResolved],
		Silences:     active,
	}
	if h.senders != nil {
		resp.Senders = h.senders.List()
	}
	jsonResp(w, http.StatusOK, resp)
}

// alerts serves GET (list) and POST (fire) on /api/v1/alerts.
func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		f, err := parseFilter(r)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, err.Error())
			return
		}
		jsonResp(w, http.StatusOK, h.mgr.Alerts(f))
	case http.MethodPost:
		var sig types.Signal
		if err := decodeBody(r, &sig); err != nil {
			jsonErr(w, http.StatusBadRequest, err.Error())
			return
		}
		if sig.Name == "" {
			jsonErr(w, http.StatusBadRequest, "name is required")
			return
		}
		if sig.Severity != "" && !sig.Severity.Valid() {
			jsonErr(w, http.StatusBadRequest, fmt.Sprintf("severity %q unknown", sig.Severity))
			return
		}
		id := h.mgr.Fire(sig)
		jsonResp(w, http.StatusCreated, FireResponse{
			ID:          id,
			Fingerprint: labels.Fingerprint(labels.Identity(sig.Name, sig.Labels)),
		})
	default:
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// alertSubtree dispatches /api/v1/alerts/{id}, /api/v1/alerts/{id}/ack and
// /api/v1/alerts/resolve.
func (h *Handler) alertSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/alerts/"), "/")
	switch {
	case rest == "":
		h.alerts(w, r)
	case rest == "resolve":
		h.resolve(w, r)
	case strings.HasSuffix(rest, "/ack"):
		h.ack(w, r, strings.TrimSuffix(rest, "/ack"))
	case !strings.Contains(rest, "/"):
		h.getAlert(w, r, rest)
	default:
		jsonErr(w, http.StatusNotFound, "not found")
	}
}

// getAlert returns GET /api/v1/alerts/{id}.
func (h *Handler) getAlert(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	a, ok := h.mgr.Alert(id)
	if !ok {
		jsonErr(w, http.StatusNotFound, "alert not found")
		return
	}
	jsonResp(w, http.StatusOK, AlertResponse{
		Alert:       a,
		Diagnostics: computeDiagnostics(a, h.clock.Now()),
	})
}

// ack serves POST /api/v1/alerts/{id}/ack.
func (h *Handler) ack(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req AckRequest
	if err := decodeBody(r, &req); err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.By == "" {
		jsonErr(w, http.StatusBadRequest, "by is required")
		return
	}
	a, ok := h.mgr.Alert(id)
	if !ok {
		jsonErr(w, http.StatusNotFound, "alert not found")
		return
	}
	if !h.mgr.Acknowledge(id, req.By, req.Comment) {
		jsonErr(w, http.StatusConflict, fmt.Sprintf("alert is %s, only firing alerts can be acknowledged", a.Status))
		return
	}
	a, _ = h.mgr.Alert(id)
	jsonResp(w, http.StatusOK, a)
}

// resolve serves POST /api/v1/alerts/resolve.
func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req signal.ResolveRequest
	if err := decodeBody(r, &req); err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	fp := req.Fingerprint
	if fp == "" {
		if req.Name == "" {
			jsonErr(w, http.StatusBadRequest, "fingerprint or name is required")
			return
		}
		fp = labels.Fingerprint(labels.Identity(req.Name, req.Labels))
	}
	jsonResp(w, http.StatusOK, signal.ResolveResponse{
		Fingerprint: fp,
		Resolved:    h.mgr.Resolve(fp, req.ResolvedBy),
	})
}

// stats returns GET /api/v1/stats.
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	tf := defaultStatsTimeframe
	if v := r.URL.Query().Get("timeframe"); v == "all" {
		tf = 0
	} else if v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, "timeframe: "+err.Error())
			return
		}
		tf = d
	}
	st := h.mgr.Stats(tf)
	label := tf.String()
	if tf <= 0 {
		label = "all"
	}
	jsonResp(w, http.StatusOK, StatsResponse{
		Timeframe:         label,
		Total:             st.Total,
		ByStatus:          st.ByStatus,
		BySeverity:        st.BySeverity,
		BySource:          st.BySource,
		AvgResolutionSecs: st.AvgResolutionTime.Seconds(),
		EscalationRate:    st.EscalationRate,
	})
}

// silences serves GET (list) and POST (create) on /api/v1/silences.
func (h *Handler) silences(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		now := h.clock.Now()
		list := h.mgr.Silences()
		out := make([]SilenceResponse, 0, len(list))
		for _, s := range list {
			out = append(out, toSilenceResponse(s, now))
		}
		jsonResp(w, http.StatusOK, out)
	case http.MethodPost:
		var req SilenceRequest
		if err := decodeBody(r, &req); err != nil {
			jsonErr(w, http.StatusBadRequest, err.Error())
			return
		}
		d, err := time.ParseDuration(req.Duration)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, "duration: "+err.Error())
			return
		}
		// Reject what the manager would accept but never match.
		for _, m := range req.Matchers {
			if err := m.Validate(); err != nil {
				jsonErr(w, http.StatusBadRequest, err.Error())
				return
			}
		}
		id, err := h.mgr.Silence(req.Matchers, d, req.CreatedBy, req.Comment)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, err.Error())
			return
		}
		jsonResp(w, http.StatusCreated, map[string]string{"id": id})
	default:
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// deleteSilence serves DELETE /api/v1/silences/{id}.
func (h *Handler) deleteSilence(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/silences/"), "/")
	if id == "" {
		h.silences(w, r)
		return
	}
	if r.Method != http.MethodDelete {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !h.mgr.RemoveSilence(id) {
		jsonErr(w, http.StatusNotFound, "silence not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// parseFilter reads the list query parameters.
func parseFilter(r *http.Request) (alerts.Filter, error) {
	q := r.URL.Query()
	f := alerts.Filter{
		Status:   types.Status(q.Get("status")),
		Severity: types.Severity(q.Get("severity")),
		Source:   q.Get("source"),
	}
	if f.Status != "" && !f.Status.Valid() {
		return f, fmt.Errorf("status %q unknown", f.Status)
	}
	if f.Severity != "" && !f.Severity.Valid() {
		return f, fmt.Errorf("severity %q unknown", f.Severity)
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("since: %w", err)
		}
		f.Since = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("limit %q must be a non-negative integer", v)
		}
		f.Limit = n
	}
	return f, nil
}

func toSilenceResponse(s alerts.Silence, now time.Time) SilenceResponse {
	return SilenceResponse{
		ID:        s.ID,
		Matchers:  s.Matchers,
		StartsAt:  s.StartsAt.UTC().Format(time.RFC3339),
		EndsAt:    s.EndsAt.UTC().Format(time.RFC3339),
		CreatedBy: s.CreatedBy,
		Comment:   s.Comment,
		Active:    s.ActiveAt(now),
	}
}
