// Package metrics exposes the alert engine's Prometheus collectors.
// All methods are nil-safe so components can run without instrumentation.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "alertd"

// Metrics holds the engine collectors.
type Metrics struct {
	reg *prometheus.Registry

	alertsFired   *prometheus.CounterVec
	notifications *prometheus.CounterVec
	escalations   *prometheus.CounterVec
	alerts        *prometheus.GaugeVec
	silences      prometheus.Gauge
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		alertsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_fired_total",
			Help:      "Alerts created, by severity. Deduplicated re-fires are not counted.",
		}, []string{"severity"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification send attempts, by channel type and result.",
		}, []string{"channel_type", "result"}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Escalation levels reached, by level.",
		}, []string{"level"}),
		alerts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alerts",
			Help:      "Alerts currently held in memory, by status.",
		}, []string{"status"}),
		silences: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "silences_active",
			Help:      "Silences currently stored.",
		}),
	}
	m.reg.MustRegister(
		m.alertsFired, m.notifications, m.escalations, m.alerts, m.silences,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) AlertFired(severity string) {
	if m == nil {
		return
	}
	m.alertsFired.WithLabelValues(severity).Inc()
}

// Transition moves one alert between status gauges. An empty from means the
// alert is new; an empty to means it was evicted.
func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	if from != "" {
		m.alerts.WithLabelValues(from).Dec()
	}
	if to != "" {
		m.alerts.WithLabelValues(to).Inc()
	}
}

func (m *Metrics) Notification(channelType string, ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.notifications.WithLabelValues(channelType, result).Inc()
}

func (m *Metrics) Escalated(level int) {
	if m == nil {
		return
	}
	m.escalations.WithLabelValues(strconv.Itoa(level)).Inc()
}

func (m *Metrics) SetSilences(n int) {
	if m == nil {
		return
	}
	m.silences.Set(float64(n))
}
