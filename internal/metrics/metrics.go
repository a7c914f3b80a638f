// Package metrics holds the prometheus collectors for the monitor and notifier.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "steamwatch"

type Metrics struct {
	reg *prometheus.Registry

	polls         *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	notifications *prometheus.CounterVec
	tier          prometheus.Gauge
	rules         *prometheus.GaugeVec
}

// New creates a private registry with process and Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Polling passes by loop and result",
		}, []string{"loop", "result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Detected activity transitions by kind",
		}, []string{"kind"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications by render path and dispatch result",
		}, []string{"path", "result"}),
		tier: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tier_seconds",
			Help:      "Current individual polling interval",
		}),
		rules: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rules",
			Help:      "Monitoring rules by mode",
		}, []string{"mode"}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.polls, m.transitions, m.notifications, m.tier, m.rules,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Poll(loop, result string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(loop, result).Inc()
}

func (m *Metrics) Transition(kind string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(kind).Inc()
}

func (m *Metrics) Notification(path, result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(path, result).Inc()
}

func (m *Metrics) SetTier(d time.Duration) {
	if m == nil {
		return
	}
	m.tier.Set(d.Seconds())
}

func (m *Metrics) SetRules(mode string, n int) {
	if m == nil {
		return
	}
	m.rules.WithLabelValues(mode).Set(float64(n))
}
