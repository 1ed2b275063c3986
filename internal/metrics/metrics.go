// Package metrics exposes Prometheus counters for the scheduler loop. The
// tick path is fire-and-forget; these counters are the only synchronous
// observability it has.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	reg *prometheus.Registry

	Ticks         prometheus.Counter
	TickErrors    prometheus.Counter
	Decisions     *prometheus.CounterVec // action label: none/start/stop
	Actions       *prometheus.CounterVec // action + result labels
	InstanceSkips *prometheus.CounterVec // reason label
	TickSeconds   prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{reg: prometheus.NewRegistry()}

	m.Ticks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "powerbot_ticks_total",
		Help: "Scheduler ticks executed.",
	})
	m.TickErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "powerbot_tick_errors_total",
		Help: "Ticks that failed before evaluating instances (e.g. list failed).",
	})
	m.Decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "powerbot_decisions_total",
		Help: "Evaluator decisions by action.",
	}, []string{"action"})
	m.Actions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "powerbot_provider_actions_total",
		Help: "Provider start/stop calls by result.",
	}, []string{"action", "result"})
	m.InstanceSkips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "powerbot_instance_skips_total",
		Help: "Instances skipped during a tick, by reason.",
	}, []string{"reason"})
	m.TickSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "powerbot_tick_duration_seconds",
		Help:    "Wall time of a full tick.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	m.reg.MustRegister(m.Ticks, m.TickErrors, m.Decisions, m.Actions, m.InstanceSkips, m.TickSeconds)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
