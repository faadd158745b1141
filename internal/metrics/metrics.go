// Package metrics declares the Prometheus collectors the engine and
// backends report against: tick/phase duration, targets advanced per
// tick, backend call outcomes, and retry counts.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector the engine instruments itself with. It
// is a plain value created once per process and registered against a
// caller-owned registry, not a package-level global, matching "the engine
// is a single owned object."
type Metrics struct {
	TickDuration    prometheus.Histogram
	PhaseDuration   *prometheus.HistogramVec
	TargetsAdvanced prometheus.Counter
	BackendCalls    *prometheus.CounterVec
	Retries         *prometheus.CounterVec
}

// New constructs a fresh Metrics value and registers every collector on
// reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cirrusflow",
			Subsystem: "engine",
			Name:      "tick_duration_seconds",
			Help:      "Duration of one full engine tick (discover+classify+apply).",
			Buckets:   prometheus.DefBuckets,
		}),
		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cirrusflow",
			Subsystem: "engine",
			Name:      "phase_duration_seconds",
			Help:      "Duration of one tick phase, labeled by phase name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
		TargetsAdvanced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cirrusflow",
			Subsystem: "engine",
			Name:      "targets_advanced_total",
			Help:      "Targets for which classify() produced a start/update unit.",
		}),
		BackendCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cirrusflow",
			Subsystem: "backend",
			Name:      "calls_total",
			Help:      "Backend calls, labeled by backend name, verb, and outcome.",
		}, []string{"backend", "verb", "outcome"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cirrusflow",
			Subsystem: "backend",
			Name:      "start_retries_total",
			Help:      "Recoverable start() outcomes, labeled by backend name.",
		}, []string{"backend"}),
	}
	reg.MustRegister(m.TickDuration, m.PhaseDuration, m.TargetsAdvanced, m.BackendCalls, m.Retries)
	return m
}
