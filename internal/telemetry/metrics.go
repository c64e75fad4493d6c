package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "solarctl",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// CycleDuration tracks the wall-clock duration of one automation cycle (C6),
// per tenant and per outcome.
var CycleDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "solarctl",
		Subsystem: "cycle",
		Name:      "duration_seconds",
		Help:      "Automation cycle duration in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 50},
	},
	[]string{"outcome"},
)

// CyclesTotal counts completed automation cycles by terminal outcome
// (applied, skipped, no_rule, error, blackout, quickcontrol).
var CyclesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "solarctl",
		Subsystem: "cycle",
		Name:      "total",
		Help:      "Total number of automation cycles by outcome.",
	},
	[]string{"outcome"},
)

// ApplyOutcomesTotal counts the result of the apply-and-verify protocol (C6
// step 9): applied_verified, applied_unverified, apply_failed.
var ApplyOutcomesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "solarctl",
		Subsystem: "apply",
		Name:      "outcomes_total",
		Help:      "Total number of schedule apply attempts by outcome.",
	},
	[]string{"outcome"},
)

// CurtailmentTransitionsTotal counts curtailment engine (C7) state
// transitions by the from/to state pair.
var CurtailmentTransitionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "solarctl",
		Subsystem: "curtailment",
		Name:      "transitions_total",
		Help:      "Total number of curtailment state transitions.",
	},
	[]string{"from", "to"},
)

// ExternalCallsTotal counts external provider calls by provider, operation
// and whether they were system-originated (unmetered) or user-originated
// (metered against the tenant's daily quota).
var ExternalCallsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "solarctl",
		Subsystem: "external",
		Name:      "calls_total",
		Help:      "Total number of external provider calls.",
	},
	[]string{"provider", "operation", "origin", "outcome"},
)

// CircuitBreakerStateChanges counts circuit breaker transitions per provider.
var CircuitBreakerStateChanges = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "solarctl",
		Subsystem: "breaker",
		Name:      "state_changes_total",
		Help:      "Total number of circuit breaker state transitions.",
	},
	[]string{"provider", "state"},
)

// QuickControlEventsTotal counts quick-control override start/stop/expiry events.
var QuickControlEventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "solarctl",
		Subsystem: "quickcontrol",
		Name:      "events_total",
		Help:      "Total number of quick-control override events.",
	},
	[]string{"event"},
)

// All returns all solarctl-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		CycleDuration,
		CyclesTotal,
		ApplyOutcomesTotal,
		CurtailmentTransitionsTotal,
		ExternalCallsTotal,
		CircuitBreakerStateChanges,
		QuickControlEventsTotal,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process
// collectors, the shared HTTPRequestDuration metric, and any additional
// service-specific collectors passed as arguments.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
