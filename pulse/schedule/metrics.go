package schedule

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "cadence"

// Metrics are the engine's prometheus collectors
type Metrics struct {
	Ticks           prometheus.Counter
	TickDuration    prometheus.Histogram
	LockAttempts    *prometheus.CounterVec // result: acquired, already_held, error
	Skipped         *prometheus.CounterVec // reason: in_flight, no_worker, lost_race
	Firings         *prometheus.CounterVec // job_type, outcome
	Misfires        *prometheus.CounterVec // job_type
	ExecDuration    *prometheus.HistogramVec
	InFlight        prometheus.Gauge
	ReleaseFailures prometheus.Counter
}

// NewMetrics creates the engine collectors and registers them with reg.
// A nil reg leaves them unregistered, which tests use to avoid collisions.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "ticks_total",
			Help:      "Scheduler ticks processed.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "tick_duration_seconds",
			Help:      "Time spent scanning and dispatching due triggers per tick.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1},
		}),
		LockAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "lock_attempts_total",
			Help:      "Trigger lock acquisition attempts by result.",
		}, []string{"result"}),
		Skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "skipped_total",
			Help:      "Due triggers not executed by this node, by reason.",
		}, []string{"reason"}),
		Firings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "jobs",
			Name:      "firings_total",
			Help:      "Job executions started by this node, by outcome.",
		}, []string{"job_type", "outcome"}),
		Misfires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "jobs",
			Name:      "misfires_total",
			Help:      "Firings that ran later than the misfire threshold.",
		}, []string{"job_type"}),
		ExecDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "jobs",
			Name:      "execution_duration_seconds",
			Help:      "Job execution time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job_type"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "jobs",
			Name:      "in_flight",
			Help:      "Executions currently running on this node.",
		}),
		ReleaseFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "engine",
			Name:      "lock_release_failures_total",
			Help:      "Trigger locks left to lease expiry after release retries ran out.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Ticks,
			m.TickDuration,
			m.LockAttempts,
			m.Skipped,
			m.Firings,
			m.Misfires,
			m.ExecDuration,
			m.InFlight,
			m.ReleaseFailures,
		)
	}
	return m
}
