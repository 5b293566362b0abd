package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	workerStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "engramd",
			Subsystem: "worker",
			Name:      "starts_total",
			Help:      "Number of successful worker starts.",
		},
	)
	workerRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "engramd",
			Subsystem: "worker",
			Name:      "restarts_total",
			Help:      "Number of automatic restarts after a crash or failed health check.",
		},
	)
	workerStops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "engramd",
			Subsystem: "worker",
			Name:      "stops_total",
			Help:      "Number of requested stops (graceful or kill).",
		},
	)
	workerCrashes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "engramd",
			Subsystem: "worker",
			Name:      "crashes_total",
			Help:      "Number of unexpected worker exits.",
		},
	)
	probeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "engramd",
			Subsystem: "worker",
			Name:      "probe_duration_seconds",
			Help:      "Observed duration of status endpoint probes.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "engramd",
			Subsystem: "worker",
			Name:      "state_transitions_total",
			Help:      "Number of transitions between worker lifecycle states.",
		}, []string{"from", "to"},
	)

	currentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "engramd",
			Subsystem: "worker",
			Name:      "current_state",
			Help:      "Current worker lifecycle state (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{workerStarts, workerRestarts, workerStops, workerCrashes, probeDuration, stateTransitions, currentState}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart() {
	if regOK.Load() {
		workerStarts.Inc()
	}
}
func IncRestart() {
	if regOK.Load() {
		workerRestarts.Inc()
	}
}
func IncStop() {
	if regOK.Load() {
		workerStops.Inc()
	}
}
func IncCrash() {
	if regOK.Load() {
		workerCrashes.Inc()
	}
}
func ObserveProbeDuration(seconds float64) {
	if regOK.Load() {
		probeDuration.Observe(seconds)
	}
}

func RecordStateTransition(from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(from, to).Inc()
	}
}

func SetCurrentState(state string, active bool) {
	if regOK.Load() {
		var value float64 = 0
		if active {
			value = 1
		}
		currentState.WithLabelValues(state).Set(value)
	}
}
