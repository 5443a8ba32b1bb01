package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "spokevisor"
	subsystem = "service"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "starts_total",
			Help:      "Number of services that reached running after a start.",
		}, []string{"service"},
	)
	startFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "start_failures_total",
			Help:      "Number of starts that ended in the error state, by reason.",
		}, []string{"service", "reason"},
	)
	serviceRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "restarts_total",
			Help:      "Number of auto restarts triggered by failed health checks.",
		}, []string{"service"},
	)
	budgetExhausted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "restart_budget_exhausted_total",
			Help:      "Number of times auto restart gave up because the restart window was full.",
		}, []string{"service"},
	)
	serviceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stops_total",
			Help:      "Number of stops, by mode (graceful, forced, container).",
		}, []string{"service", "mode"},
	)
	startupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "startup_duration_seconds",
			Help:      "Time from spawn to confirmed liveness.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"service"},
	)
	healthChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "health_checks_total",
			Help:      "Health checks run by the poll loop, by result.",
		}, []string{"service", "result"},
	)
	adopted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "adopted_total",
			Help:      "Services found already running at boot and adopted.",
		}, []string{"service"},
	)

	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between service states.",
		}, []string{"service", "from", "to"},
	)

	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "current_state",
			Help:      "Current state of services (1 = active state, 0 = inactive).",
		}, []string{"service", "state"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		serviceStarts, startFailures, serviceRestarts, budgetExhausted, serviceStops,
		startupDuration, healthChecks, adopted, stateTransitions, currentStates,
	}
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
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(service string) {
	if regOK.Load() {
		serviceStarts.WithLabelValues(service).Inc()
	}
}

func IncStartFailure(service, reason string) {
	if regOK.Load() {
		startFailures.WithLabelValues(service, reason).Inc()
	}
}

func IncRestart(service string) {
	if regOK.Load() {
		serviceRestarts.WithLabelValues(service).Inc()
	}
}

func IncBudgetExhausted(service string) {
	if regOK.Load() {
		budgetExhausted.WithLabelValues(service).Inc()
	}
}

func IncStop(service, mode string) {
	if regOK.Load() {
		serviceStops.WithLabelValues(service, mode).Inc()
	}
}

func ObserveStartupDuration(service string, seconds float64) {
	if regOK.Load() {
		startupDuration.WithLabelValues(service).Observe(seconds)
	}
}

func IncHealthCheck(service string, healthy bool) {
	if regOK.Load() {
		result := "unhealthy"
		if healthy {
			result = "healthy"
		}
		healthChecks.WithLabelValues(service, result).Inc()
	}
}

func IncAdopted(service string) {
	if regOK.Load() {
		adopted.WithLabelValues(service).Inc()
	}
}

// States lists every state label exported by current_state.
var States = []string{"stopped", "starting", "running", "stopping", "error"}

// RecordStateTransition counts from->to and moves the current_state gauge.
func RecordStateTransition(service, from, to string) {
	if !regOK.Load() || from == to {
		return
	}
	stateTransitions.WithLabelValues(service, from, to).Inc()
	for _, s := range States {
		var v float64
		if s == to {
			v = 1
		}
		currentStates.WithLabelValues(service, s).Set(v)
	}
}
