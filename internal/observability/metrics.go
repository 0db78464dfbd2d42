package observability

import (
	"errors"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects generation job counters. A nil *Metrics is a no-op.
type Metrics struct {
	transitions *prometheus.CounterVec
	dispatches  *prometheus.CounterVec
	pollErrors  *prometheus.CounterVec
	cancels     *prometheus.CounterVec
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "generation_transitions_total",
		Help: "Total job state transitions by target state and backend.",
	}, []string{"state", "backend"})
	dispatches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "generation_dispatch_attempts_total",
		Help: "Total dispatch attempts by backend and outcome.",
	}, []string{"backend", "outcome"})
	pollErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "generation_poll_errors_total",
		Help: "Total transient status-check failures by backend.",
	}, []string{"backend"})
	cancels := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "generation_cancel_notifications_total",
		Help: "Total best-effort cancel notifications by backend and outcome.",
	}, []string{"backend", "outcome"})

	return &Metrics{
		transitions: registerCounterVec(registerer, transitions),
		dispatches:  registerCounterVec(registerer, dispatches),
		pollErrors:  registerCounterVec(registerer, pollErrors),
		cancels:     registerCounterVec(registerer, cancels),
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

func (m *Metrics) IncTransition(state, backend string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(state, backend).Inc()
}

func (m *Metrics) IncDispatch(backend, outcome string) {
	if m == nil || m.dispatches == nil {
		return
	}
	m.dispatches.WithLabelValues(backend, outcome).Inc()
}

func (m *Metrics) IncPollError(backend string) {
	if m == nil || m.pollErrors == nil {
		return
	}
	m.pollErrors.WithLabelValues(backend).Inc()
}

func (m *Metrics) IncCancel(backend, outcome string) {
	if m == nil || m.cancels == nil {
		return
	}
	m.cancels.WithLabelValues(backend, outcome).Inc()
}

// registerCounterVec returns the already registered collector when there is
// one. Any other registration error leaves counter working but unexported.
func registerCounterVec(registerer prometheus.Registerer, counter *prometheus.CounterVec) *prometheus.CounterVec {
	err := registerer.Register(counter)
	if err == nil {
		return counter
	}

	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
			return existing
		}
	}
	log.Printf("[Metrics] failed to register collector: %v", err)
	return counter
}
