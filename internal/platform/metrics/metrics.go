package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	RequestsCreated *prometheus.CounterVec
	Decisions       *prometheus.CounterVec
	ApplierFailures prometheus.Counter
	RacesLost       prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		RequestsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "peopleops_change_requests_created_total",
			Help: "Total number of change requests submitted, by module.",
		}, []string{"module"}),
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "peopleops_change_request_decisions_total",
			Help: "Total number of terminal decisions, by outcome.",
		}, []string{"outcome"}),
		ApplierFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "peopleops_applier_failures_total",
			Help: "Total number of mutation applier failures during approval.",
		}),
		RacesLost: promauto.NewCounter(prometheus.CounterOpts{
			Name: "peopleops_decision_races_lost_total",
			Help: "Total number of decision attempts that lost the conditional transition.",
		}),
	}
}

// IncRequestCreated increments the created counter for a module tag.
func (m *Metrics) IncRequestCreated(module string) {
	if m == nil {
		return
	}
	m.RequestsCreated.WithLabelValues(module).Inc()
}

// IncDecision increments the decision counter for an outcome (approved/rejected).
func (m *Metrics) IncDecision(outcome string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(outcome).Inc()
}

// IncApplierFailure increments the applier failure counter.
func (m *Metrics) IncApplierFailure() {
	if m == nil {
		return
	}
	m.ApplierFailures.Inc()
}

// IncRaceLost increments the lost-race counter.
func (m *Metrics) IncRaceLost() {
	if m == nil {
		return
	}
	m.RacesLost.Inc()
}
