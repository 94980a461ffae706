package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for approval requests. Methods are safe
// on a nil receiver.
type Metrics struct {
	RequestsCreated  *prometheus.CounterVec
	Decisions        *prometheus.CounterVec
	DecisionsRefused *prometheus.CounterVec
	RequestsClosed   *prometheus.CounterVec
	DecisionLatency  prometheus.Histogram
}

func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditflow_approval_requests_created_total",
			Help: "Approval requests created, by priority",
		}, []string{"priority"}),
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditflow_approval_decisions_total",
			Help: "Step decisions applied, by decision kind",
		}, []string{"decision"}),
		DecisionsRefused: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditflow_approval_decisions_refused_total",
			Help: "Step decisions refused, by error code",
		}, []string{"code"}),
		RequestsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditflow_approval_requests_closed_total",
			Help: "Requests reaching a terminal status, by status",
		}, []string{"status"}),
		DecisionLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "auditflow_approval_decision_duration_seconds",
			Help:    "Time to load, sequence and persist one decision",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

func (m *Metrics) IncrementCreated(priority string) {
	if m == nil {
		return
	}
	m.RequestsCreated.WithLabelValues(priority).Inc()
}

func (m *Metrics) IncrementDecision(kind string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncrementRefused(code string) {
	if m == nil {
		return
	}
	m.DecisionsRefused.WithLabelValues(code).Inc()
}

func (m *Metrics) IncrementClosed(status string) {
	if m == nil {
		return
	}
	m.RequestsClosed.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveDecision(start time.Time) {
	if m == nil {
		return
	}
	m.DecisionLatency.Observe(time.Since(start).Seconds())
}
