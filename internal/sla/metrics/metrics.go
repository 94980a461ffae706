package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for SLA evaluation and sweeps.
// All methods are safe to call on a nil receiver.
type Metrics struct {
	TicksTotal        *prometheus.CounterVec
	AlertsRaised      *prometheus.CounterVec
	AlertsSuppressed  *prometheus.CounterVec
	Escalations       *prometheus.CounterVec
	TickDuration      prometheus.Histogram
	SweepDuration     prometheus.Histogram
	SweepSubjects     prometheus.Gauge
	SweepFailures     prometheus.Counter
	SweepLockSkips    prometheus.Counter
	MonitoringsFrozen prometheus.Counter
}

// New registers SLA metrics with the default registerer.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers SLA metrics with reg. Tests pass a fresh registry.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TicksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditflow_sla_ticks_total",
			Help: "SLA evaluation ticks by outcome status",
		}, []string{"status"}),
		AlertsRaised: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditflow_sla_alerts_raised_total",
			Help: "SLA alerts committed, by alert type",
		}, []string{"alert_type"}),
		AlertsSuppressed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditflow_sla_alerts_suppressed_total",
			Help: "SLA alerts suppressed by the deduplication window, by alert type",
		}, []string{"alert_type"}),
		Escalations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditflow_sla_escalations_total",
			Help: "Escalations committed, by level",
		}, []string{"level"}),
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "auditflow_sla_tick_duration_seconds",
			Help:    "Duration of a single subject evaluation",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "auditflow_sla_sweep_duration_seconds",
			Help:    "Duration of a full sweep over open subjects",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		SweepSubjects: f.NewGauge(prometheus.GaugeOpts{
			Name: "auditflow_sla_sweep_subjects",
			Help: "Subjects considered by the most recent sweep",
		}),
		SweepFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "auditflow_sla_sweep_failures_total",
			Help: "Subject evaluations that failed during a sweep",
		}),
		SweepLockSkips: f.NewCounter(prometheus.CounterOpts{
			Name: "auditflow_sla_sweep_lock_skips_total",
			Help: "Subjects skipped because another worker held their lock",
		}),
		MonitoringsFrozen: f.NewCounter(prometheus.CounterOpts{
			Name: "auditflow_sla_monitorings_frozen_total",
			Help: "Monitoring records frozen after the subject reached a terminal state",
		}),
	}
}

// IncrementTick records a tick outcome.
func (m *Metrics) IncrementTick(status string) {
	if m == nil {
		return
	}
	m.TicksTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) IncrementAlert(alertType string) {
	if m == nil {
		return
	}
	m.AlertsRaised.WithLabelValues(alertType).Inc()
}

func (m *Metrics) IncrementSuppressed(alertType string) {
	if m == nil {
		return
	}
	m.AlertsSuppressed.WithLabelValues(alertType).Inc()
}

func (m *Metrics) IncrementEscalation(level string) {
	if m == nil {
		return
	}
	m.Escalations.WithLabelValues(level).Inc()
}

func (m *Metrics) IncrementFrozen() {
	if m == nil {
		return
	}
	m.MonitoringsFrozen.Inc()
}

// ObserveTick records the duration of one evaluation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveTick(start time.Time) {
	if m == nil {
		return
	}
	m.TickDuration.Observe(time.Since(start).Seconds())
}

// ObserveSweep records a completed sweep.
func (m *Metrics) ObserveSweep(start time.Time, subjects, failures, skipped int) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(time.Since(start).Seconds())
	m.SweepSubjects.Set(float64(subjects))
	m.SweepFailures.Add(float64(failures))
	m.SweepLockSkips.Add(float64(skipped))
}
