package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons.
const (
	ReasonQueueFull   = "queue_full"
	ReasonClosed      = "closed"
	ReasonCircuitOpen = "circuit_open"
)

// Metrics tracks notification delivery. All methods are safe on a nil receiver.
type Metrics struct {
	Enqueued   *prometheus.CounterVec
	Delivered  *prometheus.CounterVec
	Failed     *prometheus.CounterVec
	Dropped    *prometheus.CounterVec
	Retries    prometheus.Counter
	QueueDepth prometheus.Gauge
}

func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers notification metrics with reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Enqueued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditflow_notifications_enqueued_total",
			Help: "Notification intents accepted by the dispatcher, by kind",
		}, []string{"kind"}),
		Delivered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditflow_notifications_delivered_total",
			Help: "Notification intents published, by kind",
		}, []string{"kind"}),
		Failed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditflow_notifications_failed_total",
			Help: "Notification intents abandoned after retries, by kind",
		}, []string{"kind"}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auditflow_notifications_dropped_total",
			Help: "Notification intents dropped before delivery, by reason",
		}, []string{"reason"}),
		Retries: f.NewCounter(prometheus.CounterOpts{
			Name: "auditflow_notification_retries_total",
			Help: "Publish attempts retried after a failure",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "auditflow_notification_queue_depth",
			Help: "Intents waiting in the dispatcher queue",
		}),
	}
}

func (m *Metrics) IncrementEnqueued(kind string) {
	if m == nil {
		return
	}
	m.Enqueued.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncrementDelivered(kind string) {
	if m == nil {
		return
	}
	m.Delivered.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncrementFailed(kind string) {
	if m == nil {
		return
	}
	m.Failed.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncrementDropped(reason string) {
	if m == nil {
		return
	}
	m.Dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncrementRetries() {
	if m == nil {
		return
	}
	m.Retries.Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}
