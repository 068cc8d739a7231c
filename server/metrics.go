package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors the dispatcher and store
// wrapper feed. All collectors are registered on construction.
type Metrics struct {
	messagesTotal  *prometheus.CounterVec
	handleDuration *prometheus.HistogramVec
	sessionsActive prometheus.Gauge
	sessionsTotal  prometheus.Counter
}

// NewMetrics registers the server's collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mrepl_messages_total",
			Help: "Messages dispatched, by operation and outcome.",
		}, []string{"op", "outcome"}),
		handleDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mrepl_handle_duration_seconds",
			Help:    "Wall time spent inside the composed handler chain.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mrepl_sessions_active",
			Help: "Sessions currently registered in the store.",
		}),
		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mrepl_sessions_created_total",
			Help: "Sessions created or cloned since start.",
		}),
	}
}

func (m *Metrics) observeHandled(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(op, outcome).Inc()
	m.handleDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) sessionOpened() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
	m.sessionsTotal.Inc()
}

func (m *Metrics) sessionClosed() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}
