package board

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes orchestrator metrics under the "boardroom" namespace:
//
//   - active_sessions (gauge): sessions currently running
//   - sessions_total (counter, status): terminal outcomes
//   - node_executions_total (counter, node/status): executions per node
//   - node_latency_ms (histogram, node): node execution duration
//   - events_published_total (counter, type): published session events
//   - spend_usd_total (counter): model spend across all sessions
type Metrics struct {
	activeSessions prometheus.Gauge
	sessionsTotal  *prometheus.CounterVec
	nodeExecutions *prometheus.CounterVec
	nodeLatency    *prometheus.HistogramVec
	eventsTotal    *prometheus.CounterVec
	spendTotal     prometheus.Counter
}

// NewMetrics registers the collectors with registry. A nil registry uses
// the default registerer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "boardroom",
			Name:      "active_sessions",
			Help:      "Number of sessions currently running.",
		}),
		sessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boardroom",
			Name:      "sessions_total",
			Help:      "Sessions reaching a terminal status.",
		}, []string{"status"}),
		nodeExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boardroom",
			Name:      "node_executions_total",
			Help:      "Node executions by node and outcome.",
		}, []string{"node", "status"}),
		nodeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "boardroom",
			Name:      "node_latency_ms",
			Help:      "Node execution duration in milliseconds.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000},
		}, []string{"node"}),
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "boardroom",
			Name:      "events_published_total",
			Help:      "Session events published by type.",
		}, []string{"type"}),
		spendTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "boardroom",
			Name:      "spend_usd_total",
			Help:      "Cumulative model spend in USD.",
		}),
	}
}

// SessionStarted increments the active session gauge.
func (m *Metrics) SessionStarted() { m.activeSessions.Inc() }

// SessionEnded decrements the gauge and counts the terminal status.
func (m *Metrics) SessionEnded(status string) {
	m.activeSessions.Dec()
	m.sessionsTotal.WithLabelValues(status).Inc()
}

// NodeDone records one node execution.
func (m *Metrics) NodeDone(node string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.nodeExecutions.WithLabelValues(node, status).Inc()
	m.nodeLatency.WithLabelValues(node).Observe(float64(d.Milliseconds()))
}

// EventPublished counts one published event.
func (m *Metrics) EventPublished(typ string) {
	m.eventsTotal.WithLabelValues(typ).Inc()
}

// SpendAdded accumulates model spend.
func (m *Metrics) SpendAdded(usd float64) {
	m.spendTotal.Add(usd)
}
