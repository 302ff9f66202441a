package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the server
type Metrics struct {
	// Session metrics
	activeSessions       prometheus.Gauge
	sessionsCreated      *prometheus.CounterVec // by transport
	sessionsDisconnected prometheus.Counter
	handshakesRefused    *prometheus.CounterVec // by reason

	// Message metrics
	messagesReceived *prometheus.CounterVec // by routing decision
	sendFailures     prometheus.Counter

	// Broadcast metrics
	broadcastFanout   prometheus.Histogram
	broadcastDuration prometheus.Histogram
}

// NewMetrics registers the server metrics with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "linechat_active_sessions",
				Help: "Current number of registered connections",
			},
		),
		sessionsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linechat_sessions_created_total",
				Help: "Total number of connections that completed the handshake",
			},
			[]string{"transport"},
		),
		sessionsDisconnected: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "linechat_sessions_disconnected_total",
				Help: "Total number of registered connections torn down",
			},
		),
		handshakesRefused: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linechat_handshakes_refused_total",
				Help: "Total number of handshakes answered with REFUSE",
			},
			[]string{"reason"},
		),
		messagesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linechat_messages_received_total",
				Help: "Total number of client lines by routing decision",
			},
			[]string{"kind"},
		),
		sendFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "linechat_send_failures_total",
				Help: "Total number of lines that could not be written to a connection",
			},
		),
		broadcastFanout: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "linechat_broadcast_fanout",
				Help:    "Number of connections that received each broadcast",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
		),
		broadcastDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "linechat_broadcast_duration_seconds",
				Help:    "Time taken to write a broadcast to every connection",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

// RecordActiveSessions updates the active session count
func (m *Metrics) RecordActiveSessions(count int) {
	m.activeSessions.Set(float64(count))
}

// RecordSessionCreated increments the session creation counter
func (m *Metrics) RecordSessionCreated(transport string) {
	m.sessionsCreated.WithLabelValues(transport).Inc()
}

// RecordSessionDisconnected increments the session disconnection counter
func (m *Metrics) RecordSessionDisconnected() {
	m.sessionsDisconnected.Inc()
}

func (m *Metrics) RecordHandshakeRefused(reason string) {
	m.handshakesRefused.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordMessageReceived(kind string) {
	m.messagesReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordSendFailure() {
	m.sendFailures.Inc()
}

// RecordBroadcast records fan-out and duration of one broadcast
func (m *Metrics) RecordBroadcast(recipients int, durationSeconds float64) {
	m.broadcastFanout.Observe(float64(recipients))
	m.broadcastDuration.Observe(durationSeconds)
}
