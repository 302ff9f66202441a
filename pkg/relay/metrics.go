package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Forwarding directions, used as metric labels
const (
	directionUpstream   = "upstream"   // client to server
	directionDownstream = "downstream" // server to client
)

// Failure stages, used as metric labels
const (
	stageDial      = "dial"
	stageHandshake = "handshake"
)

// Metrics holds the relay's Prometheus metrics
type Metrics struct {
	activePairs    prometheus.Gauge
	accepted       prometheus.Counter
	failed         *prometheus.CounterVec // by stage
	bytesForwarded *prometheus.CounterVec // by direction
}

// NewMetrics registers the relay metrics with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		activePairs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "linechat_relay_active_pairs",
			Help: "Current number of relayed connections past the handshake",
		}),
		accepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "linechat_relay_connections_accepted_total",
			Help: "Total number of client connections accepted by the relay",
		}),
		failed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "linechat_relay_connections_failed_total",
			Help: "Total number of relay attempts abandoned before forwarding",
		}, []string{"stage"}),
		bytesForwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "linechat_relay_bytes_forwarded_total",
			Help: "Total bytes forwarded after the handshake",
		}, []string{"direction"}),
	}
}

func (m *Metrics) RecordAccepted() {
	m.accepted.Inc()
}

func (m *Metrics) RecordFailed(stage string) {
	m.failed.WithLabelValues(stage).Inc()
}

// RecordActivePairs adjusts the active pair gauge by delta
func (m *Metrics) RecordActivePairs(delta int) {
	m.activePairs.Add(float64(delta))
}

func (m *Metrics) RecordBytes(direction string, n int) {
	m.bytesForwarded.WithLabelValues(direction).Add(float64(n))
}
