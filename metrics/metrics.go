// Package metrics provides Prometheus instrumentation for wsterm. Metrics
// implements websocket.Observer, so the protocol engine reports frames,
// bytes, handshake failures and close codes without importing Prometheus.
package metrics

import (
	"strconv"

	"github.com/evrins/wsterm/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	directionIn  = "in"
	directionOut = "out"
)

// Connection outcomes recorded in connections_total.
const (
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
	StatusLimited  = "limited"
	StatusFailed   = "failed"
)

// Metrics holds all Prometheus metrics for wsterm.
type Metrics struct {
	ActiveConnections prometheus.Gauge
	Connections       *prometheus.CounterVec
	HandshakeFailures *prometheus.CounterVec

	Frames       *prometheus.CounterVec
	WireBytes    *prometheus.CounterVec
	MessageBytes *prometheus.CounterVec
	CloseCodes   *prometheus.CounterVec
}

var _ websocket.Observer = (*Metrics)(nil)

// New creates the metrics and registers them with reg. A nil reg creates
// unregistered metrics.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "wsterm"
	}
	factory := promauto.With(reg)

	return &Metrics{
		ActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_connections",
				Help:      "Number of open websocket connections",
			},
		),
		Connections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_total",
				Help:      "Websocket connection attempts by outcome",
			},
			[]string{"status"},
		),
		HandshakeFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handshake_failures_total",
				Help:      "Rejected opening handshakes by HTTP status",
			},
			[]string{"status"},
		),
		Frames: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_total",
				Help:      "Websocket frames by opcode and direction",
			},
			[]string{"opcode", "direction"},
		),
		WireBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wire_bytes_total",
				Help:      "Encoded frame bytes read and written",
			},
			[]string{"direction"},
		),
		MessageBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "message_bytes_total",
				Help:      "Decompressed message payload bytes",
			},
			[]string{"direction"},
		),
		CloseCodes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "close_codes_total",
				Help:      "Finished connections by close code",
			},
			[]string{"code"},
		),
	}
}

// ConnectionOpened records an accepted connection.
func (m *Metrics) ConnectionOpened() {
	m.Connections.WithLabelValues(StatusAccepted).Inc()
	m.ActiveConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	m.ActiveConnections.Dec()
}

// ConnectionRefused records a connection that never reached the open state.
func (m *Metrics) ConnectionRefused(status string) {
	m.Connections.WithLabelValues(status).Inc()
}

func (m *Metrics) HandshakeFailed(status int) {
	m.HandshakeFailures.WithLabelValues(strconv.Itoa(status)).Inc()
	m.Connections.WithLabelValues(StatusRejected).Inc()
}

func (m *Metrics) FrameReceived(op websocket.Opcode, wireBytes int64) {
	m.Frames.WithLabelValues(op.String(), directionIn).Inc()
	m.WireBytes.WithLabelValues(directionIn).Add(float64(wireBytes))
}

func (m *Metrics) FrameSent(op websocket.Opcode, wireBytes int64) {
	m.Frames.WithLabelValues(op.String(), directionOut).Inc()
	m.WireBytes.WithLabelValues(directionOut).Add(float64(wireBytes))
}

func (m *Metrics) MessageReceived(_ websocket.Opcode, size int) {
	m.MessageBytes.WithLabelValues(directionIn).Add(float64(size))
}

func (m *Metrics) MessageSent(_ websocket.Opcode, size int) {
	m.MessageBytes.WithLabelValues(directionOut).Add(float64(size))
}

// Closed counts the close code; connections that ended without one are
// labelled "none".
func (m *Metrics) Closed(code websocket.CloseCode) {
	m.CloseCodes.WithLabelValues(closeLabel(code)).Inc()
}

// closeLabel keeps the label set bounded: codes outside the registered
// 1000-1015 range are counted together.
func closeLabel(code websocket.CloseCode) string {
	switch {
	case code == 0:
		return "none"
	case code >= 1000 && code <= 1015:
		return strconv.Itoa(int(code))
	default:
		return "other"
	}
}
