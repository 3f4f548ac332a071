// Package obexmetrics instruments the OBEX client/server state
// machines with Prometheus collectors. Neither obex/client nor
// obex/server calls into this package directly: they accept a
// Recorder through an optional setter, so the protocol core stays
// side-effect-free unless a caller wires one in.
package obexmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kelvinhammond/obexgo/internal/obex/codes"
)

// Recorder receives instrumentation events from obex/client and
// obex/server. role is "client" or "server"; op is the opcode's
// mnemonic name (connect, put, get, ...).
type Recorder interface {
	PacketSent(role, op string, bytes int)
	PacketReceived(role, op string, bytes int)
	ConnectionIDMinted()
	ProtocolError(role string, category codes.Category)
	RequestDuration(role, op string, d time.Duration)
}

var registerOnce sync.Once

var (
	packetsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "obex",
			Name:      "packets_sent_total",
			Help:      "OBEX packets written to the wire.",
		},
		[]string{"role", "op"},
	)
	packetsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "obex",
			Name:      "packets_received_total",
			Help:      "OBEX packets read from the wire.",
		},
		[]string{"role", "op"},
	)
	bytesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "obex",
			Name:      "bytes_sent_total",
			Help:      "OBEX packet bytes written to the wire.",
		},
		[]string{"role", "op"},
	)
	bytesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "obex",
			Name:      "bytes_received_total",
			Help:      "OBEX packet bytes read from the wire.",
		},
		[]string{"role", "op"},
	)
	connectionIDsMinted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "obex",
			Name:      "connection_ids_minted_total",
			Help:      "ConnectionId values handed out by the server's IDMinter.",
		},
	)
	protocolErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "obex",
			Name:      "protocol_errors_total",
			Help:      "State-machine failures, grouped by response status category.",
		},
		[]string{"role", "category"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "obex",
			Name:      "request_duration_seconds",
			Help:      "Wall time from a request's first outgoing packet to its final response.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"role", "op"},
	)
)

// Register registers every collector with the default Prometheus
// registry. Safe to call more than once; only the first call takes
// effect.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			packetsSent, packetsReceived,
			bytesSent, bytesReceived,
			connectionIDsMinted, protocolErrors, requestDuration,
		)
	})
}

// PrometheusRecorder implements Recorder against the package-level
// collectors. Construct with NewPrometheusRecorder, which registers
// them.
type PrometheusRecorder struct{}

// NewPrometheusRecorder registers the package's collectors and
// returns a Recorder backed by them.
func NewPrometheusRecorder() PrometheusRecorder {
	Register()
	return PrometheusRecorder{}
}

func (PrometheusRecorder) PacketSent(role, op string, n int) {
	packetsSent.WithLabelValues(role, op).Inc()
	bytesSent.WithLabelValues(role, op).Add(float64(n))
}

func (PrometheusRecorder) PacketReceived(role, op string, n int) {
	packetsReceived.WithLabelValues(role, op).Inc()
	bytesReceived.WithLabelValues(role, op).Add(float64(n))
}

func (PrometheusRecorder) ConnectionIDMinted() {
	connectionIDsMinted.Inc()
}

func (PrometheusRecorder) ProtocolError(role string, category codes.Category) {
	protocolErrors.WithLabelValues(role, string(category)).Inc()
}

func (PrometheusRecorder) RequestDuration(role, op string, d time.Duration) {
	requestDuration.WithLabelValues(role, op).Observe(d.Seconds())
}
