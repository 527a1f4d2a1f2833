// Package metric holds the Prometheus instruments shared by the adapter,
// its TCP server and the WebSocket mirror.
package metric

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shdr"

// Drop reasons used as the "reason" label on ClientsDropped.
const (
	ReasonClosed    = "closed"
	ReasonTimeout   = "timeout"
	ReasonReadError = "read_error"
	ReasonWrite     = "write_error"
	ReasonShutdown  = "shutdown"
)

// Metrics contains every adapter-level instrument. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ClientsConnected    prometheus.Gauge
	ConnectionsAccepted prometheus.Counter
	ClientsDropped      *prometheus.CounterVec
	LinesSent           *prometheus.CounterVec
	BytesSent           prometheus.Counter
	Heartbeats          prometheus.Counter
	AssetsSent          prometheus.Counter
	CycleDuration       prometheus.Histogram
	MirrorClients       prometheus.Gauge
}

// New creates the instruments and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		ClientsConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "clients",
				Name:      "connected",
				Help:      "Number of SHDR readers currently connected",
			},
		),

		ConnectionsAccepted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "connections",
				Name:      "accepted_total",
				Help:      "Total number of accepted SHDR connections",
			},
		),

		ClientsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "clients",
				Name:      "dropped_total",
				Help:      "Total number of SHDR readers dropped, by reason",
			},
			[]string{"reason"},
		),

		LinesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lines",
				Name:      "sent_total",
				Help:      "Total number of SHDR lines rendered, by kind (changed, full, asset)",
			},
			[]string{"kind"},
		),

		BytesSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bytes",
				Name:      "sent_total",
				Help:      "Total number of bytes written to SHDR readers",
			},
		),

		Heartbeats: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "heartbeat",
				Name:      "pongs_total",
				Help:      "Total number of heartbeat replies sent",
			},
		),

		AssetsSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "assets",
				Name:      "sent_total",
				Help:      "Total number of asset blocks broadcast",
			},
		),

		CycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "cycle",
				Name:      "duration_seconds",
				Help:      "Time spent rendering and broadcasting one change cycle",
				Buckets:   prometheus.DefBuckets,
			},
		),

		MirrorClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "mirror",
				Name:      "clients",
				Help:      "Number of WebSocket mirror clients currently connected",
			},
		),
	}

	m.registry.MustRegister(
		m.ClientsConnected,
		m.ConnectionsAccepted,
		m.ClientsDropped,
		m.LinesSent,
		m.BytesSent,
		m.Heartbeats,
		m.AssetsSent,
		m.CycleDuration,
		m.MirrorClients,
	)
	return m
}

// Registry returns the Prometheus registry holding the instruments.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the exposition format for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// RecordAccept counts a new connection.
func (m *Metrics) RecordAccept() {
	if m == nil {
		return
	}
	m.ConnectionsAccepted.Inc()
	m.ClientsConnected.Inc()
}

// RecordDrop counts a dropped connection.
func (m *Metrics) RecordDrop(reason string) {
	if m == nil {
		return
	}
	m.ClientsConnected.Dec()
	m.ClientsDropped.WithLabelValues(reason).Inc()
}

// RecordLines counts rendered lines of the given kind.
func (m *Metrics) RecordLines(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.LinesSent.WithLabelValues(kind).Add(float64(n))
}

// RecordBytes counts bytes written to readers.
func (m *Metrics) RecordBytes(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesSent.Add(float64(n))
}

// RecordHeartbeat counts a pong reply.
func (m *Metrics) RecordHeartbeat() {
	if m == nil {
		return
	}
	m.Heartbeats.Inc()
}

// RecordAsset counts a broadcast asset block.
func (m *Metrics) RecordAsset() {
	if m == nil {
		return
	}
	m.AssetsSent.Inc()
}

// RecordCycle observes the duration of one change cycle.
func (m *Metrics) RecordCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.CycleDuration.Observe(d.Seconds())
}

// SetMirrorClients updates the mirror client gauge.
func (m *Metrics) SetMirrorClients(n int) {
	if m == nil {
		return
	}
	m.MirrorClients.Set(float64(n))
}
