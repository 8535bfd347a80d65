package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/VoxelSrv/VoxelCraftProxy/internal/events"
)

const namespace = "voxelcraft"

// Metrics holds the proxy's Prometheus collectors. It implements
// session.Recorder and is safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	messages       *prometheus.CounterVec
	packets        *prometheus.CounterVec
	chunks         prometheus.Counter
	chunkBytes     prometheus.Histogram
	sessionsOpened prometheus.Counter
	sessionsClosed *prometheus.CounterVec
	loggedIn       prometheus.Counter
	active         prometheus.Gauge
}

// NewMetrics creates and registers the collectors on a private registry
// together with the Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downstream_messages_total",
			Help:      "Messages received from downstream clients, by type.",
		}, []string{"type"}),
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_packets_total",
			Help:      "Packets received from upstream servers, by name.",
		}, []string{"packet"}),
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_flushed_total",
			Help:      "Voxel columns sent to downstream clients.",
		}),
		chunkBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_payload_bytes",
			Help:      "Size of voxel column payloads sent downstream.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
		}),
		sessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_opened_total",
			Help:      "Downstream sessions accepted.",
		}),
		sessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Downstream sessions closed, by reason.",
		}, []string{"reason"}),
		loggedIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_logged_in_total",
			Help:      "Sessions that reached the upstream server.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently open.",
		}),
	}

	m.registry.MustRegister(
		m.messages, m.packets, m.chunks, m.chunkBytes,
		m.sessionsOpened, m.sessionsClosed, m.loggedIn, m.active,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// MessageReceived counts one downstream message of the given type.
func (m *Metrics) MessageReceived(msgType string) {
	m.messages.WithLabelValues(msgType).Inc()
}

// PacketReceived counts one upstream packet.
func (m *Metrics) PacketReceived(name string) {
	m.packets.WithLabelValues(name).Inc()
}

// ChunkFlushed records one column sent downstream.
func (m *Metrics) ChunkFlushed(size int) {
	m.chunks.Inc()
	m.chunkBytes.Observe(float64(size))
}

// Subscribe keeps the session counters in step with lifecycle events.
func (m *Metrics) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventSessionOpened, "metrics", func(context.Context, events.Event) error {
		m.sessionsOpened.Inc()
		m.active.Inc()
		return nil
	})
	bus.Subscribe(events.EventSessionLoggedIn, "metrics", func(context.Context, events.Event) error {
		m.loggedIn.Inc()
		return nil
	})
	bus.Subscribe(events.EventSessionClosed, "metrics", func(_ context.Context, e events.Event) error {
		reason := "unknown"
		if p, ok := e.Payload.(events.SessionClosedPayload); ok {
			reason = string(p.Reason)
		}
		m.sessionsClosed.WithLabelValues(reason).Inc()
		m.active.Dec()
		return nil
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
