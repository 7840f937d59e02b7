package chat

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the server counters. Each server owns its own registry so
// tests can run several servers in one process.
type Metrics struct {
	registry *prometheus.Registry

	ConnectionsOpened prometheus.Counter
	ConnectionsClosed prometheus.Counter
	ActiveSessions    prometheus.Gauge
	MessagesRouted    prometheus.Counter
	Broadcasts        prometheus.Counter
	FramesDropped     prometheus.Counter
	AIRequests        prometheus.Counter
	AIDropped         prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ConnectionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "petchat", Name: "connections_opened_total",
			Help: "Accepted connections.",
		}),
		ConnectionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "petchat", Name: "connections_closed_total",
			Help: "Closed connections.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "petchat", Name: "active_sessions",
			Help: "Registered sessions currently online.",
		}),
		MessagesRouted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "petchat", Name: "messages_routed_total",
			Help: "Chat messages accepted for routing.",
		}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "petchat", Name: "broadcasts_total",
			Help: "Broadcast operations submitted to the fanout pool.",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "petchat", Name: "frames_dropped_total",
			Help: "Frames dropped for checksum or decode failures.",
		}),
		AIRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "petchat", Name: "ai_requests_total",
			Help: "AI analysis requests received.",
		}),
		AIDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "petchat", Name: "ai_requests_dropped_total",
			Help: "AI analysis requests dropped because the queue was full.",
		}),
	}
	m.registry.MustRegister(
		m.ConnectionsOpened, m.ConnectionsClosed, m.ActiveSessions,
		m.MessagesRouted, m.Broadcasts, m.FramesDropped,
		m.AIRequests, m.AIDropped,
	)
	return m
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
