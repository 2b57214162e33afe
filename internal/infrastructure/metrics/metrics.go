// Package metrics exposes relay counters to Prometheus. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "readalong"

type Metrics struct {
	registry *prometheus.Registry

	activeRooms      prometheus.Gauge
	connectedSockets prometheus.Gauge
	eventsRelayed    *prometheus.CounterVec
	rateLimited      *prometheus.CounterVec
	syncDropped      prometheus.Counter
	sendDropped      prometheus.Counter
}

// New builds the collectors on a private registry together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		activeRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Rooms currently held by the registry.",
		}),
		connectedSockets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_sockets",
			Help:      "Open WebSocket connections.",
		}),
		eventsRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_relayed_total",
			Help:      "Events fanned out to room members, by event type.",
		}, []string{"type"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter, by category.",
		}, []string{"category"}),
		syncDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_updates_dropped_total",
			Help:      "Position updates ignored because the sender is not the host.",
		}),
		sendDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "socket_messages_dropped_total",
			Help:      "Outbound messages dropped because a client buffer was full.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.activeRooms,
		m.connectedSockets,
		m.eventsRelayed,
		m.rateLimited,
		m.syncDropped,
		m.sendDropped,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RoomOpened() {
	if m != nil {
		m.activeRooms.Inc()
	}
}

func (m *Metrics) RoomClosed() {
	if m != nil {
		m.activeRooms.Dec()
	}
}

func (m *Metrics) SocketConnected() {
	if m != nil {
		m.connectedSockets.Inc()
	}
}

func (m *Metrics) SocketDisconnected() {
	if m != nil {
		m.connectedSockets.Dec()
	}
}

func (m *Metrics) EventRelayed(eventType string) {
	if m != nil {
		m.eventsRelayed.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) RateLimited(category string) {
	if m != nil {
		m.rateLimited.WithLabelValues(category).Inc()
	}
}

func (m *Metrics) SyncDropped() {
	if m != nil {
		m.syncDropped.Inc()
	}
}

func (m *Metrics) SendDropped() {
	if m != nil {
		m.sendDropped.Inc()
	}
}
