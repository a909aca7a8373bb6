// Package metrics holds the gateway's Prometheus collectors.
//
// Internal events (drops, failures, rejections) share a single counter vector
// with an `event` label so new events need no new collectors. Room, peer and
// request level state has dedicated collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "aero_media_gateway"

// Event names.
const (
	EventPeerQueueFull      = "peer_queue_full"
	EventBroadcastFailed    = "broadcast_send_failed"
	EventSignalingRateLimit = "signaling_rate_limited"
	EventSignalingBadFrame  = "signaling_malformed_frame"
	EventSignalingOrigin    = "signaling_origin_rejected"
	EventEventsDropped      = "room_events_dropped"
	EventEventsFailed       = "room_events_publish_failed"
	EventEngineCloseFailed  = "engine_close_failed"
)

// Metrics is safe for concurrent use. All methods are no-ops on a nil
// receiver.
type Metrics struct {
	registry *prometheus.Registry

	events          *prometheus.CounterVec
	rooms           prometheus.Gauge
	peers           prometheus.Gauge
	connections     prometheus.Gauge
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Internal event counters.",
		}, []string{"event"}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Rooms currently registered.",
		}),
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers",
			Help:      "Peers currently joined to a room.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "signaling_connections",
			Help:      "Open signaling WebSocket connections.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signaling_requests_total",
			Help:      "Signaling requests by method and result.",
		}, []string{"method", "result"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "signaling_request_duration_seconds",
			Help:      "Signaling request handling latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"method"}),
	}
	m.registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		m.events,
		m.rooms,
		m.peers,
		m.connections,
		m.requests,
		m.requestDuration,
	)
	return m
}

// Registry exposes the underlying registry so callers can add collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, n uint64) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(name).Add(float64(n))
}

// Get returns the current value of an event counter.
func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	var pb dto.Metric
	if err := m.events.WithLabelValues(name).Write(&pb); err != nil {
		return 0
	}
	return uint64(pb.GetCounter().GetValue())
}

func (m *Metrics) RoomOpened() {
	if m != nil {
		m.rooms.Inc()
	}
}

func (m *Metrics) RoomClosed() {
	if m != nil {
		m.rooms.Dec()
	}
}

func (m *Metrics) PeerJoined() {
	if m != nil {
		m.peers.Inc()
	}
}

func (m *Metrics) PeerLeft() {
	if m != nil {
		m.peers.Dec()
	}
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

// ObserveRequest records one dispatched signaling request. result is "ok" or
// a short error class such as "not_found".
func (m *Metrics) ObserveRequest(method, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, result).Inc()
	m.requestDuration.WithLabelValues(method).Observe(d.Seconds())
}
