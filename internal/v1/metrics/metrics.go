package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the transport fabric.
//
// Naming convention: namespace_subsystem_name
// - namespace: transport_fabric
// - subsystem: websocket, room, signaling
//
// Gauges track current state (connections, rooms, participants); counters
// track cumulative events (messages routed, drops, relayed signals);
// the histogram tracks routing latency.

var (
	// ActiveWebSocketConnections tracks the current number of open sessions.
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "transport_fabric",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket sessions",
	})

	// ActiveRooms tracks the current number of rooms per protocol.
	ActiveRooms = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "transport_fabric",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	}, []string{"protocol"})

	// RoomParticipants tracks the participant count per room.
	RoomParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "transport_fabric",
		Subsystem: "room",
		Name:      "participants_count",
		Help:      "Number of participants in each room",
	}, []string{"protocol", "room_id"})

	// MessagesRouted counts inbound messages by type and dispatch outcome.
	MessagesRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "transport_fabric",
		Subsystem: "websocket",
		Name:      "messages_total",
		Help:      "Total inbound WebSocket messages routed",
	}, []string{"protocol", "message_type", "status"})

	// BackpressureDrops counts frames dropped from slow consumers' queues.
	BackpressureDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "transport_fabric",
		Subsystem: "websocket",
		Name:      "backpressure_drops_total",
		Help:      "Outbound frames dropped because a session queue was full",
	})

	// SignalsRelayed counts WebRTC signaling messages brokered between peers.
	SignalsRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "transport_fabric",
		Subsystem: "signaling",
		Name:      "signals_relayed_total",
		Help:      "Total WebRTC signaling messages relayed",
	}, []string{"signal_type", "status"})

	// MessageProcessingDuration tracks time spent routing inbound messages.
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "transport_fabric",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent routing inbound WebSocket messages",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
	}, []string{"protocol", "message_type"})

	// RateLimitExceeded counts rejected requests/connections by limiter key.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "transport_fabric",
		Subsystem: "http",
		Name:      "rate_limit_exceeded_total",
		Help:      "Requests rejected by the rate limiter",
	}, []string{"endpoint", "limit_type"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
