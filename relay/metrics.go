package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shadow_relay_connections",
		Help: "Websocket connections currently joined to a room",
	})

	roomsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shadow_relay_rooms",
		Help: "Rooms with at least one member",
	})

	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shadow_relay_messages_total",
		Help: "Messages received from peers grouped by frame type",
	}, []string{"type"})

	bytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shadow_relay_bytes_total",
		Help: "Payload bytes received from peers",
	})

	disconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shadow_relay_disconnects_total",
		Help: "Connections closed grouped by reason",
	}, []string{"reason"})
)

func observeMessage(typ string, n int) {
	messagesTotal.WithLabelValues(typ).Inc()
	bytesTotal.Add(float64(n))
}

func observeDisconnect(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	disconnectsTotal.WithLabelValues(reason).Inc()
}
