package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "racer_active_connections",
		Help: "Currently registered websocket connections.",
	})

	broadcastDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "racer_broadcast_dropped_total",
		Help: "Broadcast frames dropped because a client send buffer overflowed.",
	})
)
