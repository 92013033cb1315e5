package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tick and command instrumentation, registered on the default registry
// and served by the HTTP layer at /metrics.
var (
	ticksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "racer_ticks_total",
		Help: "Simulation ticks executed across all races.",
	})

	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "racer_tick_duration_seconds",
		Help:    "Wall time spent in one simulation tick.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
	})

	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "racer_commands_total",
		Help: "Commands submitted to race engines, by outcome.",
	}, []string{"result"})

	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "racer_events_total",
		Help: "Race events emitted, by type.",
	}, []string{"type"})

	activeRaces = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "racer_active_races",
		Help: "Races currently registered (waiting or running).",
	})

	recoveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "racer_recoveries_total",
		Help: "Race recovery attempts, by outcome.",
	}, []string{"outcome"})
)
