// Package health runs the periodic service health monitor: resource and
// dependency probes, a worst-of overall status, and debounced alerts on
// transitions.
package health

import (
	"context"
	"sync"
	"time"

	channerics "github.com/niceyeti/channerics/channels"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/lucaswhitaker22/specracer/model"
)

const (
	// DefaultInterval is the probe cycle period.
	DefaultInterval = 30 * time.Second
	// DefaultProbeTimeout bounds each individual probe call.
	DefaultProbeTimeout = 5 * time.Second
)

var healthStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "racer_health_status",
	Help: "Component health: 0 healthy, 1 degraded, 2 critical.",
}, []string{"component"})

// Options tune the monitor.
type Options struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
	// OnAlert receives raised and resolved alerts.
	OnAlert func(model.Alert)
	Logger  zerolog.Logger
}

// Monitor periodically runs every probe and aggregates the results.
type Monitor struct {
	probes []Prober
	alerts *AlertSet
	opts   Options
	log    zerolog.Logger

	mu   sync.Mutex
	last model.HealthReport
}

// NewMonitor builds a monitor over the given probes.
func NewMonitor(probes []Prober, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	return &Monitor{
		probes: probes,
		alerts: NewAlertSet(opts.OnAlert),
		opts:   opts,
		log:    opts.Logger.With().Str("component", "health").Logger(),
	}
}

// Run probes once immediately and then on every interval until done
// closes.
func (m *Monitor) Run(done <-chan struct{}) {
	m.CheckNow(context.Background())
	for range channerics.NewTicker(done, m.opts.Interval) {
		m.CheckNow(context.Background())
	}
}

// CheckNow runs one full probe sweep and returns the report.
func (m *Monitor) CheckNow(ctx context.Context) model.HealthReport {
	report := model.HealthReport{CheckedAt: time.Now()}
	for _, p := range m.probes {
		h := m.runProbe(ctx, p)
		report.Components = append(report.Components, h)
		if h.Status > report.Overall {
			report.Overall = h.Status
		}
		healthStatus.WithLabelValues(h.Component).Set(float64(h.Status))
		m.alerts.Observe(h)
	}
	healthStatus.WithLabelValues("overall").Set(float64(report.Overall))

	if report.Overall != model.StatusHealthy {
		m.log.Warn().Str("overall", report.Overall.String()).Msg("health check not clean")
	}

	m.mu.Lock()
	m.last = report
	m.mu.Unlock()
	return report
}

// runProbe applies the per-call deadline. A probe that outlives it is
// reported critical; the straggler result is discarded when it lands.
func (m *Monitor) runProbe(ctx context.Context, p Prober) model.ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	defer cancel()

	resultC := make(chan model.ComponentHealth, 1)
	go func() { resultC <- p.Probe(ctx) }()

	select {
	case h := <-resultC:
		return h
	case <-ctx.Done():
		return model.ComponentHealth{
			Component: p.Name(),
			Status:    model.StatusCritical,
			Detail:    "probe deadline expired",
			CheckedAt: time.Now(),
		}
	}
}

// Report returns the most recent sweep's report.
func (m *Monitor) Report() model.HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := m.last
	cp.Components = append([]model.ComponentHealth(nil), m.last.Components...)
	return cp
}

// Alerts returns currently unresolved alerts.
func (m *Monitor) Alerts() []model.Alert {
	return m.alerts.Active()
}
