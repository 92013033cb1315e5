package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lucaswhitaker22/specracer/model"
	"github.com/lucaswhitaker22/specracer/util"
)

// Prober is one health check. Probe must honor ctx and return promptly;
// the monitor treats an expired deadline as critical.
type Prober interface {
	Name() string
	Probe(ctx context.Context) model.ComponentHealth
}

// Pinger is the liveness surface of the durable store and the cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// statusFor grades a percentage against warn/crit thresholds.
func statusFor(pct, warnPct, critPct float64) model.HealthStatus {
	switch {
	case pct >= critPct:
		return model.StatusCritical
	case pct >= warnPct:
		return model.StatusDegraded
	default:
		return model.StatusHealthy
	}
}

// DatabaseProbe round-trips the durable store. Latency under one second
// is healthy, above it degraded, errors critical.
type DatabaseProbe struct {
	Pinger Pinger
}

func (p *DatabaseProbe) Name() string { return "database" }

func (p *DatabaseProbe) Probe(ctx context.Context) model.ComponentHealth {
	h := model.ComponentHealth{Component: p.Name(), CheckedAt: time.Now()}
	if p.Pinger == nil {
		h.Status = model.StatusDegraded
		h.Detail = "not configured"
		return h
	}
	start := time.Now()
	err := p.Pinger.Ping(ctx)
	h.LatencyMs = float64(time.Since(start)) / float64(time.Millisecond)
	switch {
	case err != nil:
		h.Status = model.StatusCritical
		h.Detail = err.Error()
	case h.LatencyMs >= 1000:
		h.Status = model.StatusDegraded
		h.Detail = "slow round-trip"
	default:
		h.Status = model.StatusHealthy
	}
	return h
}

// CacheProbe pings the cache. A missing cache is a degraded deployment,
// not a broken one.
type CacheProbe struct {
	Pinger Pinger
}

func (p *CacheProbe) Name() string { return "cache" }

func (p *CacheProbe) Probe(ctx context.Context) model.ComponentHealth {
	h := model.ComponentHealth{Component: p.Name(), CheckedAt: time.Now()}
	if p.Pinger == nil {
		h.Status = model.StatusDegraded
		h.Detail = "not configured"
		return h
	}
	start := time.Now()
	if err := p.Pinger.Ping(ctx); err != nil {
		h.Status = model.StatusCritical
		h.Detail = err.Error()
	} else {
		h.Status = model.StatusHealthy
	}
	h.LatencyMs = float64(time.Since(start)) / float64(time.Millisecond)
	return h
}

// MemoryProbe reads /proc/meminfo and grades system memory pressure.
// Limits, when set, supplies the thresholds at probe time so reloaded
// configuration takes effect without a restart.
type MemoryProbe struct {
	WarnPct float64
	CritPct float64
	Limits  func() (warnPct, critPct float64)
}

func (p *MemoryProbe) Name() string { return "memory" }

func (p *MemoryProbe) Probe(_ context.Context) model.ComponentHealth {
	h := model.ComponentHealth{Component: p.Name(), CheckedAt: time.Now()}
	kv, err := util.ParseKeyValueFile("/proc/meminfo")
	if err != nil {
		h.Status = model.StatusCritical
		h.Detail = err.Error()
		return h
	}
	total := util.MeminfoKB(kv["MemTotal"])
	avail := util.MeminfoKB(kv["MemAvailable"])
	if total == 0 {
		h.Status = model.StatusCritical
		h.Detail = "meminfo reported zero total"
		return h
	}
	warn, crit := p.WarnPct, p.CritPct
	if p.Limits != nil {
		warn, crit = p.Limits()
	}
	usedPct := float64(total-avail) / float64(total) * 100
	h.Status = statusFor(usedPct, warn, crit)
	h.Detail = fmt.Sprintf("%.1f%% used", usedPct)
	return h
}

// CPUProbe samples /proc/stat twice and grades overall CPU utilization.
type CPUProbe struct {
	WarnPct float64
	CritPct float64
	Limits  func() (warnPct, critPct float64)
	// SamplePeriod is the gap between the two stat reads.
	SamplePeriod time.Duration
}

func (p *CPUProbe) Name() string { return "cpu" }

func (p *CPUProbe) Probe(ctx context.Context) model.ComponentHealth {
	h := model.ComponentHealth{Component: p.Name(), CheckedAt: time.Now()}
	period := p.SamplePeriod
	if period <= 0 {
		period = 100 * time.Millisecond
	}

	prevActive, prevTotal, err := readCPUSample()
	if err != nil {
		h.Status = model.StatusCritical
		h.Detail = err.Error()
		return h
	}
	select {
	case <-time.After(period):
	case <-ctx.Done():
		h.Status = model.StatusCritical
		h.Detail = "probe deadline expired"
		return h
	}
	currActive, currTotal, err := readCPUSample()
	if err != nil {
		h.Status = model.StatusCritical
		h.Detail = err.Error()
		return h
	}

	warn, crit := p.WarnPct, p.CritPct
	if p.Limits != nil {
		warn, crit = p.Limits()
	}
	pct := util.CPUPct(prevActive, currActive, prevTotal, currTotal)
	h.Status = statusFor(pct, warn, crit)
	h.Detail = fmt.Sprintf("%.1f%% busy", pct)
	return h
}

// readCPUSample parses the aggregate cpu line of /proc/stat.
func readCPUSample() (active, total uint64, err error) {
	lines, err := util.ReadFileLines("/proc/stat")
	if err != nil {
		return 0, 0, fmt.Errorf("read /proc/stat: %w", err)
	}
	for _, line := range lines {
		if !strings.HasPrefix(line, "cpu ") {
			continue
		}
		fields := strings.Fields(line)
		// user nice system idle iowait irq softirq steal
		var idle uint64
		for i := 1; i < len(fields) && i <= 8; i++ {
			v := util.ParseUint64(fields[i])
			total += v
			if i == 4 || i == 5 {
				idle += v
			}
		}
		return total - idle, total, nil
	}
	return 0, 0, fmt.Errorf("no cpu line in /proc/stat")
}

// GaugeProbe reports a live count. Always healthy; it exists so the
// health report carries service shape alongside resource state.
type GaugeProbe struct {
	Component string
	Count     func() int
}

func (p *GaugeProbe) Name() string { return p.Component }

func (p *GaugeProbe) Probe(_ context.Context) model.ComponentHealth {
	return model.ComponentHealth{
		Component: p.Component,
		Status:    model.StatusHealthy,
		Detail:    fmt.Sprintf("%d", p.Count()),
		CheckedAt: time.Now(),
	}
}
