// Package monitor samples resource usage on an interval, tracks
// warning/critical level transitions per resource, and invokes the
// configured critical action synchronously.
package monitor

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/offsync/opqueue/internal/domain"
	"github.com/offsync/opqueue/internal/events"
)

// Resource names sampled each cycle.
const (
	ResourceMemory  = "memory"
	ResourceStorage = "storage"
	ResourceNetwork = "network"
	ResourceCPU     = "cpu"
)

// Critical actions.
const (
	ActionAlert    = "alert"
	ActionThrottle = "throttle"
	ActionPause    = "pause"
	ActionClear    = "clear"
)

// Level is the severity band a resource sample falls into.
type Level string

const (
	LevelNormal   Level = "normal"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Limit holds the thresholds and critical action for one resource.
// Values are utilization percentages in [0, 100].
type Limit struct {
	Warning  float64
	Critical float64
	Action   string
}

// Reader supplies resource utilization samples as percentages.
type Reader interface {
	Usage() map[string]float64
}

// Actions is the narrow surface the monitor drives when a resource
// crosses its critical threshold. Calls are synchronous so mitigation
// lands before the next sample. ReleaseThrottle is the counterpart of
// ThrottleDown, invoked when a throttled resource leaves critical.
type Actions interface {
	RaiseResourceAlert(resource string, value, threshold float64)
	ThrottleDown(resource string)
	ReleaseThrottle(resource string)
	PauseProcessing(reason string)
	ClearCompleted(reason string)
}

// Sample is the latest observation for one resource.
type Sample struct {
	Resource string    `json:"resource"`
	Value    float64   `json:"value"`
	Level    Level     `json:"level"`
	Time     time.Time `json:"time"`
}

// Monitor watches resource usage against configured limits.
type Monitor struct {
	reader   Reader
	limits   map[string]Limit
	interval time.Duration
	actions  Actions
	bus      *events.Bus
	logger   *slog.Logger

	levels  map[string]Level
	samples map[string]Sample
}

// New creates a monitor. It does nothing until Run is called.
func New(reader Reader, limits map[string]Limit, interval time.Duration, actions Actions, bus *events.Bus, logger *slog.Logger) *Monitor {
	return &Monitor{
		reader:   reader,
		limits:   limits,
		interval: interval,
		actions:  actions,
		bus:      bus,
		logger:   logger,
		levels:   make(map[string]Level),
		samples:  make(map[string]Sample),
	}
}

// Run samples on the configured interval until the context is
// cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	if len(m.limits) == 0 {
		m.logger.Info("Resource monitor disabled, no limits configured")
		<-ctx.Done()
		return nil
	}

	m.logger.Info("Resource monitor started", slog.Duration("interval", m.interval))
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Resource monitor stopped")
			return nil
		case <-ticker.C:
			m.Collect()
		}
	}
}

// Collect takes one sample of every limited resource and reacts to
// level transitions. Exposed for tests and for on-demand status reads.
func (m *Monitor) Collect() {
	usage := m.reader.Usage()
	now := time.Now()

	for resource, limit := range m.limits {
		value, ok := usage[resource]
		if !ok {
			continue
		}

		level := m.classify(value, limit)
		prev := m.levels[resource]
		if prev == "" {
			prev = LevelNormal
		}
		m.levels[resource] = level
		m.samples[resource] = Sample{Resource: resource, Value: value, Level: level, Time: now}

		if level == prev {
			continue
		}

		m.logger.Info("Resource level changed",
			slog.String("resource", resource),
			slog.Float64("value", value),
			slog.String("from", string(prev)),
			slog.String("to", string(level)),
		)
		m.bus.Publish(domain.EventResourceThreshold, Sample{
			Resource: resource, Value: value, Level: level, Time: now,
		})

		if level == LevelCritical {
			m.act(resource, value, limit)
		} else if prev == LevelCritical && limit.Action == ActionThrottle {
			m.actions.ReleaseThrottle(resource)
		}
	}
}

// Samples returns the latest observation per resource.
func (m *Monitor) Samples() map[string]Sample {
	out := make(map[string]Sample, len(m.samples))
	for k, v := range m.samples {
		out[k] = v
	}
	return out
}

func (m *Monitor) classify(value float64, limit Limit) Level {
	switch {
	case value >= limit.Critical:
		return LevelCritical
	case value >= limit.Warning:
		return LevelWarning
	default:
		return LevelNormal
	}
}

func (m *Monitor) act(resource string, value float64, limit Limit) {
	switch limit.Action {
	case ActionAlert:
		m.actions.RaiseResourceAlert(resource, value, limit.Critical)
	case ActionThrottle:
		m.actions.ThrottleDown(resource)
	case ActionPause:
		m.actions.PauseProcessing("resource " + resource + " critical")
	case ActionClear:
		m.actions.ClearCompleted("resource " + resource + " critical")
	default:
		m.logger.Warn("No action configured for critical resource",
			slog.String("resource", resource),
			slog.Float64("value", value),
		)
	}
}

// RuntimeReader samples the local process. Memory is heap usage against
// the configured budget; CPU, storage, and network have no portable
// in-process signal and report zero, so their limits only fire when a
// custom reader is plugged in.
type RuntimeReader struct {
	MemoryBudgetMB int
}

// Usage implements Reader.
func (r RuntimeReader) Usage() map[string]float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	memory := 0.0
	if r.MemoryBudgetMB > 0 {
		budget := float64(r.MemoryBudgetMB) * 1024 * 1024
		memory = float64(ms.HeapAlloc) / budget * 100
	}

	return map[string]float64{
		ResourceMemory:  memory,
		ResourceStorage: 0,
		ResourceNetwork: 0,
		ResourceCPU:     0,
	}
}
