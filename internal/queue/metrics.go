package queue

import (
	"time"
)

// Metrics is a point-in-time snapshot of queue statistics.
type Metrics struct {
	Size                  int           `json:"size"`
	Pending               int           `json:"pending"`
	Processing            int           `json:"processing"`
	QueueUtilization      float64       `json:"queue_utilization"`
	Throughput            float64       `json:"throughput"` // completions per second, sliding window
	ErrorRate             float64       `json:"error_rate"`
	AverageProcessingTime time.Duration `json:"average_processing_time"`
	MemoryUsage           int64         `json:"memory_usage"` // estimated serialized bytes
	Completed             uint64        `json:"completed"`
	Failed                uint64        `json:"failed"`
}

// defaultObservationWindow is the sliding window for the
// completions-per-second figure when no throttle window is configured.
const defaultObservationWindow = 60 * time.Second

type metricsState struct {
	window      time.Duration
	completed   uint64
	failed      uint64
	totalProc   time.Duration
	procSamples uint64
	completions []time.Time
}

func (m *metricsState) windowSize() time.Duration {
	if m.window > 0 {
		return m.window
	}
	return defaultObservationWindow
}

func (m *metricsState) recordCompletion(now time.Time, dur time.Duration) {
	m.completed++
	m.totalProc += dur
	m.procSamples++
	m.completions = append(m.completions, now)
	m.trim(now)
}

func (m *metricsState) recordFailure(now time.Time, dur time.Duration) {
	m.failed++
	m.totalProc += dur
	m.procSamples++
}

func (m *metricsState) trim(now time.Time) {
	cutoff := now.Add(-m.windowSize())
	i := 0
	for i < len(m.completions) && m.completions[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		m.completions = append(m.completions[:0], m.completions[i:]...)
	}
}

func (m *metricsState) throughput(now time.Time) float64 {
	m.trim(now)
	return float64(len(m.completions)) / m.windowSize().Seconds()
}

func (m *metricsState) errorRate() float64 {
	total := m.completed + m.failed
	if total == 0 {
		return 0
	}
	return float64(m.failed) / float64(total)
}

func (m *metricsState) averageProcessingTime() time.Duration {
	if m.procSamples == 0 {
		return 0
	}
	return m.totalProc / time.Duration(m.procSamples)
}
