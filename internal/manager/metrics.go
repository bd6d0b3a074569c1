package manager

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/offsync/opqueue/internal/queue"
)

const metricsNamespace = "opqueue"

// newRegistry builds the Prometheus registry exposing queue and pool
// state. Gauges read live values on scrape instead of being pushed.
func newRegistry(q *queue.Queue, pool *Pool) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	gauge := func(name, help string, fn func() float64) {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		}, fn))
	}
	counter := func(name, help string, fn func() float64) {
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		}, fn))
	}

	gauge("queue_size", "Active operations in the queue (pending plus processing).", func() float64 {
		return float64(q.Status().Metrics.Size)
	})
	gauge("queue_pending", "Operations waiting for dispatch.", func() float64 {
		return float64(q.Status().Metrics.Pending)
	})
	gauge("queue_processing", "Operations currently executing.", func() float64 {
		return float64(q.Status().Metrics.Processing)
	})
	gauge("queue_utilization", "Active operations as a fraction of the queue limit.", func() float64 {
		return q.Status().Metrics.QueueUtilization
	})
	gauge("queue_memory_bytes", "Approximate memory held by queued operations.", func() float64 {
		return float64(q.Status().Metrics.MemoryUsage)
	})
	gauge("queue_error_rate", "Failed fraction of finished operations.", func() float64 {
		return q.Status().Metrics.ErrorRate
	})
	gauge("queue_throughput", "Completions per second over a sliding one minute window.", func() float64 {
		return q.Status().Metrics.Throughput
	})
	gauge("processing_time_avg_seconds", "Average processing time of completed operations.", func() float64 {
		return q.Status().Metrics.AverageProcessingTime.Seconds()
	})
	gauge("workers_enabled", "Enabled workers in the pool.", func() float64 {
		return float64(pool.Enabled())
	})
	gauge("workers_total", "Total workers in the pool.", func() float64 {
		return float64(pool.Size())
	})

	counter("operations_completed_total", "Operations completed since start.", func() float64 {
		return float64(q.Status().Metrics.Completed)
	})
	counter("operations_failed_total", "Operations failed terminally since start.", func() float64 {
		return float64(q.Status().Metrics.Failed)
	})

	return reg
}
