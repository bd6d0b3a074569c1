// Package manager assembles the queue, worker pool, auto-scaler,
// resource monitor, health runner, and alert engine into one
// supervised lifecycle.
package manager

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/offsync/opqueue/internal/alert"
	"github.com/offsync/opqueue/internal/batch"
	"github.com/offsync/opqueue/internal/config"
	"github.com/offsync/opqueue/internal/domain"
	"github.com/offsync/opqueue/internal/events"
	"github.com/offsync/opqueue/internal/health"
	"github.com/offsync/opqueue/internal/monitor"
	"github.com/offsync/opqueue/internal/queue"
	"github.com/offsync/opqueue/internal/rules"
)

// Lifecycle states.
const (
	StateCreated   = "created"
	StateRunning   = "running"
	StateDestroyed = "destroyed"
)

// metricsInterval is the cadence of the metrics loop feeding the
// adaptive throttle and the event stream.
const metricsInterval = 10 * time.Second

// Manager owns every queue subsystem and exposes the operations the
// transport layer calls.
type Manager struct {
	cfg       *config.Config
	queue     *queue.Queue
	pool      *Pool
	scaler    *AutoScaler
	monitor   *monitor.Monitor
	health    *health.Runner
	alerts    *alert.Engine
	optimizer *batch.Optimizer
	bus       *events.Bus
	registry  *prometheus.Registry
	logger    *slog.Logger

	mu     sync.Mutex
	state  string
	cancel context.CancelFunc
	group  *errgroup.Group
}

// New wires the subsystems from configuration. The store may be nil to
// run without persistence; the configuration must already be validated.
func New(cfg *config.Config, store Store, syncer Syncer, bus *events.Bus, logger *slog.Logger) (*Manager, error) {
	q, err := queue.New(queue.Options{
		MaxQueueSize:       cfg.Queue.MaxQueueSize,
		MaxConcurrent:      cfg.Queue.MaxConcurrentOperations,
		Mode:               cfg.Queue.Mode,
		BatchSize:          cfg.Queue.BatchSize,
		ProcessingInterval: cfg.Queue.ProcessingInterval,
		OperationTimeout:   cfg.Queue.OperationTimeout,
		Policy:             cfg.RetryPolicy(),
		Throttle: queue.ThrottleOptions{
			Enabled:            cfg.Throttle.Enabled,
			OpsPerSecond:       cfg.Throttle.MaxOperationsPerSecond,
			Burst:              cfg.Throttle.BurstSize,
			Window:             cfg.Throttle.WindowSize,
			Adaptive:           cfg.Throttle.Adaptive,
			ErrorRateThreshold: cfg.Throttle.ErrorRateThreshold,
		},
	}, store, bus, logger)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:    cfg,
		queue:  q,
		bus:    bus,
		logger: logger,
		state:  StateCreated,
	}

	m.pool = NewPool(cfg.Scaling.MaxWorkers, cfg.Scaling.MinWorkers, q, syncer, logger)
	q.SetCapacityFn(m.pool.Enabled)

	m.scaler = NewAutoScaler(ScalerOptions{
		MinWorkers:         cfg.Scaling.MinWorkers,
		MaxWorkers:         cfg.Scaling.MaxWorkers,
		ScaleUpThreshold:   cfg.Scaling.ScaleUpThreshold,
		ScaleDownThreshold: cfg.Scaling.ScaleDownThreshold,
		ScaleUpCooldown:    cfg.Scaling.ScaleUpCooldown,
		ScaleDownCooldown:  cfg.Scaling.ScaleDownCooldown,
		Interval:           cfg.Scaling.Interval,
	}, m.pool, q, store, bus, logger)

	m.optimizer = batch.New(batchStrategies(cfg.Batch), logger)
	m.alerts = alert.New(alertRules(cfg.Alerts), m.metricValues, cfg.Alerts.Interval, alertChannels(cfg.Alerts, logger), store, bus, logger)
	m.monitor = monitor.New(
		monitor.RuntimeReader{MemoryBudgetMB: cfg.Resources.MemoryBudgetMB},
		resourceLimits(cfg.Resources),
		cfg.Resources.Interval,
		m,
		bus,
		logger,
	)
	m.health = health.New(m.healthChecks(cfg.Health), cfg.Health.Interval, m, bus, logger)
	m.registry = newRegistry(q, m.pool)

	return m, nil
}

// Start launches the supervised subsystem loops. It returns once
// everything is running.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateRunning:
		return errors.New("manager already running")
	case StateDestroyed:
		return errors.New("manager already destroyed")
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, runCtx := errgroup.WithContext(runCtx)

	g.Go(func() error { return m.queue.Run(runCtx) })
	g.Go(func() error { return m.pool.Run(runCtx) })
	g.Go(func() error { return m.scaler.Run(runCtx) })
	g.Go(func() error { return m.monitor.Run(runCtx) })
	g.Go(func() error { return m.health.Run(runCtx) })
	g.Go(func() error { return m.alerts.Run(runCtx) })
	g.Go(func() error { return m.metricsLoop(runCtx) })

	m.cancel = cancel
	m.group = g
	m.state = StateRunning
	m.logger.Info("Queue manager started",
		slog.String("mode", m.cfg.Queue.Mode),
		slog.Int("workers", m.pool.Enabled()),
	)
	return nil
}

// Stop halts the subsystem loops and waits for in-flight work to
// drain. The manager cannot be restarted afterwards.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.state != StateRunning {
		m.mu.Unlock()
		return domain.ErrNotRunning
	}
	cancel, group := m.cancel, m.group
	m.state = StateDestroyed
	m.mu.Unlock()

	cancel()
	err := group.Wait()
	m.bus.Close()
	m.logger.Info("Queue manager stopped")
	return err
}

// State returns the lifecycle state.
func (m *Manager) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateRunning
}

// Enqueue admits one operation.
func (m *Manager) Enqueue(op domain.Operation, opts queue.EnqueueOptions) (string, error) {
	if !m.running() {
		return "", domain.ErrNotRunning
	}
	return m.queue.Enqueue(op, opts)
}

// EnqueueBatch admits a batch of operations after coalescing
// optimization. Admission failures do not roll back earlier admissions;
// the returned ids cover what was admitted.
func (m *Manager) EnqueueBatch(ops []domain.Operation, opts queue.EnqueueOptions) ([]string, error) {
	if !m.running() {
		return nil, domain.ErrNotRunning
	}

	ops = m.optimizer.Apply(ops)
	ids := make([]string, 0, len(ops))
	var errs []error
	for _, op := range ops {
		id, err := m.queue.Enqueue(op, opts)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ids = append(ids, id)
	}
	return ids, errors.Join(errs...)
}

// Cancel cancels one operation, cooperatively if it is processing.
func (m *Manager) Cancel(id string) bool { return m.queue.Cancel(id) }

// Dequeue removes one pending operation.
func (m *Manager) Dequeue(id string) bool { return m.queue.Dequeue(id) }

// RetryOperation forces a failed operation back into the queue.
func (m *Manager) RetryOperation(id string) bool { return m.queue.Retry(id) }

// Get returns one tracked item.
func (m *Manager) Get(id string) (*domain.Item, bool) { return m.queue.Get(id) }

// Items returns all tracked items.
func (m *Manager) Items() []*domain.Item { return m.queue.Items() }

// Status returns the queue status snapshot.
func (m *Manager) Status() queue.QueueStatus { return m.queue.Status() }

// Clear bulk-removes items matching the filter.
func (m *Manager) Clear(opts queue.ClearOptions) int { return m.queue.Clear(opts) }

// Pause stops dispatch; in-flight operations finish.
func (m *Manager) Pause() { m.queue.SetPaused(true) }

// Resume restarts dispatch.
func (m *Manager) Resume() { m.queue.SetPaused(false) }

// Paused reports whether dispatch is paused.
func (m *Manager) Paused() bool { return m.queue.Paused() }

// SetOnline feeds connectivity changes into the dispatch gate.
func (m *Manager) SetOnline(online bool) { m.queue.SetOnline(online) }

// Health returns the latest health report.
func (m *Manager) Health() health.Report { return m.health.Last() }

// Alerts returns the alert log.
func (m *Manager) Alerts(activeOnly bool) []domain.Alert { return m.alerts.Alerts(activeOnly) }

// ResolveAlert resolves one alert by id.
func (m *Manager) ResolveAlert(id string) error { return m.alerts.Resolve(id) }

// ScalingEvents returns the scaling history, newest first.
func (m *Manager) ScalingEvents() []domain.ScalingEvent { return m.scaler.History() }

// ScaleTo sets the enabled worker count by hand.
func (m *Manager) ScaleTo(target int, reason string) error {
	if !m.running() {
		return domain.ErrNotRunning
	}
	return m.scaler.ScaleTo(target, reason)
}

// Workers returns the enabled and total worker counts.
func (m *Manager) Workers() (enabled, total int) {
	return m.pool.Enabled(), m.pool.Size()
}

// Registry exposes the Prometheus registry for the metrics endpoint.
func (m *Manager) Registry() *prometheus.Registry { return m.registry }

// metricsLoop periodically publishes a metrics snapshot and feeds the
// adaptive throttle.
func (m *Manager) metricsLoop(ctx context.Context) error {
	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			metrics := m.queue.Status().Metrics
			m.queue.AdaptThrottle(metrics.ErrorRate)
			m.bus.Publish(domain.EventMetricsCollected, metrics)
		}
	}
}

// metricValues flattens the queue metrics for alert rule evaluation.
func (m *Manager) metricValues() map[string]float64 {
	metrics := m.queue.Status().Metrics
	return map[string]float64{
		"queue_size":              float64(metrics.Size),
		"pending":                 float64(metrics.Pending),
		"processing":              float64(metrics.Processing),
		"queue_utilization":       metrics.QueueUtilization,
		"error_rate":              metrics.ErrorRate,
		"throughput":              metrics.Throughput,
		"avg_processing_time_ms":  float64(metrics.AverageProcessingTime.Milliseconds()),
		"memory_usage_mb":         float64(metrics.MemoryUsage) / (1024 * 1024),
		"completed":               float64(metrics.Completed),
		"failed":                  float64(metrics.Failed),
		"workers_enabled":         float64(m.pool.Enabled()),
	}
}

// RaiseResourceAlert implements monitor.Actions.
func (m *Manager) RaiseResourceAlert(resource string, value, threshold float64) {
	m.alerts.RaiseResourceAlert(resource, value, threshold)
}

// throttleDownFactor is the forced rate reduction applied when a
// resource goes critical with the throttle action.
const throttleDownFactor = 0.5

// ThrottleDown implements monitor.Actions. The reduction is pinned so
// the metrics loop cannot undo it before the resource recovers.
func (m *Manager) ThrottleDown(resource string) {
	m.logger.Warn("Throttling dispatch for resource pressure", slog.String("resource", resource))
	m.queue.ForceThrottle(throttleDownFactor)
}

// ReleaseThrottle implements monitor.Actions.
func (m *Manager) ReleaseThrottle(resource string) {
	m.logger.Info("Releasing dispatch throttle", slog.String("resource", resource))
	m.queue.ReleaseThrottle()
}

// PauseProcessing implements monitor.Actions and health.Actions.
func (m *Manager) PauseProcessing(reason string) {
	m.logger.Warn("Pausing dispatch", slog.String("reason", reason))
	m.queue.SetPaused(true)
}

// ClearCompleted implements monitor.Actions.
func (m *Manager) ClearCompleted(reason string) {
	removed := m.queue.Clear(queue.ClearOptions{Statuses: []domain.Status{domain.StatusCompleted}})
	m.logger.Warn("Cleared completed operations",
		slog.String("reason", reason),
		slog.Int("removed", removed),
	)
}

// ScaleForHealth implements health.Actions.
func (m *Manager) ScaleForHealth(checkID string) {
	m.scaler.ScaleForHealth(checkID)
}

// healthChecks builds the runner checks from configuration. Unknown
// check ids probe nothing and always pass.
func (m *Manager) healthChecks(cfg config.HealthConfig) []health.Check {
	reader := monitor.RuntimeReader{MemoryBudgetMB: m.cfg.Resources.MemoryBudgetMB}

	probes := map[string]func() float64{
		health.CheckMemory: func() float64 {
			return reader.Usage()[monitor.ResourceMemory]
		},
		health.CheckStorage: func() float64 {
			return float64(m.queue.Status().Metrics.MemoryUsage) / (1024 * 1024)
		},
		health.CheckNetwork: func() float64 {
			return m.queue.Status().Metrics.ErrorRate * 100
		},
		health.CheckQueue: func() float64 {
			return m.queue.Status().Metrics.QueueUtilization
		},
		health.CheckSync: func() float64 {
			return float64(m.queue.Status().Metrics.Failed)
		},
	}

	var checks []health.Check
	for id, check := range cfg.Checks {
		probe, ok := probes[id]
		if !ok {
			m.logger.Warn("Unknown health check id", slog.String("check", id))
			probe = func() float64 { return 0 }
		}
		checks = append(checks, health.Check{
			ID:        id,
			Threshold: check.Threshold,
			Action:    check.Action,
			Probe:     probe,
		})
	}
	return checks
}

func batchStrategies(cfg config.BatchConfig) []batch.Strategy {
	var out []batch.Strategy
	for _, s := range cfg.Strategies {
		out = append(out, batch.Strategy{
			Name:     s.Name,
			Match:    rules.Predicate(s.Match),
			MinCount: s.MinCount,
		})
	}
	return out
}

func alertRules(cfg config.AlertsConfig) []alert.Rule {
	var out []alert.Rule
	for _, r := range cfg.Rules {
		out = append(out, alert.Rule{
			ID:       r.ID,
			Metric:   r.Metric,
			Op:       rules.Operator(r.Op),
			Value:    r.Value,
			Duration: r.Duration,
			Cooldown: r.Cooldown,
			Severity: domain.Severity(r.Severity),
			Title:    r.Title,
			Message:  r.Message,
		})
	}
	return out
}

func alertChannels(cfg config.AlertsConfig, logger *slog.Logger) []alert.Notifier {
	var out []alert.Notifier
	if cfg.Console {
		out = append(out, alert.NewConsoleChannel(logger))
	}
	if cfg.Webhook.URL != "" {
		out = append(out, alert.NewWebhookChannel(cfg.Webhook.URL, cfg.Webhook.Secret, cfg.Webhook.Timeout))
	}
	return out
}

func resourceLimits(cfg config.ResourcesConfig) map[string]monitor.Limit {
	out := make(map[string]monitor.Limit, len(cfg.Limits))
	for name, limit := range cfg.Limits {
		out[name] = monitor.Limit{
			Warning:  limit.Warning,
			Critical: limit.Critical,
			Action:   limit.Action,
		}
	}
	return out
}
