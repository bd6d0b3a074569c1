package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/offsync/opqueue/internal/domain"
	"github.com/offsync/opqueue/internal/events"
	"github.com/offsync/opqueue/internal/queue"
)

// ScalingPersistKey is where the scaling history lives in the snapshot
// store.
const ScalingPersistKey = "scaling:events"

// scalingHistoryLimit caps how many events the history keeps.
const scalingHistoryLimit = 100

// ScalerOptions configures the auto-scaler.
type ScalerOptions struct {
	MinWorkers         int
	MaxWorkers         int
	ScaleUpThreshold   float64
	ScaleDownThreshold float64
	ScaleUpCooldown    time.Duration
	ScaleDownCooldown  time.Duration
	Interval           time.Duration
}

// AutoScaler adjusts the enabled worker count from queue utilization,
// one step per interval, with independent cooldowns per direction.
type AutoScaler struct {
	opts   ScalerOptions
	pool   *Pool
	queue  *queue.Queue
	store  Store
	bus    *events.Bus
	logger *slog.Logger
	clock  func() time.Time

	mu       sync.Mutex
	lastUp   time.Time
	lastDown time.Time
	history  []domain.ScalingEvent
}

// Store persists scaling history across restarts.
type Store interface {
	Save(key string, data []byte) error
	Load(key string) ([]byte, bool, error)
}

// NewAutoScaler creates a scaler. A nil store disables history
// persistence.
func NewAutoScaler(opts ScalerOptions, pool *Pool, q *queue.Queue, store Store, bus *events.Bus, logger *slog.Logger) *AutoScaler {
	s := &AutoScaler{
		opts:   opts,
		pool:   pool,
		queue:  q,
		store:  store,
		bus:    bus,
		logger: logger,
		clock:  time.Now,
	}
	s.restore()
	return s
}

// Run evaluates utilization on the configured interval until the
// context is cancelled.
func (s *AutoScaler) Run(ctx context.Context) error {
	s.logger.Info("Auto-scaler started",
		slog.Int("min_workers", s.opts.MinWorkers),
		slog.Int("max_workers", s.opts.MaxWorkers),
		slog.Duration("interval", s.opts.Interval),
	)
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Auto-scaler stopped")
			return nil
		case <-ticker.C:
			s.Evaluate()
		}
	}
}

// Evaluate runs one scaling decision against current queue utilization.
// At most one step up or down happens per call.
func (s *AutoScaler) Evaluate() {
	util := s.queue.Status().Metrics.QueueUtilization
	current := s.pool.Enabled()
	now := s.clock()

	switch {
	case util >= s.opts.ScaleUpThreshold && current < s.opts.MaxWorkers:
		if s.coolingUp(now) {
			return
		}
		s.scale(current+1, domain.ScaleUp, fmt.Sprintf("queue utilization %.2f over %.2f", util, s.opts.ScaleUpThreshold))

	case util <= s.opts.ScaleDownThreshold && current > s.opts.MinWorkers:
		s.mu.Lock()
		cooling := now.Sub(s.lastDown) < s.opts.ScaleDownCooldown
		s.mu.Unlock()
		if cooling {
			return
		}
		s.scale(current-1, domain.ScaleDown, fmt.Sprintf("queue utilization %.2f under %.2f", util, s.opts.ScaleDownThreshold))
	}
}

// ScaleTo sets the enabled worker count by hand. Manual requests go
// through the same bounds and history as automatic ones but skip the
// cooldowns.
func (s *AutoScaler) ScaleTo(target int, reason string) error {
	current := s.pool.Enabled()
	direction := domain.ScaleUp
	if target < current {
		direction = domain.ScaleDown
	}
	if ok := s.scale(target, direction, reason); !ok {
		return fmt.Errorf("target %d outside worker bounds [%d, %d]", target, s.opts.MinWorkers, s.opts.MaxWorkers)
	}
	return nil
}

// ScaleForHealth bumps the worker count one step in response to a
// failing health check. It goes through the same scale-up cooldown and
// bounds as the automatic path.
func (s *AutoScaler) ScaleForHealth(checkID string) {
	current := s.pool.Enabled()
	if current >= s.opts.MaxWorkers {
		return
	}
	if s.coolingUp(s.clock()) {
		s.logger.Debug("Health scale-up skipped, cooling down",
			slog.String("check", checkID),
		)
		return
	}
	s.scale(current+1, domain.ScaleUp, "health check "+checkID+" failing")
}

// coolingUp reports whether the scale-up cooldown is still in effect.
func (s *AutoScaler) coolingUp(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastUp) < s.opts.ScaleUpCooldown
}

// History returns the scaling event log, newest first.
func (s *AutoScaler) History() []domain.ScalingEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ScalingEvent, 0, len(s.history))
	for i := len(s.history) - 1; i >= 0; i-- {
		out = append(out, s.history[i])
	}
	return out
}

// scale applies one bounded transition and records it, successful or
// not. Returns whether the transition happened.
func (s *AutoScaler) scale(target int, direction domain.ScalingDirection, reason string) bool {
	current := s.pool.Enabled()
	now := s.clock()

	evt := domain.ScalingEvent{
		Type:        direction,
		FromWorkers: current,
		ToWorkers:   target,
		Reason:      reason,
		Timestamp:   now,
	}

	if target < s.opts.MinWorkers || target > s.opts.MaxWorkers || target == current {
		s.record(evt)
		s.logger.Debug("Scaling attempt rejected",
			slog.Int("from", current),
			slog.Int("to", target),
			slog.String("reason", reason),
		)
		return false
	}

	s.pool.SetEnabled(target)
	evt.Success = true
	s.record(evt)

	s.mu.Lock()
	if direction == domain.ScaleUp {
		s.lastUp = now
	} else {
		s.lastDown = now
	}
	s.mu.Unlock()

	s.logger.Info("Worker pool scaled",
		slog.String("direction", string(direction)),
		slog.Int("from", current),
		slog.Int("to", target),
		slog.String("reason", reason),
	)
	s.bus.Publish(domain.EventScaled, evt)
	return true
}

func (s *AutoScaler) record(evt domain.ScalingEvent) {
	s.mu.Lock()
	s.history = append(s.history, evt)
	if len(s.history) > scalingHistoryLimit {
		s.history = s.history[len(s.history)-scalingHistoryLimit:]
	}
	s.persistLocked()
	s.mu.Unlock()
}

func (s *AutoScaler) persistLocked() {
	if s.store == nil {
		return
	}
	data, err := json.Marshal(s.history)
	if err != nil {
		s.logger.Error("Failed to encode scaling history", slog.String("error", err.Error()))
		return
	}
	if err := s.store.Save(ScalingPersistKey, data); err != nil {
		s.logger.Error("Failed to persist scaling history", slog.String("error", err.Error()))
	}
}

func (s *AutoScaler) restore() {
	if s.store == nil {
		return
	}
	data, ok, err := s.store.Load(ScalingPersistKey)
	if err != nil {
		s.logger.Error("Failed to load scaling history", slog.String("error", err.Error()))
		return
	}
	if !ok {
		return
	}
	if err := json.Unmarshal(data, &s.history); err != nil {
		s.logger.Error("Failed to decode scaling history", slog.String("error", err.Error()))
		return
	}
	s.logger.Info("Scaling history restored", slog.Int("events", len(s.history)))
}
