package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/offsync/opqueue/internal/domain"
)

// Run drives the dispatch loop until the context is cancelled. The
// loop wakes on its tick and on kicks from enqueue/completion, and
// dispatches according to the configured processing mode.
func (q *Queue) Run(ctx context.Context) error {
	interval := q.opts.PollInterval
	if q.opts.Mode != ModeImmediate && q.opts.ProcessingInterval > 0 {
		interval = q.opts.ProcessingInterval
	}

	q.logger.Info("Dispatch loop started",
		slog.String("mode", q.opts.Mode),
		slog.Duration("interval", interval),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			q.logger.Info("Dispatch loop stopped")
			return nil

		case <-q.kick:
			switch q.opts.Mode {
			case ModeImmediate:
				q.dispatchBatch(ctx, -1)
			case ModeBatch:
				// Early flush once a full batch is ready.
				q.mu.Lock()
				ready := q.eligibleCountLocked(time.Now()) >= q.opts.BatchSize
				q.mu.Unlock()
				if ready {
					q.dispatchBatch(ctx, q.opts.BatchSize)
				}
			case ModeScheduled:
				// Scheduled mode dispatches only on interval ticks.
			}

		case <-ticker.C:
			switch q.opts.Mode {
			case ModeBatch:
				q.dispatchBatch(ctx, q.opts.BatchSize)
			default:
				q.dispatchBatch(ctx, -1)
			}
		}
	}
}

// dispatchBatch dispatches up to max eligible items (unbounded when
// max < 0), respecting the pause, connectivity, slot, and throttle
// gates.
func (q *Queue) dispatchBatch(ctx context.Context, max int) {
	if q.paused.Load() || !q.online.Load() {
		return
	}
	for n := 0; max < 0 || n < max; n++ {
		if !q.dispatchOne(ctx) {
			return
		}
	}
}

// dispatchOne moves the next eligible item to processing and hands it
// to an executor. Returns false when nothing could be dispatched.
func (q *Queue) dispatchOne(ctx context.Context) bool {
	now := time.Now()

	q.mu.Lock()
	if q.inflight >= q.slotLimitLocked() {
		q.mu.Unlock()
		return false
	}
	item := q.nextEligibleLocked(now)
	if item == nil {
		q.mu.Unlock()
		return false
	}
	if !q.throttle.allow() {
		q.mu.Unlock()
		return false
	}

	item.Status = domain.StatusProcessing
	item.Attempts++
	q.inflight++

	opCtx, cancel := context.WithTimeout(ctx, q.opts.OperationTimeout)
	q.cancels[item.ID] = cancel

	d := Dispatch{Item: item.Clone(), Ctx: opCtx}
	q.mu.Unlock()

	select {
	case q.dispatchCh <- d:
		q.logger.Debug("Operation dispatched",
			slog.String("id", d.Item.ID),
			slog.Int("attempts", d.Item.Attempts),
		)
		return true

	case <-ctx.Done():
		// Shutting down: put the item back as if never dispatched.
		q.mu.Lock()
		q.releaseLocked(item.ID)
		item.Status = domain.StatusPending
		item.Attempts--
		q.inflight--
		q.mu.Unlock()
		return false
	}
}

// slotLimitLocked is the in-flight ceiling: the configured concurrency
// cap bounded by the enabled worker count.
func (q *Queue) slotLimitLocked() int {
	limit := q.opts.MaxConcurrent
	if q.capacityFn != nil {
		if c := q.capacityFn(); c < limit {
			limit = c
		}
	}
	return limit
}
