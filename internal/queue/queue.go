// Package queue implements the operation queue: admission,
// deduplication, priority dispatch, retry bookkeeping, persistence
// hand-off, and metrics.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/offsync/opqueue/internal/domain"
	"github.com/offsync/opqueue/internal/events"
	"github.com/offsync/opqueue/internal/retry"
)

// Processing modes for the dispatch loop.
const (
	ModeImmediate = "immediate"
	ModeBatch     = "batch"
	ModeScheduled = "scheduled"
)

// defaultPollInterval is the dispatch wakeup tick in immediate mode.
const defaultPollInterval = 100 * time.Millisecond

// Options configures a Queue.
type Options struct {
	MaxQueueSize       int
	MaxConcurrent      int
	Mode               string
	BatchSize          int
	ProcessingInterval time.Duration
	OperationTimeout   time.Duration
	PollInterval       time.Duration
	Policy             retry.Policy
	Throttle           ThrottleOptions
	PersistKey         string
}

// EnqueueOptions carries the per-call admission settings.
type EnqueueOptions struct {
	Priority     domain.Priority
	Dependencies []string
	Metadata     map[string]string

	// ReturnExisting makes a re-enqueue of an active id return the
	// existing id instead of failing with ErrDuplicateActive.
	ReturnExisting bool
}

// ClearOptions filters bulk removal. Empty Statuses clears terminal
// items (completed, failed, cancelled); processing items are never
// removed.
type ClearOptions struct {
	Statuses  []domain.Status
	OlderThan time.Duration
}

// QueueStatus is the external status snapshot.
type QueueStatus struct {
	Size    int     `json:"size"`
	Metrics Metrics `json:"metrics"`
}

// Dispatch is one unit of work handed to an executor. Ctx carries the
// per-operation timeout and the cooperative cancellation signal.
type Dispatch struct {
	Item *domain.Item
	Ctx  context.Context
}

// Queue is the operation queue. All state transitions happen under one
// writer lock; metric snapshots are taken under the same lock.
type Queue struct {
	opts       Options
	persistKey string
	logger     *slog.Logger
	bus        *events.Bus
	store      Store
	throttle   *throttle

	mu              sync.Mutex
	items           map[string]*domain.Item
	seq             uint64
	active          int // pending + processing
	inflight        int // processing
	memBytes        int64
	cancels         map[string]context.CancelFunc
	cancelRequested map[string]bool
	metrics         metricsState
	capacityFn      func() int

	dispatchCh chan Dispatch
	kick       chan struct{}
	paused     atomic.Bool
	online     atomic.Bool
}

// New creates a queue and restores any persisted snapshot from the
// store. A nil store disables persistence.
func New(opts Options, store Store, bus *events.Bus, logger *slog.Logger) (*Queue, error) {
	if opts.Mode == "" {
		opts.Mode = ModeImmediate
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	persistKey := opts.PersistKey
	if persistKey == "" {
		persistKey = DefaultPersistKey
	}

	q := &Queue{
		opts:            opts,
		persistKey:      persistKey,
		logger:          logger,
		bus:             bus,
		store:           store,
		throttle:        newThrottle(opts.Throttle),
		items:           make(map[string]*domain.Item),
		cancels:         make(map[string]context.CancelFunc),
		cancelRequested: make(map[string]bool),
		dispatchCh:      make(chan Dispatch, opts.MaxConcurrent),
		kick:            make(chan struct{}, 1),
	}
	// The throttle window doubles as the metrics observation window so
	// the adaptive rate reacts on the same horizon it samples.
	q.metrics.window = opts.Throttle.Window
	q.online.Store(true)

	if err := q.restore(); err != nil {
		return nil, err
	}
	return q, nil
}

// SetCapacityFn installs the enabled-worker count callback. The
// dispatch ceiling is min(MaxConcurrent, capacityFn()).
func (q *Queue) SetCapacityFn(fn func() int) {
	q.mu.Lock()
	q.capacityFn = fn
	q.mu.Unlock()
}

// Dispatches is the channel executors pull work from.
func (q *Queue) Dispatches() <-chan Dispatch {
	return q.dispatchCh
}

// Enqueue admits one operation. An empty op.ID gets a generated id.
// Returns ErrDuplicateActive when the id is already pending or
// processing (unless opts.ReturnExisting) and ErrCapacityExceeded when
// the queue is full.
func (q *Queue) Enqueue(op domain.Operation, opts EnqueueOptions) (string, error) {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	priority := opts.Priority
	if priority == "" {
		priority = domain.PriorityMedium
	}
	if !priority.Valid() {
		return "", fmt.Errorf("invalid priority: %q", priority)
	}

	now := time.Now()

	q.mu.Lock()
	if existing, ok := q.items[op.ID]; ok && existing.Active() {
		q.mu.Unlock()
		if opts.ReturnExisting {
			return op.ID, nil
		}
		return "", domain.ErrDuplicateActive
	}
	if q.active >= q.opts.MaxQueueSize {
		q.mu.Unlock()
		return "", domain.ErrCapacityExceeded
	}

	// A terminal item with the same id is superseded by the new one.
	if old, ok := q.items[op.ID]; ok {
		q.memBytes -= itemBytes(old)
	}

	q.seq++
	item := &domain.Item{
		ID:           op.ID,
		Operation:    op,
		Priority:     priority,
		Status:       domain.StatusPending,
		Dependencies: opts.Dependencies,
		ScheduledAt:  now,
		CreatedAt:    now,
		Metadata:     opts.Metadata,
		Seq:          q.seq,
	}
	q.items[op.ID] = item
	q.active++
	q.memBytes += itemBytes(item)
	q.persistLocked()
	snap := item.Clone()
	q.mu.Unlock()

	q.logger.Debug("Operation enqueued",
		slog.String("id", snap.ID),
		slog.String("type", snap.Operation.Type),
		slog.String("priority", string(snap.Priority)),
	)
	q.bus.Publish(domain.EventEnqueued, snap)
	q.kickDispatch()
	return snap.ID, nil
}

// Dequeue removes a pending item. It is a no-op for processing, absent
// or terminal items.
func (q *Queue) Dequeue(id string) bool {
	q.mu.Lock()
	item, ok := q.items[id]
	if !ok || item.Status != domain.StatusPending {
		q.mu.Unlock()
		return false
	}
	delete(q.items, id)
	q.active--
	q.memBytes -= itemBytes(item)
	q.persistLocked()
	q.mu.Unlock()
	return true
}

// Retry forces a failed item back to pending, eligible immediately,
// bypassing the backoff wait. Returns false if the item is not failed.
func (q *Queue) Retry(id string) bool {
	q.mu.Lock()
	item, ok := q.items[id]
	if !ok || item.Status != domain.StatusFailed {
		q.mu.Unlock()
		return false
	}
	item.Status = domain.StatusPending
	item.ScheduledAt = time.Now()
	q.active++
	q.persistLocked()
	snap := item.Clone()
	q.mu.Unlock()

	q.bus.Publish(domain.EventRetried, snap)
	q.kickDispatch()
	return true
}

// Cancel transitions a pending item to cancelled. For a processing
// item it cancels the dispatch context; the executor observes the
// cancellation cooperatively and the outcome handler records the item
// as cancelled. Returns false for absent or terminal items.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	item, ok := q.items[id]
	if !ok {
		q.mu.Unlock()
		return false
	}

	switch item.Status {
	case domain.StatusPending:
		item.Status = domain.StatusCancelled
		q.active--
		q.persistLocked()
		snap := item.Clone()
		q.mu.Unlock()
		q.bus.Publish(domain.EventCancelled, snap)
		return true

	case domain.StatusProcessing:
		q.cancelRequested[id] = true
		cancel := q.cancels[id]
		q.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return true

	default:
		q.mu.Unlock()
		return false
	}
}

// Get returns a snapshot of one item.
func (q *Queue) Get(id string) (*domain.Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return nil, false
	}
	return item.Clone(), true
}

// Items returns snapshots of all tracked items.
func (q *Queue) Items() []*domain.Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*domain.Item, 0, len(q.items))
	for _, item := range q.items {
		out = append(out, item.Clone())
	}
	return out
}

// Status returns the queue size and metric snapshot.
func (q *Queue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStatus{Size: q.active, Metrics: q.snapshotLocked(time.Now())}
}

func (q *Queue) snapshotLocked(now time.Time) Metrics {
	m := Metrics{
		Size:                  q.active,
		Pending:               q.active - q.inflight,
		Processing:            q.inflight,
		Throughput:            q.metrics.throughput(now),
		ErrorRate:             q.metrics.errorRate(),
		AverageProcessingTime: q.metrics.averageProcessingTime(),
		MemoryUsage:           q.memBytes,
		Completed:             q.metrics.completed,
		Failed:                q.metrics.failed,
	}
	if q.opts.MaxQueueSize > 0 {
		m.QueueUtilization = float64(q.active) / float64(q.opts.MaxQueueSize)
	}
	return m
}

// Clear bulk-removes items matching the filter and returns the count.
func (q *Queue) Clear(opts ClearOptions) int {
	statuses := opts.Statuses
	if len(statuses) == 0 {
		statuses = []domain.Status{domain.StatusCompleted, domain.StatusFailed, domain.StatusCancelled}
	}
	match := make(map[domain.Status]bool, len(statuses))
	for _, s := range statuses {
		match[s] = true
	}

	now := time.Now()
	removed := 0

	q.mu.Lock()
	for id, item := range q.items {
		if item.Status == domain.StatusProcessing || !match[item.Status] {
			continue
		}
		if opts.OlderThan > 0 && now.Sub(item.CreatedAt) < opts.OlderThan {
			continue
		}
		delete(q.items, id)
		if item.Status == domain.StatusPending {
			q.active--
		}
		q.memBytes -= itemBytes(item)
		removed++
	}
	if removed > 0 {
		q.persistLocked()
	}
	q.mu.Unlock()

	if removed > 0 {
		q.logger.Info("Queue cleared",
			slog.Int("removed", removed),
		)
	}
	return removed
}

// Complete records a successful execution.
func (q *Queue) Complete(id string, dur time.Duration) {
	now := time.Now()

	q.mu.Lock()
	item, ok := q.items[id]
	if !ok || item.Status != domain.StatusProcessing {
		q.mu.Unlock()
		return
	}
	q.releaseLocked(id)
	item.Status = domain.StatusCompleted
	item.LastError = ""
	q.active--
	q.inflight--
	q.metrics.recordCompletion(now, dur)
	q.persistLocked()
	snap := item.Clone()
	q.mu.Unlock()

	q.bus.Publish(domain.EventCompleted, snap)
	// Dependents of this item may have become eligible.
	q.kickDispatch()
}

// Fail records a failed execution. Depending on the cancellation flag
// and the retry policy, the item becomes cancelled, returns to pending
// with a backoff delay, or terminalizes as failed.
func (q *Queue) Fail(id string, execErr error, dur time.Duration) {
	now := time.Now()

	q.mu.Lock()
	item, ok := q.items[id]
	if !ok || item.Status != domain.StatusProcessing {
		q.mu.Unlock()
		return
	}
	q.releaseLocked(id)
	q.inflight--

	if q.cancelRequested[id] {
		delete(q.cancelRequested, id)
		item.Status = domain.StatusCancelled
		item.LastError = ""
		q.active--
		q.persistLocked()
		snap := item.Clone()
		q.mu.Unlock()
		q.bus.Publish(domain.EventCancelled, snap)
		return
	}

	class := domain.Classify(execErr)
	item.LastError = execErr.Error()

	decision := q.opts.Policy.Evaluate(class, item.Attempts)
	if decision.Retry {
		item.Status = domain.StatusPending
		item.ScheduledAt = now.Add(decision.Delay)
		q.persistLocked()
		snap := item.Clone()
		q.mu.Unlock()

		q.logger.Info("Operation scheduled for retry",
			slog.String("id", snap.ID),
			slog.String("class", string(class)),
			slog.Int("attempts", snap.Attempts),
			slog.Duration("delay", decision.Delay),
		)
		q.bus.Publish(domain.EventRetried, snap)
		return
	}

	item.Status = domain.StatusFailed
	q.active--
	q.metrics.recordFailure(now, dur)
	q.persistLocked()
	snap := item.Clone()
	q.mu.Unlock()

	q.logger.Warn("Operation failed terminally",
		slog.String("id", snap.ID),
		slog.String("class", string(class)),
		slog.Int("attempts", snap.Attempts),
		slog.String("error", execErr.Error()),
	)
	q.bus.Publish(domain.EventFailed, snap)
	q.kickDispatch()
}

// releaseLocked drops the cancel bookkeeping for a finished dispatch.
func (q *Queue) releaseLocked(id string) {
	if cancel, ok := q.cancels[id]; ok {
		delete(q.cancels, id)
		cancel()
	}
	delete(q.cancelRequested, id)
}

// SetPaused stops or resumes dispatch. In-flight operations finish.
func (q *Queue) SetPaused(paused bool) {
	was := q.paused.Swap(paused)
	if was != paused {
		q.logger.Info("Dispatch pause state changed",
			slog.Bool("paused", paused),
		)
		if !paused {
			q.kickDispatch()
		}
	}
}

// Paused reports whether dispatch is paused.
func (q *Queue) Paused() bool {
	return q.paused.Load()
}

// SetOnline feeds connectivity state into the network-aware gate.
// Dispatch halts entirely while offline.
func (q *Queue) SetOnline(online bool) {
	was := q.online.Swap(online)
	if was != online {
		q.logger.Info("Connectivity state changed",
			slog.Bool("online", online),
		)
		if online {
			q.kickDispatch()
		}
	}
}

// AdaptThrottle feeds the current error rate into the adaptive
// throttle. A forced reduction set by ForceThrottle wins over it.
func (q *Queue) AdaptThrottle(errorRate float64) {
	q.throttle.adapt(errorRate)
}

// ForceThrottle pins the dispatch rate to factor of the configured
// rate until ReleaseThrottle. No-op when throttling is disabled.
func (q *Queue) ForceThrottle(factor float64) {
	q.throttle.forceReduce(factor)
}

// ReleaseThrottle lifts a forced reduction.
func (q *Queue) ReleaseThrottle() {
	q.throttle.release()
}

func (q *Queue) kickDispatch() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}
