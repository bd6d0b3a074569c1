package manager

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/offsync/opqueue/internal/domain"
	"github.com/offsync/opqueue/internal/queue"
)

// Syncer executes one operation against the remote side. It must
// respect ctx, which carries the per-operation timeout and the
// cooperative cancellation signal.
type Syncer interface {
	Execute(ctx context.Context, op *domain.Operation) error
}

// worker is one executor slot. Scaling flips enabled instead of
// creating or destroying goroutines; a disabled worker parks until its
// wake channel fires.
type worker struct {
	id      int
	enabled atomic.Bool
	wake    chan struct{}
}

// Pool runs a fixed set of worker goroutines pulling dispatches from
// the queue. The enabled subset is the effective concurrency.
type Pool struct {
	workers []*worker
	queue   *queue.Queue
	syncer  Syncer
	logger  *slog.Logger
}

// NewPool creates a pool of size workers with the first enabled of
// them active.
func NewPool(size, enabled int, q *queue.Queue, syncer Syncer, logger *slog.Logger) *Pool {
	if enabled > size {
		enabled = size
	}
	p := &Pool{
		queue:  q,
		syncer: syncer,
		logger: logger,
	}
	for i := 0; i < size; i++ {
		w := &worker{id: i, wake: make(chan struct{}, 1)}
		w.enabled.Store(i < enabled)
		p.workers = append(p.workers, w)
	}
	return p
}

// Run starts every worker goroutine and blocks until the context is
// cancelled and all workers have drained.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("Worker pool started",
		slog.Int("size", len(p.workers)),
		slog.Int("enabled", p.Enabled()),
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, w := range p.workers {
		g.Go(func() error {
			p.workerLoop(ctx, w)
			return nil
		})
	}
	err := g.Wait()
	p.logger.Info("Worker pool stopped")
	return err
}

func (p *Pool) workerLoop(ctx context.Context, w *worker) {
	for {
		if !w.enabled.Load() {
			select {
			case <-ctx.Done():
				return
			case <-w.wake:
				continue
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-w.wake:
			// Re-check enabled on the next pass.
		case d, ok := <-p.queue.Dispatches():
			if !ok {
				return
			}
			p.execute(w, d)
		}
	}
}

func (p *Pool) execute(w *worker, d queue.Dispatch) {
	start := time.Now()
	err := p.syncer.Execute(d.Ctx, &d.Item.Operation)
	dur := time.Since(start)

	if err != nil {
		p.queue.Fail(d.Item.ID, err, dur)
		return
	}

	p.logger.Debug("Operation executed",
		slog.Int("worker", w.id),
		slog.String("id", d.Item.ID),
		slog.Duration("duration", dur),
	)
	p.queue.Complete(d.Item.ID, dur)
}

// SetEnabled enables the first n workers and disables the rest.
// Returns the previous enabled count.
func (p *Pool) SetEnabled(n int) int {
	if n < 0 {
		n = 0
	}
	if n > len(p.workers) {
		n = len(p.workers)
	}

	prev := 0
	for i, w := range p.workers {
		want := i < n
		if w.enabled.Swap(want) {
			prev++
		}
		if want {
			select {
			case w.wake <- struct{}{}:
			default:
			}
		}
	}
	return prev
}

// Enabled returns the number of enabled workers.
func (p *Pool) Enabled() int {
	n := 0
	for _, w := range p.workers {
		if w.enabled.Load() {
			n++
		}
	}
	return n
}

// Size returns the total worker count, enabled or not.
func (p *Pool) Size() int {
	return len(p.workers)
}
