package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offsync/opqueue/internal/domain"
)

func TestScheduler_PriorityOrdering(t *testing.T) {
	opts := testOptions()
	opts.MaxConcurrent = 1 // one worker slot free
	q := newTestQueue(t, opts)
	ctx := context.Background()

	_, err := q.Enqueue(op("low", "sync_note"), EnqueueOptions{Priority: domain.PriorityLow})
	require.NoError(t, err)
	_, err = q.Enqueue(op("critical", "sync_note"), EnqueueOptions{Priority: domain.PriorityCritical})
	require.NoError(t, err)

	require.True(t, q.dispatchOne(ctx))
	d := <-q.Dispatches()
	assert.Equal(t, "critical", d.Item.ID, "critical dispatches before low")
}

func TestScheduler_FullPriorityRanking(t *testing.T) {
	q := newTestQueue(t, testOptions())
	ctx := context.Background()

	order := []string{"background", "medium", "critical", "low", "high"}
	priorities := map[string]domain.Priority{
		"background": domain.PriorityBackground,
		"medium":     domain.PriorityMedium,
		"critical":   domain.PriorityCritical,
		"low":        domain.PriorityLow,
		"high":       domain.PriorityHigh,
	}
	for _, id := range order {
		_, err := q.Enqueue(op(id, "sync_note"), EnqueueOptions{Priority: priorities[id]})
		require.NoError(t, err)
	}

	want := []string{"critical", "high", "medium", "low", "background"}
	for _, expected := range want {
		require.True(t, q.dispatchOne(ctx))
		d := <-q.Dispatches()
		assert.Equal(t, expected, d.Item.ID)
		q.Complete(d.Item.ID, time.Millisecond)
	}
}

func TestScheduler_FIFOWithinPriorityClass(t *testing.T) {
	q := newTestQueue(t, testOptions())
	ctx := context.Background()

	for _, id := range []string{"first", "second", "third"} {
		_, err := q.Enqueue(op(id, "sync_note"), EnqueueOptions{})
		require.NoError(t, err)
	}

	for _, expected := range []string{"first", "second", "third"} {
		require.True(t, q.dispatchOne(ctx))
		d := <-q.Dispatches()
		assert.Equal(t, expected, d.Item.ID, "insertion order is the tie-break")
		q.Complete(d.Item.ID, time.Millisecond)
	}
}

func TestScheduler_EarlierScheduledFirst(t *testing.T) {
	q := newTestQueue(t, testOptions())
	ctx := context.Background()

	_, err := q.Enqueue(op("later", "sync_note"), EnqueueOptions{})
	require.NoError(t, err)
	_, err = q.Enqueue(op("earlier", "sync_note"), EnqueueOptions{})
	require.NoError(t, err)

	// Push "later" behind "earlier" within the same priority class.
	q.mu.Lock()
	q.items["earlier"].ScheduledAt = q.items["later"].ScheduledAt.Add(-time.Minute)
	q.mu.Unlock()

	require.True(t, q.dispatchOne(ctx))
	d := <-q.Dispatches()
	assert.Equal(t, "earlier", d.Item.ID)
}

func TestScheduler_BackoffDelaysEligibility(t *testing.T) {
	q := newTestQueue(t, testOptions())
	ctx := context.Background()

	_, err := q.Enqueue(op("delayed", "sync_note"), EnqueueOptions{})
	require.NoError(t, err)

	q.mu.Lock()
	q.items["delayed"].ScheduledAt = time.Now().Add(time.Hour)
	q.mu.Unlock()

	assert.False(t, q.dispatchOne(ctx), "item is not eligible before its scheduled time")
}

func TestScheduler_DependencyGating(t *testing.T) {
	q := newTestQueue(t, testOptions())
	ctx := context.Background()

	depID, err := q.Enqueue(op("dep", "sync_note"), EnqueueOptions{Priority: domain.PriorityLow})
	require.NoError(t, err)
	_, err = q.Enqueue(op("child", "sync_note"), EnqueueOptions{
		Priority:     domain.PriorityCritical,
		Dependencies: []string{depID},
	})
	require.NoError(t, err)

	// The critical child is blocked; the low-priority dep dispatches.
	require.True(t, q.dispatchOne(ctx))
	d := <-q.Dispatches()
	require.Equal(t, "dep", d.Item.ID)

	// Child stays blocked while the dependency is in flight.
	assert.False(t, q.dispatchOne(ctx), "child must not dispatch before the dependency completes")

	q.Complete(depID, time.Millisecond)

	require.True(t, q.dispatchOne(ctx))
	d = <-q.Dispatches()
	assert.Equal(t, "child", d.Item.ID)
}

func TestScheduler_MissingDependencyCountsAsSatisfied(t *testing.T) {
	q := newTestQueue(t, testOptions())
	ctx := context.Background()

	_, err := q.Enqueue(op("child", "sync_note"), EnqueueOptions{
		Dependencies: []string{"long-gone"},
	})
	require.NoError(t, err)

	require.True(t, q.dispatchOne(ctx))
	d := <-q.Dispatches()
	assert.Equal(t, "child", d.Item.ID)
}
