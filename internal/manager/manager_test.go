package manager

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offsync/opqueue/internal/config"
	"github.com/offsync/opqueue/internal/domain"
	"github.com/offsync/opqueue/internal/events"
	"github.com/offsync/opqueue/internal/queue"
	"github.com/offsync/opqueue/internal/rules"
)

type recordingSyncer struct {
	mu       sync.Mutex
	executed []string
	fail     map[string]error
}

func newRecordingSyncer() *recordingSyncer {
	return &recordingSyncer{fail: make(map[string]error)}
}

func (s *recordingSyncer) Execute(ctx context.Context, op *domain.Operation) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.executed = append(s.executed, op.ID)
	if err, ok := s.fail[op.ID]; ok {
		return err
	}
	return nil
}

func (s *recordingSyncer) executions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.executed...)
}

func testConfig() *config.Config {
	return &config.Config{
		Queue: config.QueueConfig{
			MaxQueueSize:            100,
			MaxConcurrentOperations: 4,
			Mode:                    config.ModeImmediate,
			OperationTimeout:        5 * time.Second,
		},
		Retry: config.RetryConfig{
			MaxRetries:   2,
			Strategy:     "fixed",
			InitialDelay: 5 * time.Millisecond,
		},
		Scaling: config.ScalingConfig{
			MinWorkers:         2,
			MaxWorkers:         4,
			ScaleUpThreshold:   0.8,
			ScaleDownThreshold: 0.2,
			ScaleUpCooldown:    time.Minute,
			ScaleDownCooldown:  time.Minute,
			Interval:           time.Hour,
		},
		Health:    config.HealthConfig{Interval: time.Hour},
		Resources: config.ResourcesConfig{Interval: time.Hour},
		Alerts:    config.AlertsConfig{Interval: time.Hour},
	}
}

func newTestManager(t *testing.T, cfg *config.Config, syncer Syncer) (*Manager, *events.Bus) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	bus := events.NewBus(64, logger)
	m, err := New(cfg, nil, syncer, bus, logger)
	require.NoError(t, err)
	return m, bus
}

func startManager(t *testing.T, m *Manager) {
	t.Helper()
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() {
		if m.State() == StateRunning {
			_ = m.Stop()
		}
	})
}

func waitForEvent(t *testing.T, ch <-chan domain.Event, want domain.EventType) domain.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Type == want {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

func TestManager_Lifecycle(t *testing.T) {
	m, _ := newTestManager(t, testConfig(), newRecordingSyncer())
	assert.Equal(t, StateCreated, m.State())

	_, err := m.Enqueue(domain.Operation{Type: "sync_note"}, queue.EnqueueOptions{})
	assert.ErrorIs(t, err, domain.ErrNotRunning)

	startManager(t, m)
	assert.Equal(t, StateRunning, m.State())
	assert.Error(t, m.Start(context.Background()), "double start is rejected")

	require.NoError(t, m.Stop())
	assert.Equal(t, StateDestroyed, m.State())
	assert.ErrorIs(t, m.Stop(), domain.ErrNotRunning)

	_, err = m.Enqueue(domain.Operation{Type: "sync_note"}, queue.EnqueueOptions{})
	assert.ErrorIs(t, err, domain.ErrNotRunning)
}

func TestManager_ExecutesEnqueuedOperation(t *testing.T) {
	syncer := newRecordingSyncer()
	m, bus := newTestManager(t, testConfig(), syncer)

	ch, unsub := bus.Subscribe()
	defer unsub()

	startManager(t, m)

	id, err := m.Enqueue(domain.Operation{ID: "op-1", Type: "sync_note"}, queue.EnqueueOptions{})
	require.NoError(t, err)
	require.Equal(t, "op-1", id)

	waitForEvent(t, ch, domain.EventCompleted)

	assert.Contains(t, syncer.executions(), "op-1")
	item, ok := m.Get("op-1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusCompleted, item.Status)
	assert.Equal(t, 1, item.Attempts)
}

func TestManager_RetriesFailedOperation(t *testing.T) {
	syncer := newRecordingSyncer()
	syncer.fail["flaky"] = domain.NewClassifiedError(domain.ClassNetwork, errors.New("connection reset"))

	m, bus := newTestManager(t, testConfig(), syncer)
	ch, unsub := bus.Subscribe()
	defer unsub()

	startManager(t, m)

	_, err := m.Enqueue(domain.Operation{ID: "flaky", Type: "sync_note"}, queue.EnqueueOptions{})
	require.NoError(t, err)

	waitForEvent(t, ch, domain.EventFailed)

	item, ok := m.Get("flaky")
	require.True(t, ok)
	assert.Equal(t, domain.StatusFailed, item.Status)
	assert.Equal(t, 3, item.Attempts, "initial execution plus two retries")
}

func TestManager_EnqueueBatchCoalesces(t *testing.T) {
	cfg := testConfig()
	cfg.Batch = config.BatchConfig{Strategies: []config.BatchStrategyConfig{{
		Name:     "merge-note-syncs",
		MinCount: 2,
		Match:    []rules.Condition{{Field: "type", Op: rules.OpEQ, Value: "sync_note"}},
	}}}

	syncer := newRecordingSyncer()
	m, bus := newTestManager(t, cfg, syncer)
	ch, unsub := bus.Subscribe()
	defer unsub()

	startManager(t, m)

	ids, err := m.EnqueueBatch([]domain.Operation{
		{Type: "sync_note", Payload: []byte(`{"n":1}`)},
		{Type: "sync_note", Payload: []byte(`{"n":2}`)},
		{Type: "sync_note", Payload: []byte(`{"n":3}`)},
	}, queue.EnqueueOptions{})
	require.NoError(t, err)
	require.Len(t, ids, 1, "three matching operations coalesce into one")

	waitForEvent(t, ch, domain.EventCompleted)
	assert.Equal(t, []string{ids[0]}, syncer.executions())
}

func TestManager_PauseAndResume(t *testing.T) {
	syncer := newRecordingSyncer()
	m, bus := newTestManager(t, testConfig(), syncer)
	ch, unsub := bus.Subscribe()
	defer unsub()

	startManager(t, m)

	m.Pause()
	require.True(t, m.Paused())

	_, err := m.Enqueue(domain.Operation{ID: "held", Type: "sync_note"}, queue.EnqueueOptions{})
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, syncer.executions(), "nothing dispatches while paused")

	m.Resume()
	waitForEvent(t, ch, domain.EventCompleted)
	assert.Contains(t, syncer.executions(), "held")
}

func TestManager_ManualScaling(t *testing.T) {
	m, bus := newTestManager(t, testConfig(), newRecordingSyncer())
	ch, unsub := bus.Subscribe()
	defer unsub()

	startManager(t, m)

	enabled, total := m.Workers()
	assert.Equal(t, 2, enabled)
	assert.Equal(t, 4, total)

	require.NoError(t, m.ScaleTo(4, "load test"))
	waitForEvent(t, ch, domain.EventScaled)

	enabled, _ = m.Workers()
	assert.Equal(t, 4, enabled)

	history := m.ScalingEvents()
	require.NotEmpty(t, history)
	assert.Equal(t, "load test", history[0].Reason)

	assert.Error(t, m.ScaleTo(10, "beyond max"))
}

func TestManager_StatusAndClear(t *testing.T) {
	syncer := newRecordingSyncer()
	m, bus := newTestManager(t, testConfig(), syncer)
	ch, unsub := bus.Subscribe()
	defer unsub()

	startManager(t, m)

	_, err := m.Enqueue(domain.Operation{ID: "done", Type: "sync_note"}, queue.EnqueueOptions{})
	require.NoError(t, err)
	waitForEvent(t, ch, domain.EventCompleted)

	status := m.Status()
	assert.Equal(t, 0, status.Size, "completed items hold no active slot")
	assert.Equal(t, uint64(1), status.Metrics.Completed)

	removed := m.Clear(queue.ClearOptions{})
	assert.Equal(t, 1, removed)
	_, ok := m.Get("done")
	assert.False(t, ok)
}

func TestManager_HealthReport(t *testing.T) {
	cfg := testConfig()
	cfg.Health.Checks = map[string]config.CheckConfig{
		"queue": {Threshold: 0.9, Action: "none"},
	}
	m, _ := newTestManager(t, cfg, newRecordingSyncer())
	startManager(t, m)

	report := m.health.RunCycle()
	assert.Equal(t, "healthy", report.Status)
	require.Len(t, report.Checks, 1)
	assert.Equal(t, "queue", report.Checks[0].ID)
}
