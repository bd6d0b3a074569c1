package monitor

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offsync/opqueue/internal/domain"
	"github.com/offsync/opqueue/internal/events"
)

type fakeReader struct {
	usage map[string]float64
}

func (f *fakeReader) Usage() map[string]float64 { return f.usage }

type recordedAction struct {
	kind     string
	resource string
	reason   string
}

type fakeActions struct {
	calls []recordedAction
}

func (f *fakeActions) RaiseResourceAlert(resource string, value, threshold float64) {
	f.calls = append(f.calls, recordedAction{kind: ActionAlert, resource: resource})
}

func (f *fakeActions) ThrottleDown(resource string) {
	f.calls = append(f.calls, recordedAction{kind: ActionThrottle, resource: resource})
}

func (f *fakeActions) ReleaseThrottle(resource string) {
	f.calls = append(f.calls, recordedAction{kind: "release", resource: resource})
}

func (f *fakeActions) PauseProcessing(reason string) {
	f.calls = append(f.calls, recordedAction{kind: ActionPause, reason: reason})
}

func (f *fakeActions) ClearCompleted(reason string) {
	f.calls = append(f.calls, recordedAction{kind: ActionClear, reason: reason})
}

func newTestMonitor(reader Reader, limits map[string]Limit, actions Actions) (*Monitor, *events.Bus) {
	logger := slog.New(slog.DiscardHandler)
	bus := events.NewBus(16, logger)
	return New(reader, limits, time.Second, actions, bus, logger), bus
}

func TestMonitor_LevelTransitions(t *testing.T) {
	reader := &fakeReader{usage: map[string]float64{ResourceMemory: 50}}
	actions := &fakeActions{}
	m, _ := newTestMonitor(reader, map[string]Limit{
		ResourceMemory: {Warning: 70, Critical: 90, Action: ActionAlert},
	}, actions)

	m.Collect()
	assert.Equal(t, LevelNormal, m.Samples()[ResourceMemory].Level)

	reader.usage[ResourceMemory] = 75
	m.Collect()
	assert.Equal(t, LevelWarning, m.Samples()[ResourceMemory].Level)
	assert.Empty(t, actions.calls, "warning raises no action")

	reader.usage[ResourceMemory] = 95
	m.Collect()
	assert.Equal(t, LevelCritical, m.Samples()[ResourceMemory].Level)
	require.Len(t, actions.calls, 1)
	assert.Equal(t, ActionAlert, actions.calls[0].kind)
	assert.Equal(t, ResourceMemory, actions.calls[0].resource)

	reader.usage[ResourceMemory] = 40
	m.Collect()
	assert.Equal(t, LevelNormal, m.Samples()[ResourceMemory].Level)
	assert.Len(t, actions.calls, 1, "recovery raises no action")
}

func TestMonitor_ActionFiresOncePerEpisode(t *testing.T) {
	reader := &fakeReader{usage: map[string]float64{ResourceStorage: 99}}
	actions := &fakeActions{}
	m, _ := newTestMonitor(reader, map[string]Limit{
		ResourceStorage: {Warning: 70, Critical: 90, Action: ActionClear},
	}, actions)

	m.Collect()
	m.Collect()
	m.Collect()

	assert.Len(t, actions.calls, 1, "action fires on the transition, not every sample")
	assert.Equal(t, ActionClear, actions.calls[0].kind)
}

func TestMonitor_CriticalActions(t *testing.T) {
	tests := []struct {
		name   string
		action string
		want   string
	}{
		{name: "throttle", action: ActionThrottle, want: ActionThrottle},
		{name: "pause", action: ActionPause, want: ActionPause},
		{name: "clear", action: ActionClear, want: ActionClear},
		{name: "alert", action: ActionAlert, want: ActionAlert},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := &fakeReader{usage: map[string]float64{ResourceNetwork: 100}}
			actions := &fakeActions{}
			m, _ := newTestMonitor(reader, map[string]Limit{
				ResourceNetwork: {Warning: 50, Critical: 80, Action: tt.action},
			}, actions)

			m.Collect()

			require.Len(t, actions.calls, 1)
			assert.Equal(t, tt.want, actions.calls[0].kind)
		})
	}
}

func TestMonitor_ThrottleReleasedOnRecovery(t *testing.T) {
	reader := &fakeReader{usage: map[string]float64{ResourceMemory: 95}}
	actions := &fakeActions{}
	m, _ := newTestMonitor(reader, map[string]Limit{
		ResourceMemory: {Warning: 70, Critical: 90, Action: ActionThrottle},
	}, actions)

	m.Collect()
	require.Len(t, actions.calls, 1)
	require.Equal(t, ActionThrottle, actions.calls[0].kind)

	reader.usage[ResourceMemory] = 75
	m.Collect()
	require.Len(t, actions.calls, 2)
	assert.Equal(t, "release", actions.calls[1].kind)
	assert.Equal(t, ResourceMemory, actions.calls[1].resource)

	reader.usage[ResourceMemory] = 40
	m.Collect()
	assert.Len(t, actions.calls, 2, "release fires once per episode")
}

func TestMonitor_PublishesTransitionEvents(t *testing.T) {
	reader := &fakeReader{usage: map[string]float64{ResourceMemory: 95}}
	m, bus := newTestMonitor(reader, map[string]Limit{
		ResourceMemory: {Warning: 70, Critical: 90, Action: ActionAlert},
	}, &fakeActions{})

	ch, unsub := bus.Subscribe()
	defer unsub()

	m.Collect()

	select {
	case evt := <-ch:
		assert.Equal(t, domain.EventResourceThreshold, evt.Type)
		sample, ok := evt.Data.(Sample)
		require.True(t, ok)
		assert.Equal(t, ResourceMemory, sample.Resource)
		assert.Equal(t, LevelCritical, sample.Level)
	default:
		t.Fatal("expected a resource threshold event")
	}
}

func TestMonitor_UnknownResourceIgnored(t *testing.T) {
	reader := &fakeReader{usage: map[string]float64{}}
	actions := &fakeActions{}
	m, _ := newTestMonitor(reader, map[string]Limit{
		ResourceCPU: {Warning: 50, Critical: 80, Action: ActionAlert},
	}, actions)

	m.Collect()

	assert.Empty(t, m.Samples())
	assert.Empty(t, actions.calls)
}

func TestRuntimeReader_MemoryAgainstBudget(t *testing.T) {
	usage := RuntimeReader{MemoryBudgetMB: 4096}.Usage()

	require.Contains(t, usage, ResourceMemory)
	assert.Greater(t, usage[ResourceMemory], 0.0)
	assert.Equal(t, 0.0, usage[ResourceCPU])
}
