package health

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offsync/opqueue/internal/domain"
	"github.com/offsync/opqueue/internal/events"
)

type fakeActions struct {
	scaled []string
	paused []string
}

func (f *fakeActions) ScaleForHealth(checkID string) { f.scaled = append(f.scaled, checkID) }
func (f *fakeActions) PauseProcessing(reason string) { f.paused = append(f.paused, reason) }

func staticCheck(id string, value, threshold float64, action string) Check {
	return Check{ID: id, Threshold: threshold, Action: action, Probe: func() float64 { return value }}
}

func newTestRunner(checks []Check, actions Actions) (*Runner, *events.Bus) {
	logger := slog.New(slog.DiscardHandler)
	bus := events.NewBus(16, logger)
	return New(checks, time.Second, actions, bus, logger), bus
}

func TestRunner_Grading(t *testing.T) {
	tests := []struct {
		name      string
		value     float64
		threshold float64
		want      domain.CheckStatus
	}{
		{name: "well under threshold passes", value: 10, threshold: 100, want: domain.CheckPass},
		{name: "at warn boundary passes", value: 80, threshold: 100, want: domain.CheckPass},
		{name: "above warn boundary warns", value: 81, threshold: 100, want: domain.CheckWarn},
		{name: "at threshold warns", value: 100, threshold: 100, want: domain.CheckWarn},
		{name: "above threshold fails", value: 101, threshold: 100, want: domain.CheckFail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, grade(tt.value, tt.threshold))
		})
	}
}

func TestRunner_AggregateStatusAndScore(t *testing.T) {
	tests := []struct {
		name       string
		checks     []Check
		wantStatus string
		wantScore  float64
	}{
		{
			name: "all passing is healthy",
			checks: []Check{
				staticCheck(CheckMemory, 10, 100, ActionNone),
				staticCheck(CheckQueue, 0.2, 1, ActionNone),
			},
			wantStatus: StatusHealthy,
			wantScore:  1,
		},
		{
			name: "warning degrades and does not count as passing",
			checks: []Check{
				staticCheck(CheckMemory, 90, 100, ActionNone),
				staticCheck(CheckQueue, 0.2, 1, ActionNone),
			},
			wantStatus: StatusDegraded,
			wantScore:  0.5,
		},
		{
			name: "one failure is unhealthy",
			checks: []Check{
				staticCheck(CheckMemory, 120, 100, ActionNone),
				staticCheck(CheckQueue, 0.2, 1, ActionNone),
				staticCheck(CheckSync, 10, 100, ActionNone),
			},
			wantStatus: StatusUnhealthy,
			wantScore:  2.0 / 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRunner(tt.checks, &fakeActions{})
			report := r.RunCycle()
			assert.Equal(t, tt.wantStatus, report.Status)
			assert.InDelta(t, tt.wantScore, report.Score, 0.001)
			assert.Len(t, report.Checks, len(tt.checks))
		})
	}
}

func TestRunner_ActionsFireAfterCycle(t *testing.T) {
	actions := &fakeActions{}
	r, _ := newTestRunner([]Check{
		staticCheck(CheckQueue, 1.5, 1, ActionScale),
		staticCheck(CheckMemory, 150, 100, ActionPause),
		staticCheck(CheckSync, 200, 100, ActionNone),
	}, actions)

	r.RunCycle()

	require.Equal(t, []string{CheckQueue}, actions.scaled)
	require.Len(t, actions.paused, 1)
	assert.Contains(t, actions.paused[0], CheckMemory)
}

func TestRunner_WarningRaisesNoAction(t *testing.T) {
	actions := &fakeActions{}
	r, _ := newTestRunner([]Check{
		staticCheck(CheckQueue, 0.9, 1, ActionScale),
	}, actions)

	report := r.RunCycle()

	assert.Equal(t, StatusDegraded, report.Status)
	assert.Empty(t, actions.scaled)
	assert.Empty(t, actions.paused)
}

func TestRunner_StatusChangePublishesEvent(t *testing.T) {
	value := 10.0
	probe := func() float64 { return value }
	r, bus := newTestRunner([]Check{
		{ID: CheckMemory, Threshold: 100, Action: ActionNone, Probe: probe},
	}, &fakeActions{})

	ch, unsub := bus.Subscribe()
	defer unsub()

	r.RunCycle()
	select {
	case evt := <-ch:
		t.Fatalf("no event expected while healthy, got %v", evt.Type)
	default:
	}

	value = 150
	r.RunCycle()
	select {
	case evt := <-ch:
		assert.Equal(t, domain.EventHealthChanged, evt.Type)
		report, ok := evt.Data.(Report)
		require.True(t, ok)
		assert.Equal(t, StatusUnhealthy, report.Status)
	default:
		t.Fatal("expected a health status change event")
	}

	// Unchanged status stays quiet.
	r.RunCycle()
	select {
	case evt := <-ch:
		t.Fatalf("no event expected without a status change, got %v", evt.Type)
	default:
	}
}

func TestRunner_Recommendations(t *testing.T) {
	r, _ := newTestRunner([]Check{
		staticCheck(CheckQueue, 1.5, 1, ActionNone),
		staticCheck(CheckMemory, 50, 100, ActionNone),
	}, &fakeActions{})

	report := r.RunCycle()

	require.Len(t, report.Recommendations, 1)
	assert.Contains(t, report.Recommendations[0], "queue utilization")
}

func TestRunner_CycleReplacesPreviousReport(t *testing.T) {
	value := 150.0
	r, _ := newTestRunner([]Check{
		{ID: CheckSync, Threshold: 100, Action: ActionNone, Probe: func() float64 { return value }},
	}, &fakeActions{})

	r.RunCycle()
	assert.Equal(t, StatusUnhealthy, r.Last().Status)

	value = 10
	r.RunCycle()
	assert.Equal(t, StatusHealthy, r.Last().Status)
	require.Len(t, r.Last().Checks, 1)
	assert.Equal(t, domain.CheckPass, r.Last().Checks[0].Status)
}
