// Package health runs periodic health checks, aggregates them into an
// overall status and score, and triggers the configured remedial
// actions after each cycle.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/offsync/opqueue/internal/domain"
	"github.com/offsync/opqueue/internal/events"
)

// Well-known check ids.
const (
	CheckMemory  = "memory"
	CheckStorage = "storage"
	CheckNetwork = "network"
	CheckQueue   = "queue"
	CheckSync    = "sync"
)

// Remedial actions a failing check can request.
const (
	ActionNone  = "none"
	ActionScale = "scale"
	ActionPause = "pause"
)

// Overall system status.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// warnFraction of the threshold at which a check degrades to warn.
const warnFraction = 0.8

// Check is one registered check. Probe returns the current value on the
// same scale as Threshold; values above the threshold fail.
type Check struct {
	ID        string
	Threshold float64
	Action    string
	Probe     func() float64
}

// Actions is the surface the runner drives after an unhealthy cycle.
type Actions interface {
	ScaleForHealth(checkID string)
	PauseProcessing(reason string)
}

// Report is the aggregate outcome of one cycle.
type Report struct {
	Status          string                     `json:"status"`
	Score           float64                    `json:"score"`
	Checks          []domain.HealthCheckResult `json:"checks"`
	Recommendations []string                   `json:"recommendations"`
	Timestamp       time.Time                  `json:"timestamp"`
}

// Runner executes registered checks on an interval.
type Runner struct {
	checks   []Check
	interval time.Duration
	actions  Actions
	bus      *events.Bus
	logger   *slog.Logger

	mu   sync.Mutex
	last Report
}

// New creates a runner over the given checks.
func New(checks []Check, interval time.Duration, actions Actions, bus *events.Bus, logger *slog.Logger) *Runner {
	return &Runner{
		checks:   checks,
		interval: interval,
		actions:  actions,
		bus:      bus,
		logger:   logger,
		last:     Report{Status: StatusHealthy, Score: 1},
	}
}

// Run executes check cycles until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	if len(r.checks) == 0 {
		r.logger.Info("Health runner disabled, no checks configured")
		<-ctx.Done()
		return nil
	}

	r.logger.Info("Health runner started",
		slog.Duration("interval", r.interval),
		slog.Int("checks", len(r.checks)),
	)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Health runner stopped")
			return nil
		case <-ticker.C:
			r.RunCycle()
		}
	}
}

// RunCycle executes every check once, stores the aggregate report, and
// fires remedial actions for failing checks. Each cycle replaces the
// previous report wholesale.
func (r *Runner) RunCycle() Report {
	now := time.Now()
	results := make([]domain.HealthCheckResult, 0, len(r.checks))
	var failed []Check

	for _, check := range r.checks {
		value := check.Probe()
		status := grade(value, check.Threshold)
		results = append(results, domain.HealthCheckResult{
			ID:        check.ID,
			Status:    status,
			Value:     value,
			Threshold: check.Threshold,
			Timestamp: now,
		})
		if status == domain.CheckFail {
			failed = append(failed, check)
		}
	}

	report := Report{
		Status:          aggregate(results),
		Score:           score(results),
		Checks:          results,
		Recommendations: recommend(results),
		Timestamp:       now,
	}

	r.mu.Lock()
	changed := report.Status != r.last.Status
	r.last = report
	r.mu.Unlock()

	if changed {
		r.logger.Info("Health status changed",
			slog.String("status", report.Status),
			slog.Float64("score", report.Score),
		)
		r.bus.Publish(domain.EventHealthChanged, report)
	}

	// Actions run after the full cycle so the report they react to is
	// complete.
	for _, check := range failed {
		switch check.Action {
		case ActionScale:
			r.actions.ScaleForHealth(check.ID)
		case ActionPause:
			r.actions.PauseProcessing("health check " + check.ID + " failing")
		}
	}

	return report
}

// Last returns the most recent report.
func (r *Runner) Last() Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func grade(value, threshold float64) domain.CheckStatus {
	switch {
	case value > threshold:
		return domain.CheckFail
	case value > warnFraction*threshold:
		return domain.CheckWarn
	default:
		return domain.CheckPass
	}
}

func aggregate(results []domain.HealthCheckResult) string {
	status := StatusHealthy
	for _, res := range results {
		switch res.Status {
		case domain.CheckFail:
			return StatusUnhealthy
		case domain.CheckWarn:
			status = StatusDegraded
		}
	}
	return status
}

// score is the fraction of passing checks. Warns degrade the status
// but count as not passing here.
func score(results []domain.HealthCheckResult) float64 {
	if len(results) == 0 {
		return 1
	}
	passing := 0
	for _, res := range results {
		if res.Status == domain.CheckPass {
			passing++
		}
	}
	return float64(passing) / float64(len(results))
}

func recommend(results []domain.HealthCheckResult) []string {
	var out []string
	for _, res := range results {
		if res.Status == domain.CheckPass {
			continue
		}
		switch res.ID {
		case CheckMemory:
			out = append(out, "memory pressure high, consider clearing completed operations")
		case CheckStorage:
			out = append(out, "persistent store usage high, prune old snapshots")
		case CheckNetwork:
			out = append(out, "network error rate elevated, check connectivity to the sync backend")
		case CheckQueue:
			out = append(out, "queue utilization high, scale up workers or raise the queue limit")
		case CheckSync:
			out = append(out, "sync failures elevated, inspect the message broker")
		default:
			out = append(out, res.ID+" check outside its threshold")
		}
	}
	return out
}
