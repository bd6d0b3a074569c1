// Package alert evaluates declarative rules against queue metrics and
// delivers raised alerts to notification channels. Alerts stay open
// until resolved explicitly.
package alert

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/offsync/opqueue/internal/domain"
	"github.com/offsync/opqueue/internal/events"
	"github.com/offsync/opqueue/internal/rules"
)

// PersistKey is where the alert log lives in the snapshot store.
const PersistKey = "alerts:log"

// Rule is one declarative alert rule. The condition must hold
// continuously for Duration before the rule fires, and the rule stays
// silent for Cooldown after firing.
type Rule struct {
	ID       string
	Metric   string
	Op       rules.Operator
	Value    float64
	Duration time.Duration
	Cooldown time.Duration
	Severity domain.Severity
	Title    string
	Message  string
}

// MetricsFunc supplies the current metric values by name.
type MetricsFunc func() map[string]float64

// Notifier delivers one alert to an external channel.
type Notifier interface {
	Name() string
	Notify(alert domain.Alert) error
}

// Store persists the alert log across restarts.
type Store interface {
	Save(key string, data []byte) error
	Load(key string) ([]byte, bool, error)
}

// Engine runs rule evaluation cycles.
type Engine struct {
	rules    []Rule
	metrics  MetricsFunc
	interval time.Duration
	channels []Notifier
	store    Store
	bus      *events.Bus
	logger   *slog.Logger
	clock    func() time.Time

	mu             sync.Mutex
	alerts         []domain.Alert
	conditionSince map[string]time.Time
	lastFired      map[string]time.Time
}

// New creates an engine. A nil store disables alert persistence.
func New(ruleSet []Rule, metrics MetricsFunc, interval time.Duration, channels []Notifier, store Store, bus *events.Bus, logger *slog.Logger) *Engine {
	e := &Engine{
		rules:          ruleSet,
		metrics:        metrics,
		interval:       interval,
		channels:       channels,
		store:          store,
		bus:            bus,
		logger:         logger,
		clock:          time.Now,
		conditionSince: make(map[string]time.Time),
		lastFired:      make(map[string]time.Time),
	}
	e.restore()
	return e
}

// Run evaluates rules on the configured interval until the context is
// cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if len(e.rules) == 0 {
		e.logger.Info("Alert engine disabled, no rules configured")
		<-ctx.Done()
		return nil
	}

	e.logger.Info("Alert engine started",
		slog.Duration("interval", e.interval),
		slog.Int("rules", len(e.rules)),
	)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Alert engine stopped")
			return nil
		case <-ticker.C:
			e.Evaluate()
		}
	}
}

// Evaluate runs one rule evaluation pass against the current metrics.
func (e *Engine) Evaluate() {
	values := e.metrics()
	fields := make(map[string]interface{}, len(values))
	for k, v := range values {
		fields[k] = v
	}
	now := e.clock()

	e.mu.Lock()
	var toFire []Rule
	for _, rule := range e.rules {
		cond := rules.Condition{Field: rule.Metric, Op: rule.Op, Value: rule.Value}
		if !cond.Eval(fields) {
			// A single clean sample resets the duration clock.
			delete(e.conditionSince, rule.ID)
			continue
		}

		since, ok := e.conditionSince[rule.ID]
		if !ok {
			since = now
			e.conditionSince[rule.ID] = since
		}
		if now.Sub(since) < rule.Duration {
			continue
		}
		if fired, ok := e.lastFired[rule.ID]; ok && now.Sub(fired) < rule.Cooldown {
			continue
		}

		e.lastFired[rule.ID] = now
		toFire = append(toFire, rule)
	}
	e.mu.Unlock()

	for _, rule := range toFire {
		e.raise(domain.Alert{
			ID:        uuid.NewString(),
			RuleID:    rule.ID,
			Severity:  rule.Severity,
			Title:     rule.Title,
			Message:   rule.Message,
			Timestamp: now,
		})
	}
}

// RaiseResourceAlert raises an out-of-band alert for a resource that
// crossed its critical limit. Used by the resource monitor.
func (e *Engine) RaiseResourceAlert(resource string, value, threshold float64) {
	e.raise(domain.Alert{
		ID:        uuid.NewString(),
		RuleID:    "resource:" + resource,
		Severity:  domain.SeverityCritical,
		Title:     "Resource limit exceeded",
		Message:   resource + " usage is over its critical limit",
		Timestamp: e.clock(),
	})
	e.logger.Warn("Resource critical",
		slog.String("resource", resource),
		slog.Float64("value", value),
		slog.Float64("threshold", threshold),
	)
}

func (e *Engine) raise(alert domain.Alert) {
	e.mu.Lock()
	e.alerts = append(e.alerts, alert)
	e.persistLocked()
	e.mu.Unlock()

	e.logger.Warn("Alert raised",
		slog.String("id", alert.ID),
		slog.String("rule", alert.RuleID),
		slog.String("severity", string(alert.Severity)),
		slog.String("title", alert.Title),
	)
	e.bus.Publish(domain.EventAlertCreated, alert)

	for _, ch := range e.channels {
		if err := ch.Notify(alert); err != nil {
			e.logger.Error("Alert delivery failed",
				slog.String("channel", ch.Name()),
				slog.String("alert", alert.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Resolve marks the alert resolved. Alerts never resolve on their own
// when the triggering condition clears.
func (e *Engine) Resolve(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.alerts {
		if e.alerts[i].ID != id {
			continue
		}
		if !e.alerts[i].Resolved {
			now := e.clock()
			e.alerts[i].Resolved = true
			e.alerts[i].ResolvedAt = &now
			e.persistLocked()
		}
		return nil
	}
	return domain.ErrNotFound
}

// Alerts returns the alert log, newest first. With activeOnly set,
// resolved alerts are skipped.
func (e *Engine) Alerts(activeOnly bool) []domain.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]domain.Alert, 0, len(e.alerts))
	for i := len(e.alerts) - 1; i >= 0; i-- {
		if activeOnly && e.alerts[i].Resolved {
			continue
		}
		out = append(out, e.alerts[i])
	}
	return out
}

func (e *Engine) persistLocked() {
	if e.store == nil {
		return
	}
	data, err := json.Marshal(e.alerts)
	if err != nil {
		e.logger.Error("Failed to encode alert log", slog.String("error", err.Error()))
		return
	}
	if err := e.store.Save(PersistKey, data); err != nil {
		e.logger.Error("Failed to persist alert log", slog.String("error", err.Error()))
	}
}

func (e *Engine) restore() {
	if e.store == nil {
		return
	}
	data, ok, err := e.store.Load(PersistKey)
	if err != nil {
		e.logger.Error("Failed to load alert log", slog.String("error", err.Error()))
		return
	}
	if !ok {
		return
	}
	if err := json.Unmarshal(data, &e.alerts); err != nil {
		e.logger.Error("Failed to decode alert log", slog.String("error", err.Error()))
		return
	}
	e.logger.Info("Alert log restored", slog.Int("alerts", len(e.alerts)))
}
