package domain

import "time"

// EventType identifies an observable queue event.
type EventType string

const (
	EventEnqueued          EventType = "enqueued"
	EventCompleted         EventType = "completed"
	EventFailed            EventType = "failed"
	EventRetried           EventType = "retried"
	EventCancelled         EventType = "cancelled"
	EventScaled            EventType = "scaled"
	EventAlertCreated      EventType = "alert_created"
	EventHealthChanged     EventType = "health_status_changed"
	EventMetricsCollected  EventType = "metrics_collected"
	EventResourceThreshold EventType = "resource_threshold"
)

// Event is one observable occurrence pushed to subscribers. Data holds
// the relevant entity snapshot (an *Item, Alert, ScalingEvent, ...).
type Event struct {
	Type EventType   `json:"type"`
	Time time.Time   `json:"time"`
	Data interface{} `json:"data,omitempty"`
}

// Severity grades an alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert is one raised alert. Alerts are resolved explicitly, never
// automatically when the triggering condition clears.
type Alert struct {
	ID         string     `json:"id"`
	RuleID     string     `json:"rule_id"`
	Severity   Severity   `json:"severity"`
	Title      string     `json:"title"`
	Message    string     `json:"message"`
	Timestamp  time.Time  `json:"timestamp"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// ScalingDirection is the direction of a worker pool scale attempt.
type ScalingDirection string

const (
	ScaleUp   ScalingDirection = "scale_up"
	ScaleDown ScalingDirection = "scale_down"
)

// ScalingEvent is the immutable record of one scale attempt, successful
// or not.
type ScalingEvent struct {
	Type        ScalingDirection `json:"type"`
	FromWorkers int              `json:"from_workers"`
	ToWorkers   int              `json:"to_workers"`
	Reason      string           `json:"reason"`
	Success     bool             `json:"success"`
	Timestamp   time.Time        `json:"timestamp"`
}

// CheckStatus is the outcome of a single health check.
type CheckStatus string

const (
	CheckPass CheckStatus = "pass"
	CheckWarn CheckStatus = "warn"
	CheckFail CheckStatus = "fail"
)

// HealthCheckResult is one check outcome from a health cycle. Results
// are superseded, not merged, each cycle.
type HealthCheckResult struct {
	ID        string      `json:"id"`
	Status    CheckStatus `json:"status"`
	Value     float64     `json:"value"`
	Threshold float64     `json:"threshold"`
	Timestamp time.Time   `json:"timestamp"`
}
