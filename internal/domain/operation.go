package domain

import (
	"encoding/json"
	"time"
)

// Operation is an opaque unit of deferred work submitted by a caller.
// The queue never interprets Payload; it is shipped as-is to the sync
// collaborator.
type Operation struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Payload  json.RawMessage   `json:"payload,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Priority orders admitted items. Lower rank dispatches first.
type Priority string

const (
	PriorityCritical   Priority = "critical"
	PriorityHigh       Priority = "high"
	PriorityMedium     Priority = "medium"
	PriorityLow        Priority = "low"
	PriorityBackground Priority = "background"
)

// Rank returns the dispatch order of the priority; lower is more urgent.
// Unknown priorities sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	case PriorityBackground:
		return 4
	default:
		return 5
	}
}

// Valid reports whether p is one of the known priority levels.
func (p Priority) Valid() bool {
	return p.Rank() < 5
}

// Status is the lifecycle state of a queue item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Item is one admitted unit of work tracked by the operation queue.
type Item struct {
	ID           string            `json:"id"`
	Operation    Operation         `json:"operation"`
	Priority     Priority          `json:"priority"`
	Status       Status            `json:"status"`
	Attempts     int               `json:"attempts"`
	Dependencies []string          `json:"dependencies,omitempty"`
	ScheduledAt  time.Time         `json:"scheduled_at"`
	CreatedAt    time.Time         `json:"created_at"`
	LastError    string            `json:"last_error,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`

	// Seq is the admission sequence number, the stable tie-break for
	// items with equal priority and scheduled time. It survives
	// snapshot restore.
	Seq uint64 `json:"seq"`
}

// Clone returns a copy of the item safe to hand to subscribers.
func (i *Item) Clone() *Item {
	c := *i
	if i.Dependencies != nil {
		c.Dependencies = append([]string(nil), i.Dependencies...)
	}
	if i.Metadata != nil {
		c.Metadata = make(map[string]string, len(i.Metadata))
		for k, v := range i.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Active reports whether the item occupies a queue slot (pending or
// processing). At most one active item may exist per id.
func (i *Item) Active() bool {
	return i.Status == StatusPending || i.Status == StatusProcessing
}

// Terminal reports whether the item can never be dispatched again
// without an explicit Retry call.
func (i *Item) Terminal() bool {
	return i.Status == StatusCompleted || i.Status == StatusFailed || i.Status == StatusCancelled
}
