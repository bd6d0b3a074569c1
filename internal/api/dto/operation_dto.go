package dto

import "encoding/json"

type EnqueueRequest struct {
	ID           string            `json:"id"`
	Type         string            `json:"type" binding:"required"`
	Payload      json.RawMessage   `json:"payload"`
	Priority     string            `json:"priority"`
	Dependencies []string          `json:"dependencies"`
	Metadata     map[string]string `json:"metadata"`

	// ReturnExisting makes a duplicate enqueue return the active id
	// instead of failing with 409.
	ReturnExisting bool `json:"return_existing"`
}

type EnqueueResponse struct {
	ID string `json:"id"`
}

type EnqueueBatchRequest struct {
	Operations []EnqueueRequest `json:"operations" binding:"required,min=1"`
	Priority   string           `json:"priority"`
}

type EnqueueBatchResponse struct {
	IDs []string `json:"ids"`
}

type ListOperationsRequest struct {
	Status string `form:"status"`
	Type   string `form:"type"`
}

type OperationDTO struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Payload      json.RawMessage   `json:"payload,omitempty"`
	Priority     string            `json:"priority"`
	Status       string            `json:"status"`
	Attempts     int               `json:"attempts"`
	Dependencies []string          `json:"dependencies,omitempty"`
	ScheduledAt  string            `json:"scheduled_at"`
	CreatedAt    string            `json:"created_at"`
	LastError    string            `json:"last_error,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type ListOperationsResponse struct {
	Operations []OperationDTO `json:"operations"`
	Total      int            `json:"total"`
}

type ClearRequest struct {
	Statuses  []string `json:"statuses"`
	OlderThan string   `json:"older_than"` // Go duration string, e.g. "24h"
}

type ClearResponse struct {
	Removed int `json:"removed"`
}

type ConnectivityRequest struct {
	Online *bool `json:"online" binding:"required"`
}

type ScaleRequest struct {
	Workers int    `json:"workers" binding:"required"`
	Reason  string `json:"reason"`
}
