package handler

import (
	"log/slog"

	"github.com/offsync/opqueue/internal/events"
	"github.com/offsync/opqueue/internal/manager"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger  *slog.Logger
	Manager *manager.Manager
	Hub     *events.Hub
}

// OperationHandler handles operation-related HTTP requests
type OperationHandler struct {
	logger  *slog.Logger
	manager *manager.Manager
}

// NewOperationHandler creates a new OperationHandler instance
func NewOperationHandler(deps *Dependencies) *OperationHandler {
	return &OperationHandler{
		logger:  deps.Logger,
		manager: deps.Manager,
	}
}

// SystemHandler handles queue-wide control and observability requests
type SystemHandler struct {
	logger  *slog.Logger
	manager *manager.Manager
}

// NewSystemHandler creates a new SystemHandler instance
func NewSystemHandler(deps *Dependencies) *SystemHandler {
	return &SystemHandler{
		logger:  deps.Logger,
		manager: deps.Manager,
	}
}
