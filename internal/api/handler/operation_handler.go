package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/offsync/opqueue/internal/api/dto"
	"github.com/offsync/opqueue/internal/domain"
	"github.com/offsync/opqueue/internal/queue"
)

// Enqueue handles POST /api/v1/operations
func (h *OperationHandler) Enqueue(c *gin.Context) {
	var req dto.EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	id, err := h.manager.Enqueue(domain.Operation{
		ID:       req.ID,
		Type:     req.Type,
		Payload:  req.Payload,
		Metadata: req.Metadata,
	}, queue.EnqueueOptions{
		Priority:       domain.Priority(req.Priority),
		Dependencies:   req.Dependencies,
		ReturnExisting: req.ReturnExisting,
	})
	if err != nil {
		h.writeEnqueueError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.EnqueueResponse{ID: id})
}

// EnqueueBatch handles POST /api/v1/operations/batch
func (h *OperationHandler) EnqueueBatch(c *gin.Context) {
	var req dto.EnqueueBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	ops := make([]domain.Operation, len(req.Operations))
	for i, op := range req.Operations {
		ops[i] = domain.Operation{
			ID:       op.ID,
			Type:     op.Type,
			Payload:  op.Payload,
			Metadata: op.Metadata,
		}
	}

	ids, err := h.manager.EnqueueBatch(ops, queue.EnqueueOptions{
		Priority: domain.Priority(req.Priority),
	})
	if err != nil && len(ids) == 0 {
		h.writeEnqueueError(c, err)
		return
	}
	if err != nil {
		// Partial admission: report what made it in.
		c.JSON(http.StatusMultiStatus, gin.H{
			"ids":   ids,
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, dto.EnqueueBatchResponse{IDs: ids})
}

// Get handles GET /api/v1/operations/:id
func (h *OperationHandler) Get(c *gin.Context) {
	id := c.Param("id")

	item, ok := h.manager.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Operation not found",
		})
		return
	}

	c.JSON(http.StatusOK, itemToDTO(item))
}

// List handles GET /api/v1/operations
func (h *OperationHandler) List(c *gin.Context) {
	var req dto.ListOperationsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	items := h.manager.Items()
	out := make([]dto.OperationDTO, 0, len(items))
	for _, item := range items {
		if req.Status != "" && string(item.Status) != req.Status {
			continue
		}
		if req.Type != "" && item.Operation.Type != req.Type {
			continue
		}
		out = append(out, itemToDTO(item))
	}

	c.JSON(http.StatusOK, dto.ListOperationsResponse{
		Operations: out,
		Total:      len(out),
	})
}

// Delete handles DELETE /api/v1/operations/:id
// Removes a pending operation from the queue.
func (h *OperationHandler) Delete(c *gin.Context) {
	id := c.Param("id")

	if !h.manager.Dequeue(id) {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Operation is not pending",
		})
		return
	}

	c.Status(http.StatusNoContent)
}

// Cancel handles POST /api/v1/operations/:id/cancel
func (h *OperationHandler) Cancel(c *gin.Context) {
	id := c.Param("id")

	if !h.manager.Cancel(id) {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Operation cannot be cancelled",
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"id":     id,
		"status": "cancelling",
	})
}

// Retry handles POST /api/v1/operations/:id/retry
// Forces a failed operation back into the queue immediately.
func (h *OperationHandler) Retry(c *gin.Context) {
	id := c.Param("id")

	if !h.manager.RetryOperation(id) {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Operation is not in a failed state",
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"id":     id,
		"status": "pending",
	})
}

func (h *OperationHandler) writeEnqueueError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrCapacityExceeded):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": "Queue is full",
		})
	case errors.Is(err, domain.ErrDuplicateActive):
		c.JSON(http.StatusConflict, gin.H{
			"error": "An active operation with this id already exists",
		})
	case errors.Is(err, domain.ErrNotRunning):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Queue manager is not running",
		})
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
	}
}

func itemToDTO(item *domain.Item) dto.OperationDTO {
	return dto.OperationDTO{
		ID:           item.ID,
		Type:         item.Operation.Type,
		Payload:      item.Operation.Payload,
		Priority:     string(item.Priority),
		Status:       string(item.Status),
		Attempts:     item.Attempts,
		Dependencies: item.Dependencies,
		ScheduledAt:  item.ScheduledAt.Format(time.RFC3339),
		CreatedAt:    item.CreatedAt.Format(time.RFC3339),
		LastError:    item.LastError,
		Metadata:     item.Metadata,
	}
}
