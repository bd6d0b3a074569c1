package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/offsync/opqueue/internal/api/dto"
	"github.com/offsync/opqueue/internal/domain"
	"github.com/offsync/opqueue/internal/queue"
)

// Status handles GET /api/v1/queue/status
func (h *SystemHandler) Status(c *gin.Context) {
	status := h.manager.Status()
	enabled, total := h.manager.Workers()

	c.JSON(http.StatusOK, gin.H{
		"state":           h.manager.State(),
		"paused":          h.manager.Paused(),
		"size":            status.Size,
		"metrics":         status.Metrics,
		"workers_enabled": enabled,
		"workers_total":   total,
	})
}

// Pause handles POST /api/v1/queue/pause
func (h *SystemHandler) Pause(c *gin.Context) {
	h.manager.Pause()
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

// Resume handles POST /api/v1/queue/resume
func (h *SystemHandler) Resume(c *gin.Context) {
	h.manager.Resume()
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

// Clear handles POST /api/v1/queue/clear
func (h *SystemHandler) Clear(c *gin.Context) {
	var req dto.ClearRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	opts := queue.ClearOptions{}
	for _, s := range req.Statuses {
		opts.Statuses = append(opts.Statuses, domain.Status(s))
	}
	if req.OlderThan != "" {
		d, err := time.ParseDuration(req.OlderThan)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "older_than must be a duration like 24h",
			})
			return
		}
		opts.OlderThan = d
	}

	removed := h.manager.Clear(opts)
	c.JSON(http.StatusOK, dto.ClearResponse{Removed: removed})
}

// Connectivity handles PUT /api/v1/queue/connectivity
// Feeds external online/offline knowledge into the dispatch gate.
func (h *SystemHandler) Connectivity(c *gin.Context) {
	var req dto.ConnectivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "online is required",
		})
		return
	}

	h.manager.SetOnline(*req.Online)
	c.JSON(http.StatusOK, gin.H{"online": *req.Online})
}

// Health handles GET /api/v1/health with the full check report.
func (h *SystemHandler) Health(c *gin.Context) {
	report := h.manager.Health()

	code := http.StatusOK
	if report.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}

// Alerts handles GET /api/v1/alerts
func (h *SystemHandler) Alerts(c *gin.Context) {
	activeOnly := c.Query("active") == "true"
	alerts := h.manager.Alerts(activeOnly)

	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"total":  len(alerts),
	})
}

// ResolveAlert handles POST /api/v1/alerts/:id/resolve
func (h *SystemHandler) ResolveAlert(c *gin.Context) {
	id := c.Param("id")

	if err := h.manager.ResolveAlert(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Alert not found",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":       id,
		"resolved": true,
	})
}

// ScalingEvents handles GET /api/v1/scaling/events
func (h *SystemHandler) ScalingEvents(c *gin.Context) {
	history := h.manager.ScalingEvents()

	c.JSON(http.StatusOK, gin.H{
		"events": history,
		"total":  len(history),
	})
}

// Scale handles POST /api/v1/scaling/workers
func (h *SystemHandler) Scale(c *gin.Context) {
	var req dto.ScaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "workers is required",
		})
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "manual scale request"
	}

	if err := h.manager.ScaleTo(req.Workers, reason); err != nil {
		h.logger.Warn("Manual scale rejected",
			slog.Int("workers", req.Workers),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": err.Error(),
		})
		return
	}

	enabled, total := h.manager.Workers()
	c.JSON(http.StatusOK, gin.H{
		"workers_enabled": enabled,
		"workers_total":   total,
	})
}
