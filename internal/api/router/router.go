package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/offsync/opqueue/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Liveness endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "queue-service",
		})
	})

	// Prometheus scrape endpoint
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		deps.Manager.Registry(),
		promhttp.HandlerOpts{},
	)))

	// Live event stream
	r.GET("/ws", gin.WrapF(deps.Hub.Serve))

	opHandler := handler.NewOperationHandler(deps)
	sysHandler := handler.NewSystemHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		operations := v1.Group("/operations")
		{
			operations.POST("", opHandler.Enqueue)
			operations.POST("/batch", opHandler.EnqueueBatch)
			operations.GET("", opHandler.List)
			operations.GET("/:id", opHandler.Get)
			operations.DELETE("/:id", opHandler.Delete)
			operations.POST("/:id/cancel", opHandler.Cancel)
			operations.POST("/:id/retry", opHandler.Retry)
		}

		queue := v1.Group("/queue")
		{
			queue.GET("/status", sysHandler.Status)
			queue.POST("/pause", sysHandler.Pause)
			queue.POST("/resume", sysHandler.Resume)
			queue.POST("/clear", sysHandler.Clear)
			queue.PUT("/connectivity", sysHandler.Connectivity)
		}

		v1.GET("/health", sysHandler.Health)

		alerts := v1.Group("/alerts")
		{
			alerts.GET("", sysHandler.Alerts)
			alerts.POST("/:id/resolve", sysHandler.ResolveAlert)
		}

		scaling := v1.Group("/scaling")
		{
			scaling.GET("/events", sysHandler.ScalingEvents)
			scaling.POST("/workers", sysHandler.Scale)
		}
	}

	return r
}
