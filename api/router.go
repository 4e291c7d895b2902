package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// NewRouter wires the control API routes.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(h.logger))

	router.GET("/tasks", h.ListTasks)
	router.POST("/tasks", h.CreateTask)
	router.GET("/tasks/:id", h.GetTask)
	router.POST("/tasks/:id/cancel", h.CancelTask)
	router.DELETE("/tasks/:id", h.DismissTask)

	router.GET("/workers", h.GetWorkers)
	router.PUT("/workers", h.SetWorkers)

	router.GET("/device/status", h.DeviceStatus)
	router.GET("/device/list", h.DeviceList)

	return router
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
