package http

import (
	"context"
	"net/http"
	"time"

	"deskbridge/internal/infrastructure/monitoring"
	"deskbridge/pkg/utils"

	"github.com/gin-gonic/gin"
)

type HealthReporter interface {
	CheckAll(ctx context.Context) monitoring.HealthStatus
}

type HealthHandler struct {
	checks       HealthReporter
	startTime    time.Time
	readyTimeout time.Duration
}

func NewHealthHandler(checks HealthReporter, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		checks:       checks,
		startTime:    startTime,
		readyTimeout: 2 * time.Second,
	}
}

func (h *HealthHandler) SetupRoutes(router gin.IRouter) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
}

// Health is the liveness probe; it never touches dependencies.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"uptime":    utils.FormatDuration(time.Since(h.startTime)),
	})
}

func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.readyTimeout)
	defer cancel()

	status := h.checks.CheckAll(ctx)
	if status.Status != "healthy" {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":       "not_ready",
			"timestamp":    status.Timestamp,
			"dependencies": status.Checks,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       "ready",
		"timestamp":    status.Timestamp,
		"dependencies": status.Checks,
	})
}
