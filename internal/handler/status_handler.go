// internal/handler/status_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"serial2rudics/internal/bridge"
	"serial2rudics/internal/config"
	"serial2rudics/internal/utils"
)

// Snapshotter provides the bridge counter snapshot without exposing the loop
type Snapshotter interface {
	Snapshot() bridge.Snapshot
}

// StatusHandler serves the operator health and status endpoints
type StatusHandler struct {
	config    *config.Config
	bridge    Snapshotter
	startTime time.Time
	logger    *utils.ServiceLogger
}

// HealthResponse is the /health payload
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(cfg *config.Config, b Snapshotter, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{
		config:    cfg,
		bridge:    b,
		startTime: time.Now(),
		logger:    utils.NewServiceLogger(logger, "status-handler"),
	}
}

// RegisterRoutes registers status routes
func (h *StatusHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/health", h.HealthCheck)
	router.GET("/status", h.Status)
}

// HealthCheck reports liveness
func (h *StatusHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Uptime:    time.Since(h.startTime).String(),
	})
}

// Status reports the bridge counter snapshot and session state
func (h *StatusHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.bridge.Snapshot())
}
