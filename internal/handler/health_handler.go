// internal/handler/health_handler.go
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ppp-gateway/internal/config"
	"ppp-gateway/internal/service"
	"ppp-gateway/internal/supervisor"
	"ppp-gateway/internal/utils"
)

// Pinger checks a backing store
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler handles health check requests
type HealthHandler struct {
	db         Pinger
	controller ConnectionController
	streams    StreamStats
	config     *config.Config
	startTime  time.Time
	logger     *zap.Logger
}

// NewHealthHandler creates a new health handler. db may be nil when history
// storage is disabled, streams when the event stream is not served.
func NewHealthHandler(db Pinger, controller ConnectionController, streams StreamStats, config *config.Config, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:         db,
		controller: controller,
		streams:    streams,
		config:     config,
		startTime:  time.Now(),
		logger:     logger.With(zap.String("component", "health-handler")),
	}
}

// RegisterRoutes registers health check routes
func (h *HealthHandler) RegisterRoutes(router gin.IRoutes) {
	router.GET("/health", h.HealthCheck)
	router.GET("/health/db", h.DatabaseHealthCheck)
	router.GET("/ready", h.ReadinessCheck)
	router.GET("/live", h.LivenessCheck)
}

// HealthCheck reports service health including the link state
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	health := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Checks:    make(map[string]CheckResult),
	}

	if h.db != nil {
		if err := h.db.HealthCheck(c.Request.Context()); err != nil {
			health.Status = "unhealthy"
			health.Checks["database"] = CheckResult{Status: "unhealthy", Message: err.Error()}
		} else {
			health.Checks["database"] = CheckResult{Status: "healthy", Message: "Database connection OK"}
		}
	}

	// A down link is reported but does not make the service unhealthy
	status := h.controller.Status()
	link := CheckResult{Status: "idle", Data: map[string]interface{}{"running": status.Running}}
	if status.Supervisor != nil {
		link.Status = status.Supervisor.State.String()
		link.Data["device"] = status.Supervisor.Device
		link.Data["interface"] = status.Supervisor.Interface
		switch {
		case status.Supervisor.State == supervisor.StateConnected:
		case status.Supervisor.LastChatError != "":
			link.Message = status.Supervisor.LastChatError
		case status.Supervisor.LastError != "":
			link.Message = status.Supervisor.LastError
		}
	}
	health.Checks["link"] = link

	if h.streams != nil {
		health.Checks["event_stream"] = CheckResult{
			Status: "healthy",
			Data:   map[string]interface{}{"clients": h.streams.GetConnectionStats().TotalConnections},
		}
	}

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, health)
}

// DatabaseHealthCheck checks database connectivity
func (h *HealthHandler) DatabaseHealthCheck(c *gin.Context) {
	if h.db == nil {
		utils.FailureResponse(c, service.ErrStorageDisabled, "")
		return
	}

	startTime := time.Now()
	if err := h.db.HealthCheck(c.Request.Context()); err != nil {
		h.logger.Error("Database health check failed", zap.Error(err))
		utils.ErrorResponse(c, http.StatusServiceUnavailable, "Database unhealthy", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Database is healthy", gin.H{
		"status":           "healthy",
		"response_time_ms": time.Since(startTime).Milliseconds(),
	})
}

// ReadinessCheck reports whether the service can take requests
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	if h.db != nil {
		if err := h.db.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"reason": "database not available",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

// LivenessCheck reports that the process responds
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult represents individual check result
type CheckResult struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
