// internal/handler/connection_handler.go
package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ppp-gateway/internal/service"
	"ppp-gateway/internal/utils"
)

// ConnectionHandler exposes supervisor control over HTTP
type ConnectionHandler struct {
	controller ConnectionController
	logger     *zap.Logger
}

// NewConnectionHandler creates a new connection handler
func NewConnectionHandler(controller ConnectionController, logger *zap.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		controller: controller,
		logger:     logger.With(zap.String("component", "connection-handler")),
	}
}

// RegisterRoutes registers connection routes
func (h *ConnectionHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/status", h.GetStatus)
	router.POST("/connection/start", h.StartConnection)
	router.POST("/connection/stop", h.StopConnection)
}

// StatusResponse adds readable traffic totals to the connection status
type StatusResponse struct {
	*service.ConnectionStatus
	Traffic *TrafficSummary `json:"traffic,omitempty"`
}

// TrafficSummary renders byte counters for humans
type TrafficSummary struct {
	Sent     string `json:"sent"`
	Received string `json:"received"`
}

// GetStatus returns the supervisor snapshot
func (h *ConnectionHandler) GetStatus(c *gin.Context) {
	status := h.controller.Status()
	response := &StatusResponse{ConnectionStatus: status}
	if status.Supervisor != nil {
		response.Traffic = &TrafficSummary{
			Sent:     humanize.Bytes(status.Supervisor.BytesToLink),
			Received: humanize.Bytes(status.Supervisor.BytesFromLink),
		}
	}
	utils.SuccessResponse(c, http.StatusOK, "Connection status", response)
}

// StartConnection launches the supervisor
func (h *ConnectionHandler) StartConnection(c *gin.Context) {
	var req service.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	snap, err := h.controller.Start(&req)
	if err != nil {
		if utils.FailureResponse(c, err, "Failed to start connection") == http.StatusInternalServerError {
			h.logger.Error("Failed to start connection", zap.Error(err))
		}
		return
	}
	utils.SuccessResponse(c, http.StatusAccepted, "Connection starting", snap)
}

// StopRequest carries an optional reason for stopping
type StopRequest struct {
	Reason string `json:"reason"`
}

// StopConnection asks the supervisor to hang up
func (h *ConnectionHandler) StopConnection(c *gin.Context) {
	var req StopRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.controller.Stop(req.Reason); err != nil {
		utils.FailureResponse(c, err, "Failed to stop connection")
		return
	}

	utils.SuccessResponse(c, http.StatusAccepted, "Connection stopping", nil)
}
