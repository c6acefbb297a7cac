// internal/handler/session_handler.go
package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"ppp-gateway/internal/repository"
	"ppp-gateway/internal/service"
	"ppp-gateway/internal/utils"
)

// SessionHandler serves connection history
type SessionHandler struct {
	history HistoryReader
	logger  *zap.Logger
}

// NewSessionHandler creates a new session handler. history may be nil when
// storage is disabled.
func NewSessionHandler(history HistoryReader, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		history: history,
		logger:  logger.With(zap.String("component", "session-handler")),
	}
}

// RegisterRoutes registers session routes
func (h *SessionHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/sessions", h.ListSessions)
	router.GET("/sessions/stats", h.GetStats)
	router.GET("/sessions/:session_id", h.GetSession)
	router.GET("/errors", h.ListErrors)
}

func (h *SessionHandler) available(c *gin.Context) bool {
	if h.history == nil {
		utils.FailureResponse(c, service.ErrStorageDisabled, "")
		return false
	}
	return true
}

// SessionListResponse is a page of sessions
type SessionListResponse struct {
	Sessions interface{} `json:"sessions"`
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	PerPage  int         `json:"per_page"`
}

// ListSessions lists sessions, newest first
func (h *SessionHandler) ListSessions(c *gin.Context) {
	if !h.available(c) {
		return
	}

	filter := &repository.SessionFilter{
		Page:    queryInt(c, "page", 1),
		PerPage: queryInt(c, "per_page", 50),
	}
	if device := c.Query("device"); device != "" {
		filter.Device = &device
	}
	if active, err := strconv.ParseBool(c.DefaultQuery("active", "false")); err == nil {
		filter.ActiveOnly = active
	}

	sessions, total, err := h.history.ListSessions(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list sessions", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list sessions", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Sessions retrieved", &SessionListResponse{
		Sessions: sessions,
		Total:    total,
		Page:     filter.Page,
		PerPage:  filter.PerPage,
	})
}

// GetSession returns one session
func (h *SessionHandler) GetSession(c *gin.Context) {
	if !h.available(c) {
		return
	}

	id, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid session ID", err)
		return
	}

	session, err := h.history.GetSession(c.Request.Context(), id)
	if err != nil {
		utils.FailureResponse(c, err, "Failed to get session")
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Session retrieved", session)
}

// GetStats returns aggregate history
func (h *SessionHandler) GetStats(c *gin.Context) {
	if !h.available(c) {
		return
	}

	stats, err := h.history.Stats(c.Request.Context())
	if err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to get session stats", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Session stats retrieved", stats)
}

// ListErrors returns recent link errors
func (h *SessionHandler) ListErrors(c *gin.Context) {
	if !h.available(c) {
		return
	}

	errs, err := h.history.RecentErrors(c.Request.Context(), queryInt(c, "limit", 50))
	if err != nil {
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list link errors", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Link errors retrieved", errs)
}

func queryInt(c *gin.Context, key string, def int) int {
	value, err := strconv.Atoi(c.Query(key))
	if err != nil || value < 1 {
		return def
	}
	return value
}
