// internal/utils/response.go
package utils

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ppp-gateway/internal/repository"
	"ppp-gateway/internal/service"
	"ppp-gateway/internal/supervisor"
)

// Error codes carried in APIError.Code
const (
	CodeBadRequest      = "BAD_REQUEST"
	CodeNotFound        = "NOT_FOUND"
	CodeAlreadyRunning  = "ALREADY_RUNNING"
	CodeNotRunning      = "NOT_RUNNING"
	CodeInvalidSettings = "INVALID_SETTINGS"
	CodeStorageDisabled = "STORAGE_DISABLED"
	CodeUnavailable     = "SERVICE_UNAVAILABLE"
	CodeInternal        = "INTERNAL_SERVER_ERROR"
)

// APIResponse is the envelope of every control API reply
type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// APIError describes a failed request
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

// first match wins
var errorMappings = []errorMapping{
	{supervisor.ErrAlreadyRunning, http.StatusConflict, CodeAlreadyRunning, "Connection already running"},
	{supervisor.ErrNotRunning, http.StatusConflict, CodeNotRunning, "Connection is not running"},
	{service.ErrSettingsRejected, http.StatusUnprocessableEntity, CodeInvalidSettings, "Invalid connection settings"},
	{supervisor.ErrInvalidSettings, http.StatusUnprocessableEntity, CodeInvalidSettings, "Invalid connection settings"},
	{repository.ErrNotFound, http.StatusNotFound, CodeNotFound, "Session not found"},
	{service.ErrStorageDisabled, http.StatusServiceUnavailable, CodeStorageDisabled, "History storage is disabled"},
}

// SuccessResponse sends a successful response
func SuccessResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: c.GetString("request_id"),
	})
}

// ErrorResponse sends an error response with a code derived from the status
func ErrorResponse(c *gin.Context, statusCode int, message string, err error) {
	writeError(c, statusCode, codeForStatus(statusCode), message, err)
}

// FailureResponse maps a service error to its status and code. Errors with
// no mapping are sent as 500 with fallback as the message. It returns the
// status written.
func FailureResponse(c *gin.Context, err error, fallback string) int {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			writeError(c, m.status, m.code, m.message, err)
			return m.status
		}
	}
	writeError(c, http.StatusInternalServerError, CodeInternal, fallback, err)
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, statusCode int, code, message string, err error) {
	apiError := &APIError{Code: code, Message: message}
	if err != nil {
		apiError.Details = err.Error()
	}

	c.JSON(statusCode, APIResponse{
		Success:   false,
		Message:   message,
		Error:     apiError,
		Timestamp: time.Now(),
		RequestID: c.GetString("request_id"),
	})
}

func codeForStatus(statusCode int) string {
	switch statusCode {
	case http.StatusBadRequest:
		return CodeBadRequest
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusServiceUnavailable:
		return CodeUnavailable
	default:
		return CodeInternal
	}
}
