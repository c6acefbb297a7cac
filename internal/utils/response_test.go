package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ppp-gateway/internal/repository"
	"ppp-gateway/internal/service"
	"ppp-gateway/internal/supervisor"
)

func TestFailureResponseMapsServiceErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"already running", supervisor.ErrAlreadyRunning, http.StatusConflict, CodeAlreadyRunning},
		{"not running", supervisor.ErrNotRunning, http.StatusConflict, CodeNotRunning},
		{"rejected override", fmt.Errorf("%w: holdoff", service.ErrSettingsRejected), http.StatusUnprocessableEntity, CodeInvalidSettings},
		{"invalid settings", fmt.Errorf("%w: no device", supervisor.ErrInvalidSettings), http.StatusUnprocessableEntity, CodeInvalidSettings},
		{"missing session", repository.ErrNotFound, http.StatusNotFound, CodeNotFound},
		{"storage off", service.ErrStorageDisabled, http.StatusServiceUnavailable, CodeStorageDisabled},
		{"unknown", errors.New("disk full"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Set("request_id", "req-1")

			assert.Equal(t, tt.status, FailureResponse(c, tt.err, "Request failed"))
			assert.Equal(t, tt.status, w.Code)

			var resp APIResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.Equal(t, tt.err.Error(), resp.Error.Details)
			assert.Equal(t, "req-1", resp.RequestID)
		})
	}
}

func TestErrorResponseCodeFromStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	ErrorResponse(c, http.StatusBadRequest, "Invalid session ID", nil)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeBadRequest, resp.Error.Code)
	assert.Empty(t, resp.Error.Details)
}
