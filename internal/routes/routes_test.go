package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"ppp-gateway/internal/config"
	"ppp-gateway/internal/handler"
	"ppp-gateway/internal/service"
	"ppp-gateway/internal/supervisor"
)

type idleController struct{}

func (idleController) Start(*service.StartRequest) (*supervisor.Snapshot, error) {
	return nil, supervisor.ErrAlreadyRunning
}
func (idleController) Stop(string) error                 { return supervisor.ErrNotRunning }
func (idleController) Status() *service.ConnectionStatus { return &service.ConnectionStatus{} }

func TestRouterWiring(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{AllowedOrigins: []string{"*"}}}
	ws := handler.NewWebSocketHandler(idleController{}, cfg.Server.AllowedOrigins, zap.NewNop())
	router := NewRouter(cfg, zap.NewNop(), nil, idleController{}, nil, ws).SetupRouter()

	cases := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/live", http.StatusOK},
		{http.MethodGet, "/api/v1/status", http.StatusOK},
		{http.MethodPost, "/api/v1/connection/stop", http.StatusConflict},
		{http.MethodGet, "/api/v1/sessions", http.StatusServiceUnavailable},
		{http.MethodGet, "/ws/events", http.StatusBadRequest},
		{http.MethodGet, "/api/v1/devices", http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))
			assert.Equal(t, tc.want, w.Code)
			assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
		})
	}
}
