package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ppp-gateway/internal/supervisor"
)

func dialEvents(t *testing.T, h *WebSocketHandler) *websocket.Conn {
	t.Helper()
	router := gin.New()
	h.RegisterRoutes(router.Group("/ws"))
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]interface{}
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func waitForClients(t *testing.T, h *WebSocketHandler, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.GetConnectionStats().TotalConnections == n
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWebSocketStreamsEvents(t *testing.T) {
	h := NewWebSocketHandler(&fakeController{running: true}, []string{"*"}, zap.NewNop())
	conn := dialEvents(t, h)

	initial := readMessage(t, conn)
	assert.Equal(t, "status", initial["type"])
	waitForClients(t, h, 1)

	h.BroadcastEvent(supervisor.Event{Type: supervisor.EventConnected, SessionID: "s-1"})
	msg := readMessage(t, conn)
	assert.Equal(t, "link_event", msg["type"])
	data := msg["data"].(map[string]interface{})
	assert.Equal(t, "connected", data["type"])
	assert.Equal(t, "s-1", data["session_id"])
}

func TestWebSocketSubscriptionFilters(t *testing.T) {
	h := NewWebSocketHandler(&fakeController{}, []string{"*"}, zap.NewNop())
	conn := dialEvents(t, h)
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "subscribe",
		"data": map[string]string{"event_type": "link_error"},
	}))
	ack := readMessage(t, conn)
	assert.Equal(t, "subscribed", ack["type"])

	h.BroadcastEvent(supervisor.Event{Type: supervisor.EventStateChanged})
	h.BroadcastEvent(supervisor.Event{Type: supervisor.EventLinkError, ErrorClass: "auth_failure"})

	msg := readMessage(t, conn)
	data := msg["data"].(map[string]interface{})
	assert.Equal(t, "link_error", data["type"])
	assert.Equal(t, "auth_failure", data["error_class"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, "pong", readMessage(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "launch_missiles"}))
	assert.Equal(t, "error", readMessage(t, conn)["type"])
}

func TestWebSocketUnregistersOnClose(t *testing.T) {
	h := NewWebSocketHandler(&fakeController{}, []string{"*"}, zap.NewNop())
	conn := dialEvents(t, h)
	readMessage(t, conn)
	waitForClients(t, h, 1)

	conn.Close()
	waitForClients(t, h, 0)

	assert.NotPanics(t, func() {
		h.BroadcastEvent(supervisor.Event{Type: supervisor.EventStateChanged})
	})
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://console.local"})

	req := httptest.NewRequest(http.MethodGet, "/ws/events", nil)
	assert.True(t, check(req))

	req.Header.Set("Origin", "http://console.local")
	assert.True(t, check(req))

	req.Header.Set("Origin", "http://evil.example")
	assert.False(t, check(req))
}
