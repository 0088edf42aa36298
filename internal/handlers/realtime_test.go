package handlers

import (
	"crypto/tls"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func realtimeConfig(t *testing.T, handler *RealtimeHandler, req *http.Request) map[string]interface{} {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/realtime/config", handler.Config)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestRealtimeConfigLocal(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/realtime/config", nil)
	req.Host = "localhost:8080"

	resp := realtimeConfig(t, NewRealtimeHandler("", true, "/ws"), req)
	assert.Equal(t, "ws://localhost:8080/ws", resp["url"])
	assert.Equal(t, []interface{}{"websocket", "polling"}, resp["transports"])
	assert.Equal(t, float64(10), resp["unreadPollIntervalSeconds"])
}

func TestRealtimeConfigHosted(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/realtime/config", nil)
	req.Host = "internal:8080"
	req.Header.Set("X-Forwarded-Host", "care.example.com")

	resp := realtimeConfig(t, NewRealtimeHandler("", false, "/ws"), req)
	assert.Equal(t, "wss://care.example.com/ws", resp["url"])

	req = httptest.NewRequest(http.MethodGet, "/realtime/config", nil)
	req.Host = "localhost:8443"
	req.TLS = &tls.ConnectionState{}
	resp = realtimeConfig(t, NewRealtimeHandler("", true, "/ws"), req)
	assert.Equal(t, "wss://localhost:8443/ws", resp["url"])
}

func TestRealtimeConfigExplicitURL(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/realtime/config", nil)
	resp := realtimeConfig(t, NewRealtimeHandler("wss://rt.example.com/ws", true, "/ws"), req)
	assert.Equal(t, "wss://rt.example.com/ws", resp["url"])
}
