package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"serial2rudics/internal/bridge"
	"serial2rudics/internal/config"
)

type fixedSnapshot bridge.Snapshot

func (s fixedSnapshot) Snapshot() bridge.Snapshot { return bridge.Snapshot(s) }

func newStatusRouter(snap bridge.Snapshot) *gin.Engine {
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{}
	cfg.App.Name = "serial2rudics"
	cfg.App.Version = "1.0.0"

	router := gin.New()
	h := NewStatusHandler(cfg, fixedSnapshot(snap), zap.NewNop())
	h.RegisterRoutes(router.Group("/"))
	return router
}

func TestHealthCheckReportsService(t *testing.T) {
	router := newStatusRouter(bridge.Snapshot{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "serial2rudics", resp.Service)
	assert.Equal(t, "1.0.0", resp.Version)
}

func TestStatusServesBridgeSnapshot(t *testing.T) {
	router := newStatusRouter(bridge.Snapshot{
		SerialBytesIn:  42,
		RudicsBytesOut: 40,
		Connects:       3,
		Desired:        "open",
		Open:           true,
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var snap bridge.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, int64(42), snap.SerialBytesIn)
	assert.Equal(t, int64(40), snap.RudicsBytesOut)
	assert.Equal(t, int64(3), snap.Connects)
	assert.Equal(t, "open", snap.Desired)
	assert.True(t, snap.Open)
}
