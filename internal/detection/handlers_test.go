package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/mevguard/internal/threat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(m *Manager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(m).RegisterRoutes(r.Group(""))
	return r
}

func do(t *testing.T, r *gin.Engine, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w.Code, resp
}

func TestHandler_StartStatusStop(t *testing.T) {
	f := newManualFeed()
	m, _ := newTestManager(f)
	defer m.Shutdown(context.Background())
	r := setupRouter(m)

	code, resp := do(t, r, "POST", "/detect/start", map[string]string{"contractAddress": "0xpool"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "MEV detection started", resp["message"])
	state := resp["state"].(map[string]interface{})
	assert.Equal(t, true, state["active"])
	assert.Equal(t, "0xpool", state["contractAddress"])
	assert.Empty(t, state["recentThreats"])

	// Second start is idempotent over HTTP.
	code, resp = do(t, r, "POST", "/detect/start", map[string]string{"contractAddress": "0xpool"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, state["sessionId"], resp["state"].(map[string]interface{})["sessionId"])
	assert.Equal(t, int32(1), f.calls.Load())

	for i := 0; i < 12; i++ {
		require.True(t, f.send("0xpool", threat.Signal{ContractAddress: "0xpool", ObservedAt: time.Now()}))
	}
	waitFor(t, func() bool { return m.Status("0xpool").TotalThreats == 12 })

	code, resp = do(t, r, "GET", "/detect/status?contractAddress=0xpool", nil)
	require.Equal(t, http.StatusOK, code)
	state = resp["state"].(map[string]interface{})
	assert.Len(t, state["recentThreats"], 12)
	assert.Equal(t, false, state["stale"])
	stats := state["stats"].(map[string]interface{})
	assert.Equal(t, float64(12), stats["totalDetected"])
	assert.Equal(t, float64(12), stats["sandwichAttacks"])

	code, resp = do(t, r, "POST", "/detect/start", map[string]string{"contractAddress": "0xpool"})
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, resp["state"].(map[string]interface{})["recentThreats"], 10)

	code, resp = do(t, r, "POST", "/detect/stop", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "MEV detection stopped", resp["message"])
	state = resp["state"].(map[string]interface{})
	assert.Equal(t, false, state["active"])
	assert.Equal(t, float64(12), state["totalThreats"])
	assert.Equal(t, float64(12), state["totalThreatsAllTime"])
}

func TestHandler_StartAdapterFailure(t *testing.T) {
	f := newManualFeed()
	f.err = errors.New("no websocket endpoint")
	m, _ := newTestManager(f)
	r := setupRouter(m)

	code, resp := do(t, r, "POST", "/detect/start", map[string]string{"contractAddress": "0xpool"})
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, "adapter_failure", resp["error"])
}

func TestHandler_StartInvalidBody(t *testing.T) {
	m, _ := newTestManager(newManualFeed())
	r := setupRouter(m)

	req := httptest.NewRequest("POST", "/detect/start", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_StatusWithoutSession(t *testing.T) {
	m, _ := newTestManager(newManualFeed())
	r := setupRouter(m)

	code, resp := do(t, r, "GET", "/detect/status", nil)
	require.Equal(t, http.StatusOK, code)
	state := resp["state"].(map[string]interface{})
	assert.Equal(t, false, state["active"])
	assert.NotNil(t, state["recentThreats"])
}

func TestHandler_SessionsAndHistory(t *testing.T) {
	f := newManualFeed()
	m, _ := newTestManager(f)
	m.WithStore(NewMemoryStore())
	defer m.Shutdown(context.Background())
	r := setupRouter(m)

	_, err := m.Start(context.Background(), "0xpool")
	require.NoError(t, err)
	require.True(t, f.send("0xpool", threat.Signal{ContractAddress: "0xpool", TxHash: "0xabc", ObservedAt: time.Now()}))
	waitFor(t, func() bool { return m.Status("0xpool").TotalThreats == 1 })

	code, resp := do(t, r, "GET", "/detect/sessions", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), resp["count"])

	require.Eventually(t, func() bool {
		_, resp := do(t, r, "GET", "/detect/history?contractAddress=0xpool&limit=5", nil)
		return resp["count"] == float64(1)
	}, time.Second, 5*time.Millisecond)

	code, resp = do(t, r, "GET", "/detect/history?contractAddress=0xother", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), resp["count"])
	assert.NotNil(t, resp["threats"])
}
