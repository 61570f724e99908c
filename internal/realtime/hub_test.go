package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/mevguard/internal/threat"
)

func threatEvent(contract string, risk int, typ threat.Type) *Event {
	return &Event{
		Type:  EventThreat,
		Data:  &threat.Threat{ContractAddress: contract, Risk: risk, Type: typ},
		route: route{contract: contract, risk: risk, threatType: string(typ)},
	}
}

func sessionEvent(contract string) *Event {
	return &Event{Type: EventSession, route: route{contract: contract}}
}

func TestSubscription_Matches(t *testing.T) {
	sandwich := threatEvent("0xpool", 50, threat.TypeSandwich)
	backrun := threatEvent("0xpool", 50, threat.TypeBackRunning)
	low := threatEvent("0xpool", 59, threat.TypeFrontRunning)
	other := threatEvent("0xother", 90, threat.TypeSandwich)

	tests := []struct {
		name string
		sub  Subscription
		e    *Event
		want bool
	}{
		{"all events ignores filters", Subscription{AllEvents: true, MinRisk: 99}, low, true},
		{"empty matches", Subscription{}, sandwich, true},
		{"event type excluded", Subscription{EventTypes: []EventType{EventSession}}, sandwich, false},
		{"event type included", Subscription{EventTypes: []EventType{EventSession}}, sessionEvent("0xpool"), true},
		{"contract ignores case", Subscription{Contracts: []string{"0xPool"}}, sandwich, true},
		{"contract mismatch", Subscription{Contracts: []string{"0xPool"}}, other, false},
		{"session for watched contract", Subscription{Contracts: []string{"0xpool"}}, sessionEvent("0xPOOL"), true},
		{"min risk floor", Subscription{MinRisk: 50}, sandwich, true},
		{"below min risk", Subscription{MinRisk: 60}, low, false},
		{"min risk skips sessions", Subscription{MinRisk: 60}, sessionEvent("0xpool"), true},
		{"threat type match", Subscription{ThreatTypes: []string{string(threat.TypeSandwich)}}, sandwich, true},
		{"threat type mismatch", Subscription{ThreatTypes: []string{string(threat.TypeSandwich)}}, backrun, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sub.Matches(tt.e))
		})
	}
}

func TestParseSubscription(t *testing.T) {
	assert.True(t, ParseSubscription(url.Values{}).AllEvents)

	sub := ParseSubscription(url.Values{"contract": {"0xa", "0xb"}, "minRisk": {"70"}})
	assert.False(t, sub.AllEvents)
	assert.Len(t, sub.Contracts, 2)
	assert.Equal(t, 70, sub.MinRisk)

	sub = ParseSubscription(url.Values{"minRisk": {"abc"}})
	assert.True(t, sub.AllEvents)
	assert.Zero(t, sub.MinRisk)
}

func TestCheckOrigin(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "http://api.mevguard.io/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	h := NewHub(slog.Default())
	assert.True(t, h.checkOrigin(req("")))
	assert.True(t, h.checkOrigin(req("https://api.mevguard.io")))
	assert.False(t, h.checkOrigin(req("https://dashboard.example")))

	h.AllowOrigins([]string{"https://dashboard.example"})
	assert.True(t, h.checkOrigin(req("https://dashboard.example")))
	assert.False(t, h.checkOrigin(req("https://evil.example")))
}

// startHub runs a hub for the duration of the test.
func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { h.Run(ctx); close(done) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func joinClient(h *Hub, sub Subscription) *Client {
	c := &Client{hub: h, send: make(chan []byte, clientQueueSize), sub: sub}
	h.join <- c
	return c
}

func receive(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case frame := <-c.send:
		return frame
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestHub_JoinLeave(t *testing.T) {
	h := startHub(t)
	c := joinClient(h, Subscription{AllEvents: true})
	assert.Eventually(t, func() bool { return h.Stats().Connected == 1 }, time.Second, 10*time.Millisecond)

	h.leave <- c
	assert.Eventually(t, func() bool { return h.Stats().Connected == 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), h.Stats().Peak)

	_, open := <-c.send
	assert.False(t, open, "send is closed when a client leaves")
}

func TestHub_BroadcastThreat(t *testing.T) {
	h := startHub(t)
	c := joinClient(h, Subscription{AllEvents: true})

	h.BroadcastThreat(nil)
	h.BroadcastThreat(&threat.Threat{ID: "t1", ContractAddress: "0xpool", Risk: 72, Type: threat.TypeSandwich})

	var got struct {
		Type EventType     `json:"type"`
		Data threat.Threat `json:"data"`
	}
	require.NoError(t, json.Unmarshal(receive(t, c), &got))
	assert.Equal(t, EventThreat, got.Type)
	assert.Equal(t, "t1", got.Data.ID)
	assert.Equal(t, 72, got.Data.Risk)
	assert.Equal(t, int64(1), h.Stats().Events)
}

func TestHub_FiltersByContract(t *testing.T) {
	h := startHub(t)
	c := joinClient(h, Subscription{Contracts: []string{"0xwatched"}})

	h.BroadcastSession("0xother", true)
	h.BroadcastSession("0xwatched", false)

	frame := receive(t, c)
	assert.Contains(t, string(frame), `"contractAddress":"0xwatched"`)
	assert.Contains(t, string(frame), `"active":false`)
}

func TestHub_DropsSlowClients(t *testing.T) {
	h := startHub(t)
	c := &Client{hub: h, send: make(chan []byte), sub: Subscription{AllEvents: true}}
	h.join <- c

	h.BroadcastSession("0xpool", true)
	assert.Eventually(t, func() bool { return h.Stats().Dropped == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, h.Stats().Connected)
}

func TestHub_WebSocketEndToEnd(t *testing.T) {
	h := startHub(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?minRisk=50"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.Stats().Connected == 1 }, time.Second, 10*time.Millisecond)

	h.BroadcastThreat(&threat.Threat{ID: "low", Risk: 20, Type: threat.TypeFrontRunning})
	h.BroadcastThreat(&threat.Threat{ID: "high", Risk: 80, Type: threat.TypeSandwich})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"id":"high"`)

	// narrow further over the socket
	require.NoError(t, conn.WriteJSON(Subscription{ThreatTypes: []string{string(threat.TypeBackRunning)}}))
	time.Sleep(50 * time.Millisecond)
	h.BroadcastThreat(&threat.Threat{ID: "sw", Risk: 90, Type: threat.TypeSandwich})
	h.BroadcastThreat(&threat.Threat{ID: "br", Risk: 30, Type: threat.TypeBackRunning})

	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"id":"br"`)
}

func TestHub_RejectsAfterStop(t *testing.T) {
	h := NewHub(slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.Run(ctx)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
