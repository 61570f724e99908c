// Package realtime streams detected threats and session changes to
// websocket clients.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbd888/mevguard/internal/metrics"
	"github.com/mbd888/mevguard/internal/security"
	"github.com/mbd888/mevguard/internal/threat"
)

// MaxClients caps concurrent websocket connections.
const MaxClients = 10000

// Stats is a snapshot of hub activity.
type Stats struct {
	Connected int   `json:"connectedClients"`
	Peak      int64 `json:"peakClients"`
	Events    int64 `json:"totalEvents"`
	Dropped   int64 `json:"droppedClients"`
}

// Hub fans events out to subscribed clients. All membership changes go
// through Run.
type Hub struct {
	logger      *slog.Logger
	upgrader    websocket.Upgrader
	allowOrigin func(string) bool
	maxClients  int

	events chan *Event
	join   chan *Client
	leave  chan *Client
	done   chan struct{}

	mu      sync.RWMutex
	clients map[*Client]struct{}

	peak    atomic.Int64
	total   atomic.Int64
	dropped atomic.Int64
}

func NewHub(logger *slog.Logger) *Hub {
	h := &Hub{
		logger:     logger,
		maxClients: MaxClients,
		events:     make(chan *Event, 256),
		join:       make(chan *Client),
		leave:      make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// AllowOrigins admits browser clients from these origins in addition to
// the API's own host.
func (h *Hub) AllowOrigins(origins []string) *Hub {
	h.allowOrigin = security.OriginAllowed(origins)
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	switch {
	case origin == "":
		return true
	case origin == "http://"+r.Host || origin == "https://"+r.Host:
		return true
	case h.allowOrigin != nil:
		return h.allowOrigin(origin)
	default:
		return false
	}
}

// Run owns client membership until ctx ends, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				h.drop(c)
			}
			h.mu.Unlock()
			h.logger.Info("realtime hub stopped")
			return

		case c := <-h.join:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			if int64(n) > h.peak.Load() {
				h.peak.Store(int64(n))
			}
			metrics.ActiveWebSocketClients.Set(float64(n))

		case c := <-h.leave:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}
			h.mu.Unlock()

		case e := <-h.events:
			h.deliver(e)
		}
	}
}

// drop requires h.mu held for writing.
func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.send)
	metrics.ActiveWebSocketClients.Set(float64(len(h.clients)))
}

func (h *Hub) deliver(e *Event) {
	h.total.Add(1)
	frame, err := json.Marshal(e)
	if err != nil {
		h.logger.Warn("failed to encode event", "type", e.Type, "error", err)
		return
	}

	var slow []*Client
	h.mu.RLock()
	for c := range h.clients {
		if !c.subscription().Matches(e) {
			continue
		}
		select {
		case c.send <- frame:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, c := range slow {
		if _, ok := h.clients[c]; ok {
			h.drop(c)
		}
	}
	h.mu.Unlock()
	h.dropped.Add(int64(len(slow)))
	h.logger.Warn("dropped slow websocket clients", "count", len(slow))
}

func (h *Hub) publish(e *Event) {
	select {
	case h.events <- e:
	default:
		h.logger.Warn("realtime queue full, dropping event", "type", e.Type)
	}
}

func (h *Hub) BroadcastThreat(t *threat.Threat) {
	if t == nil {
		return
	}
	h.publish(&Event{
		Type:      EventThreat,
		Timestamp: time.Now(),
		Data:      t,
		route:     route{contract: t.ContractAddress, risk: t.Risk, threatType: string(t.Type)},
	})
}

func (h *Hub) BroadcastSession(contractAddress string, active bool) {
	h.publish(&Event{
		Type:      EventSession,
		Timestamp: time.Now(),
		Data:      SessionEvent{ContractAddress: contractAddress, Active: active},
		route:     route{contract: contractAddress},
	})
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	return Stats{
		Connected: n,
		Peak:      h.peak.Load(),
		Events:    h.total.Load(),
		Dropped:   h.dropped.Load(),
	}
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}
	if h.Stats().Connected >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, clientQueueSize),
		sub:  ParseSubscription(r.URL.Query()),
	}
	select {
	case h.join <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writeLoop()
	go c.readLoop()
}
