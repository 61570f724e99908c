// Package detection runs per-contract detection sessions.
//
// A session binds a feed subscription to a classifier and a bounded ledger.
// Its pipeline goroutine consumes signals until the session is stopped; every
// detected threat is recorded in the ledger, archived, and fanned out to the
// configured event sink and websocket broadcaster.
package detection

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/mevguard/internal/ledger"
	"github.com/mbd888/mevguard/internal/threat"
)

// DefaultContract is watched when a start request names no contract.
const DefaultContract = "0xContract"

// Snapshot sizes used by the lifecycle responses.
const (
	StartRecent  = 10
	StatusRecent = 20
)

var (
	ErrAdapterFailure  = errors.New("detection: transaction feed unavailable")
	ErrSessionNotFound = errors.New("detection: session not found")
)

// Snapshot is a point-in-time view of one session.
type Snapshot struct {
	SessionID       string           `json:"sessionId,omitempty"`
	Active          bool             `json:"active"`
	ContractAddress string           `json:"contractAddress"`
	StartedAt       *time.Time       `json:"startedAt,omitempty"`
	StoppedAt       *time.Time       `json:"stoppedAt,omitempty"`
	LastSignalAt    *time.Time       `json:"lastSignalAt,omitempty"`
	Stale           bool             `json:"stale"`
	Stats           ledger.Stats     `json:"stats"`
	RecentThreats   []*threat.Threat `json:"recentThreats"`
	TotalThreats    int              `json:"totalThreats"`
}

// Store archives detected threats beyond the in-memory window.
type Store interface {
	Save(ctx context.Context, t *threat.Threat) error
	ListByContract(ctx context.Context, contractAddress string, limit int) ([]*threat.Threat, error)
}

// EventSink publishes threat and lifecycle events to an external bus.
type EventSink interface {
	Emit(ctx context.Context, eventType, key string, payload interface{}) error
}

// Broadcaster pushes events to connected websocket clients.
type Broadcaster interface {
	BroadcastThreat(t *threat.Threat)
	BroadcastSession(contractAddress string, active bool)
}

// Event types emitted to the sink.
const (
	EventThreatDetected = "threat.detected"
	EventSessionStarted = "session.started"
	EventSessionStopped = "session.stopped"
)
