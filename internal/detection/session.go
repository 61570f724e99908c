package detection

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mbd888/mevguard/internal/ledger"
	"github.com/mbd888/mevguard/internal/threat"
)

type session struct {
	id      string
	address string
	ledger  *ledger.Ledger

	mu         sync.RWMutex
	active     bool
	startedAt  time.Time
	stoppedAt  time.Time
	lastSignal time.Time
	cancel     context.CancelFunc
	done       chan struct{}
}

func newSession(address string, capacity int, now time.Time) *session {
	return &session{
		id:         uuid.NewString(),
		address:    address,
		ledger:     ledger.New(capacity),
		active:     true,
		startedAt:  now,
		lastSignal: now,
		done:       make(chan struct{}),
	}
}

func (s *session) isActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *session) touch(at time.Time) {
	s.mu.Lock()
	if at.After(s.lastSignal) {
		s.lastSignal = at
	}
	s.mu.Unlock()
}

// deactivate marks the session stopped and returns its cancel func,
// or nil when it was already stopped.
func (s *session) deactivate(now time.Time) context.CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return nil
	}
	s.active = false
	s.stoppedAt = now
	return s.cancel
}

func (s *session) snapshot(recent int, now time.Time, staleAfter time.Duration) *Snapshot {
	s.mu.RLock()
	active := s.active
	startedAt, stoppedAt, lastSignal := s.startedAt, s.stoppedAt, s.lastSignal
	s.mu.RUnlock()

	view := s.ledger.Snapshot(recent)
	snap := &Snapshot{
		SessionID:       s.id,
		Active:          active,
		ContractAddress: s.address,
		StartedAt:       &startedAt,
		LastSignalAt:    &lastSignal,
		Stale:           active && now.Sub(lastSignal) > staleAfter,
		Stats:           view.Stats,
		RecentThreats:   view.Threats,
		TotalThreats:    view.Size,
	}
	if !stoppedAt.IsZero() {
		snap.StoppedAt = &stoppedAt
	}
	return snap
}

func idleSnapshot(address string) *Snapshot {
	return &Snapshot{
		ContractAddress: address,
		RecentThreats:   []*threat.Threat{},
	}
}
