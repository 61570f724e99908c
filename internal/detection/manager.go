package detection

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mbd888/mevguard/internal/feed"
	"github.com/mbd888/mevguard/internal/ledger"
	"github.com/mbd888/mevguard/internal/logging"
	"github.com/mbd888/mevguard/internal/metrics"
	"github.com/mbd888/mevguard/internal/syncutil"
	"github.com/mbd888/mevguard/internal/threat"
	"github.com/mbd888/mevguard/internal/traces"
)

// Defaults for session bookkeeping.
const (
	DefaultStaleAfter = 30 * time.Second

	// contextWindow and contextSaturation turn recent threat density into a
	// [0,1] context signal: ten threats in the last minute saturate it.
	contextWindow     = time.Minute
	contextSaturation = 10.0
)

// Manager owns all detection sessions, keyed by contract address.
type Manager struct {
	feed       feed.Feed
	classifier threat.Classifier
	store      Store
	sink       EventSink
	hub        Broadcaster
	logger     *slog.Logger

	capacity   int
	staleAfter time.Duration
	now        func() time.Time

	locks *syncutil.KeyedMutex // serializes start/stop per address

	mu         sync.RWMutex
	sessions   map[string]*session
	defaultKey string
}

// NewManager creates a session manager.
func NewManager(f feed.Feed, c threat.Classifier, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		feed:       f,
		classifier: c,
		logger:     logger,
		capacity:   ledger.DefaultCapacity,
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
		locks:      syncutil.NewKeyedMutex(),
		sessions:   make(map[string]*session),
	}
}

// WithStore archives detected threats.
func (m *Manager) WithStore(s Store) *Manager {
	m.store = s
	return m
}

// WithSink publishes events to an external bus.
func (m *Manager) WithSink(s EventSink) *Manager {
	m.sink = s
	return m
}

// WithBroadcaster streams events to websocket clients.
func (m *Manager) WithBroadcaster(b Broadcaster) *Manager {
	m.hub = b
	return m
}

// WithCapacity sets the per-session ledger capacity.
func (m *Manager) WithCapacity(n int) *Manager {
	if n > 0 {
		m.capacity = n
	}
	return m
}

// WithStaleAfter sets how long an active session may go without a signal.
func (m *Manager) WithStaleAfter(d time.Duration) *Manager {
	if d > 0 {
		m.staleAfter = d
	}
	return m
}

func sessionKey(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

func (m *Manager) lookup(address string) *session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := sessionKey(address)
	if key == "" {
		key = m.defaultKey
	}
	return m.sessions[key]
}

// Start begins watching address. Starting an active session returns its
// current snapshot without side effects. An empty address watches DefaultContract.
func (m *Manager) Start(ctx context.Context, address string) (*Snapshot, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		address = DefaultContract
	}
	key := sessionKey(address)

	unlock, err := m.locks.Lock(ctx, key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	m.mu.RLock()
	existing := m.sessions[key]
	m.mu.RUnlock()

	if existing != nil && existing.isActive() {
		m.mu.Lock()
		m.defaultKey = key
		m.mu.Unlock()
		return existing.snapshot(StartRecent, m.now(), m.staleAfter), nil
	}

	// The pipeline outlives the request that started it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	runCtx = logging.WithContract(logging.WithLogger(runCtx, m.logger), address)

	signals, err := m.feed.Subscribe(runCtx, address)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %w", ErrAdapterFailure, err)
	}

	s := newSession(address, m.capacity, m.now())
	s.cancel = cancel

	m.mu.Lock()
	m.sessions[key] = s
	m.defaultKey = key
	m.mu.Unlock()

	go m.run(runCtx, s, signals)

	metrics.ActiveSessions.Inc()
	m.logger.Info("detection started", "contract", address, "session", s.id)

	snap := s.snapshot(StartRecent, m.now(), m.staleAfter)
	m.emit(ctx, EventSessionStarted, address, snap)
	if m.hub != nil {
		m.hub.BroadcastSession(address, true)
	}
	return snap, nil
}

// Stop halts the session for address, or the most recently started session
// when address is empty. It returns once the pipeline has exited. Stopping an
// idle or unknown session is a no-op.
func (m *Manager) Stop(ctx context.Context, address string) *Snapshot {
	s := m.lookup(address)
	if s == nil {
		return idleSnapshot(strings.TrimSpace(address))
	}

	// A stop always completes, even if the caller gives up waiting.
	unlock, _ := m.locks.Lock(context.WithoutCancel(ctx), sessionKey(s.address))
	defer unlock()

	cancel := s.deactivate(m.now())
	if cancel == nil {
		return s.snapshot(0, m.now(), m.staleAfter)
	}
	cancel()
	<-s.done

	metrics.ActiveSessions.Dec()

	snap := s.snapshot(0, m.now(), m.staleAfter)
	m.logger.Info("detection stopped", "contract", s.address, "session", s.id, "threats", snap.TotalThreats)
	m.emit(ctx, EventSessionStopped, s.address, snap)
	if m.hub != nil {
		m.hub.BroadcastSession(s.address, false)
	}
	return snap
}

// Status returns the session snapshot for address, or for the most recently
// started session when address is empty.
func (m *Manager) Status(address string) *Snapshot {
	s := m.lookup(address)
	if s == nil {
		return idleSnapshot(strings.TrimSpace(address))
	}
	return s.snapshot(StatusRecent, m.now(), m.staleAfter)
}

// Sessions lists every known session, most recently started first.
func (m *Manager) Sessions() []*Snapshot {
	m.mu.RLock()
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	now := m.now()
	out := make([]*Snapshot, 0, len(all))
	for _, s := range all {
		out = append(out, s.snapshot(StatusRecent, now, m.staleAfter))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(*out[j].StartedAt)
	})
	return out
}

// Counts reports how many sessions are active and how many of those are stale.
func (m *Manager) Counts() (active, stale int) {
	m.mu.RLock()
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	now := m.now()
	for _, s := range all {
		snap := s.snapshot(0, now, m.staleAfter)
		if snap.Active {
			active++
			if snap.Stale {
				stale++
			}
		}
	}
	return active, stale
}

// ContextSignal reports recent threat density for address in [0,1].
func (m *Manager) ContextSignal(address string) float64 {
	s := m.lookup(address)
	if s == nil {
		return 0
	}
	n := float64(s.ledger.CountSince(m.now().Add(-contextWindow)))
	if n >= contextSaturation {
		return 1
	}
	return n / contextSaturation
}

// History returns archived threats for address, newest first.
func (m *Manager) History(ctx context.Context, address string, limit int) ([]*threat.Threat, error) {
	if m.store == nil {
		s := m.lookup(address)
		if s == nil {
			return nil, nil
		}
		recent := s.ledger.Recent(limit)
		for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
			recent[i], recent[j] = recent[j], recent[i]
		}
		return recent, nil
	}
	if address == "" {
		if s := m.lookup(""); s != nil {
			address = s.address
		}
	}
	return m.store.ListByContract(ctx, address, limit)
}

// Shutdown stops every active session.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.RLock()
	addrs := make([]string, 0, len(m.sessions))
	for _, s := range m.sessions {
		addrs = append(addrs, s.address)
	}
	m.mu.RUnlock()

	for _, addr := range addrs {
		m.Stop(ctx, addr)
	}
}

func (m *Manager) run(ctx context.Context, s *session, signals <-chan threat.Signal) {
	defer close(s.done)

	for sig := range signals {
		m.process(ctx, s, sig)
	}

	if ctx.Err() == nil {
		// Feed ended on its own; the session stays active and goes stale.
		m.logger.Warn("transaction feed closed", "contract", s.address, "session", s.id)
	}
}

func (m *Manager) process(ctx context.Context, s *session, sig threat.Signal) {
	observed := sig.ObservedAt
	if observed.IsZero() {
		observed = m.now()
	}
	s.touch(observed)

	source := "decoded"
	if sig.Synthetic || sig.Tx == nil {
		source = "synthetic"
	}
	metrics.SignalsProcessedTotal.WithLabelValues(source).Inc()

	_, span := traces.StartSpan(ctx, "detection.classify",
		traces.ContractAddr(s.address), traces.TxHash(sig.TxHash))
	t, ok := m.classifier.Classify(sig)
	span.End()
	if !ok || !s.isActive() {
		return
	}

	s.ledger.Append(t)
	metrics.ThreatsDetectedTotal.WithLabelValues(string(t.Type)).Inc()

	logging.L(ctx).Debug("threat detected",
		"type", t.Type, "risk", t.Risk, "tx", t.TransactionHash)

	if m.store != nil {
		if err := m.store.Save(ctx, t); err != nil {
			m.logger.Error("failed to archive threat", "id", t.ID, "error", err)
		}
	}
	m.emit(ctx, EventThreatDetected, s.address, t)
	if m.hub != nil {
		m.hub.BroadcastThreat(t)
	}
}

func (m *Manager) emit(ctx context.Context, eventType, key string, payload interface{}) {
	if m.sink == nil {
		return
	}
	if err := m.sink.Emit(ctx, eventType, key, payload); err != nil {
		m.logger.Warn("event sink delivery failed", "event", eventType, "error", err)
	}
}
