package detection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mbd888/mevguard/internal/threat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manualFeed hands out one controllable channel per subscription.
type manualFeed struct {
	mu    sync.Mutex
	subs  map[string]chan threat.Signal
	calls atomic.Int32
	err   error
}

func newManualFeed() *manualFeed {
	return &manualFeed{subs: make(map[string]chan threat.Signal)}
}

func (f *manualFeed) Subscribe(ctx context.Context, contract string) (<-chan threat.Signal, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	in := make(chan threat.Signal)
	out := make(chan threat.Signal)

	f.mu.Lock()
	f.subs[contract] = in
	f.mu.Unlock()

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- sig:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// send delivers sig and reports whether the pipeline accepted it.
func (f *manualFeed) send(contract string, sig threat.Signal) bool {
	f.mu.Lock()
	ch := f.subs[contract]
	f.mu.Unlock()
	select {
	case ch <- sig:
		return true
	case <-time.After(200 * time.Millisecond):
		return false
	}
}

func (f *manualFeed) fail(contract string) {
	f.mu.Lock()
	close(f.subs[contract])
	f.mu.Unlock()
}

// fixedClassifier turns every signal into a threat with a preset risk and type.
type fixedClassifier struct {
	n    atomic.Int64
	typ  threat.Type
	risk int
}

func (c *fixedClassifier) Classify(sig threat.Signal) (*threat.Threat, bool) {
	n := c.n.Add(1)
	return &threat.Threat{
		ID:                      fmt.Sprintf("threat-%d", n),
		ContractAddress:         sig.ContractAddress,
		Type:                    c.typ,
		Risk:                    c.risk,
		SlippageEstimatePercent: 1,
		Timestamp:               sig.ObservedAt.UnixMilli(),
		TransactionHash:         sig.TxHash,
	}, true
}

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) Emit(_ context.Context, eventType, key string, _ interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, eventType+":"+key)
	return nil
}

func (s *recordingSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

type recordingHub struct {
	threats  atomic.Int32
	sessions atomic.Int32
}

func (h *recordingHub) BroadcastThreat(*threat.Threat) { h.threats.Add(1) }
func (h *recordingHub) BroadcastSession(string, bool)  { h.sessions.Add(1) }

func newTestManager(f *manualFeed) (*Manager, *fixedClassifier) {
	c := &fixedClassifier{typ: threat.TypeSandwich, risk: 60}
	return NewManager(f, c, nil), c
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 5*time.Millisecond)
}

func TestStart_Idempotent(t *testing.T) {
	f := newManualFeed()
	m, _ := newTestManager(f)
	defer m.Shutdown(context.Background())

	first, err := m.Start(context.Background(), "0xPool")
	require.NoError(t, err)
	assert.True(t, first.Active)
	assert.Equal(t, "0xPool", first.ContractAddress)

	second, err := m.Start(context.Background(), "0xpool")
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestStart_DefaultContract(t *testing.T) {
	f := newManualFeed()
	m, _ := newTestManager(f)
	defer m.Shutdown(context.Background())

	snap, err := m.Start(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, DefaultContract, snap.ContractAddress)
}

func TestStart_AdapterFailure(t *testing.T) {
	f := newManualFeed()
	f.err = errors.New("dial tcp: connection refused")
	m, _ := newTestManager(f)

	_, err := m.Start(context.Background(), "0xpool")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAdapterFailure)
	assert.Contains(t, err.Error(), "connection refused")
	assert.False(t, m.Status("0xpool").Active)
	assert.Empty(t, m.Sessions())
}

func TestPipeline_AppendsAndFansOut(t *testing.T) {
	f := newManualFeed()
	m, _ := newTestManager(f)
	sink := &recordingSink{}
	hub := &recordingHub{}
	store := NewMemoryStore()
	m.WithSink(sink).WithBroadcaster(hub).WithStore(store)
	defer m.Shutdown(context.Background())

	_, err := m.Start(context.Background(), "0xpool")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.True(t, f.send("0xpool", threat.Signal{ContractAddress: "0xpool", TxHash: fmt.Sprintf("0x%d", i), ObservedAt: time.Now()}))
	}

	waitFor(t, func() bool { return m.Status("0xpool").Stats.TotalDetected == 3 })

	snap := m.Status("0xpool")
	assert.Len(t, snap.RecentThreats, 3)
	assert.Equal(t, int64(3), snap.Stats.SandwichAttacks)
	assert.Equal(t, 60.0, snap.Stats.AvgRiskScore)

	waitFor(t, func() bool { return hub.threats.Load() == 3 })
	archived, err := store.ListByContract(context.Background(), "0xPOOL", 10)
	require.NoError(t, err)
	assert.Len(t, archived, 3)
	assert.Equal(t, "0x2", archived[0].TransactionHash)
	assert.Contains(t, sink.all(), EventSessionStarted+":0xpool")
	assert.Contains(t, sink.all(), EventThreatDetected+":0xpool")
}

func TestStop_WaitsForPipelineAndFreezesLedger(t *testing.T) {
	f := newManualFeed()
	m, _ := newTestManager(f)
	hub := &recordingHub{}
	m.WithBroadcaster(hub)

	_, err := m.Start(context.Background(), "0xpool")
	require.NoError(t, err)
	require.True(t, f.send("0xpool", threat.Signal{ContractAddress: "0xpool", ObservedAt: time.Now()}))
	waitFor(t, func() bool { return m.Status("0xpool").TotalThreats == 1 })

	snap := m.Stop(context.Background(), "")
	assert.False(t, snap.Active)
	assert.Equal(t, 1, snap.TotalThreats)
	assert.NotNil(t, snap.StoppedAt)

	// No consumer remains after Stop returns.
	assert.False(t, f.send("0xpool", threat.Signal{ContractAddress: "0xpool", ObservedAt: time.Now()}))

	after := m.Status("0xpool")
	assert.False(t, after.Active)
	assert.Equal(t, int64(1), after.Stats.TotalDetected)
	assert.Len(t, after.RecentThreats, 1)
	assert.Equal(t, int32(2), hub.sessions.Load())
}

func TestStop_IdleIsNoop(t *testing.T) {
	f := newManualFeed()
	m, _ := newTestManager(f)

	snap := m.Stop(context.Background(), "0xunknown")
	assert.False(t, snap.Active)
	assert.Equal(t, 0, snap.TotalThreats)

	_, err := m.Start(context.Background(), "0xpool")
	require.NoError(t, err)
	first := m.Stop(context.Background(), "0xpool")
	second := m.Stop(context.Background(), "0xpool")
	assert.Equal(t, first.StoppedAt, second.StoppedAt)
}

func TestStart_AfterStopCreatesFreshSession(t *testing.T) {
	f := newManualFeed()
	m, _ := newTestManager(f)
	defer m.Shutdown(context.Background())

	first, err := m.Start(context.Background(), "0xpool")
	require.NoError(t, err)
	require.True(t, f.send("0xpool", threat.Signal{ContractAddress: "0xpool", ObservedAt: time.Now()}))
	waitFor(t, func() bool { return m.Status("0xpool").TotalThreats == 1 })
	m.Stop(context.Background(), "0xpool")

	second, err := m.Start(context.Background(), "0xpool")
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.Equal(t, int64(0), second.Stats.TotalDetected)
	assert.Empty(t, second.RecentThreats)
}

func TestStatus_DefaultsToMostRecentSession(t *testing.T) {
	f := newManualFeed()
	m, _ := newTestManager(f)
	defer m.Shutdown(context.Background())

	var tick atomic.Int64
	base := time.Now()
	m.now = func() time.Time { return base.Add(time.Duration(tick.Add(1)) * time.Millisecond) }

	assert.False(t, m.Status("").Active)

	_, err := m.Start(context.Background(), "0xa")
	require.NoError(t, err)
	_, err = m.Start(context.Background(), "0xb")
	require.NoError(t, err)

	assert.Equal(t, "0xb", m.Status("").ContractAddress)
	assert.Equal(t, "0xa", m.Status("0xA").ContractAddress)
	assert.Len(t, m.Sessions(), 2)
	assert.Equal(t, "0xb", m.Sessions()[0].ContractAddress)
}

func TestStatus_Stale(t *testing.T) {
	f := newManualFeed()
	m, _ := newTestManager(f)
	m.WithStaleAfter(time.Minute)
	defer m.Shutdown(context.Background())

	base := time.Now()
	var offset atomic.Int64
	m.now = func() time.Time { return base.Add(time.Duration(offset.Load())) }

	_, err := m.Start(context.Background(), "0xpool")
	require.NoError(t, err)
	assert.False(t, m.Status("0xpool").Stale)

	offset.Store(int64(2 * time.Minute))
	assert.True(t, m.Status("0xpool").Stale)
	active, stale := m.Counts()
	assert.Equal(t, 1, active)
	assert.Equal(t, 1, stale)

	require.True(t, f.send("0xpool", threat.Signal{ContractAddress: "0xpool", ObservedAt: base.Add(2 * time.Minute)}))
	waitFor(t, func() bool { return !m.Status("0xpool").Stale })

	// A stopped session is never stale.
	offset.Store(int64(time.Hour))
	m.Stop(context.Background(), "0xpool")
	assert.False(t, m.Status("0xpool").Stale)
	active, stale = m.Counts()
	assert.Zero(t, active)
	assert.Zero(t, stale)
}

func TestFeedFailure_KeepsSessionActiveButStale(t *testing.T) {
	f := newManualFeed()
	m, _ := newTestManager(f)
	m.WithStaleAfter(10 * time.Millisecond)
	defer m.Shutdown(context.Background())

	_, err := m.Start(context.Background(), "0xpool")
	require.NoError(t, err)
	f.fail("0xpool")

	waitFor(t, func() bool { return m.Status("0xpool").Stale })
	assert.True(t, m.Status("0xpool").Active)

	snap := m.Stop(context.Background(), "0xpool")
	assert.False(t, snap.Active)
}

func TestContextSignal(t *testing.T) {
	f := newManualFeed()
	m, _ := newTestManager(f)
	defer m.Shutdown(context.Background())

	assert.Equal(t, 0.0, m.ContextSignal("0xpool"))

	_, err := m.Start(context.Background(), "0xpool")
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		require.True(t, f.send("0xpool", threat.Signal{ContractAddress: "0xpool", ObservedAt: time.Now()}))
	}
	waitFor(t, func() bool { return m.Status("0xpool").TotalThreats == 4 })
	assert.InDelta(t, 0.4, m.ContextSignal("0xpool"), 1e-9)

	for i := 0; i < 12; i++ {
		require.True(t, f.send("0xpool", threat.Signal{ContractAddress: "0xpool", ObservedAt: time.Now()}))
	}
	waitFor(t, func() bool { return m.Status("0xpool").TotalThreats == 16 })
	assert.Equal(t, 1.0, m.ContextSignal("0xpool"))
}

func TestConcurrentStartStop(t *testing.T) {
	f := newManualFeed()
	m, _ := newTestManager(f)
	defer m.Shutdown(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = m.Start(context.Background(), "0xpool")
			} else {
				m.Stop(context.Background(), "0xpool")
			}
			_ = m.Status("0xpool")
		}(i)
	}
	wg.Wait()

	snap := m.Status("0xpool")
	if snap.Active {
		assert.NotNil(t, snap.StartedAt)
	}
}

func TestHistory_FallsBackToLedger(t *testing.T) {
	f := newManualFeed()
	m, _ := newTestManager(f)
	defer m.Shutdown(context.Background())

	_, err := m.Start(context.Background(), "0xpool")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.True(t, f.send("0xpool", threat.Signal{ContractAddress: "0xpool", TxHash: fmt.Sprintf("0x%d", i), ObservedAt: time.Now()}))
	}
	waitFor(t, func() bool { return m.Status("0xpool").TotalThreats == 3 })

	got, err := m.History(context.Background(), "", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "0x2", got[0].TransactionHash)
	assert.Equal(t, "0x1", got[1].TransactionHash)
}
