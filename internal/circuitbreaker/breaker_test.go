package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

var errRelayDown = errors.New("relay 503")

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(name string, threshold int) (*Breaker, *clock) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	b := New(name, threshold, time.Minute)
	b.now = c.now
	return b, c
}

func fail() error    { return errRelayDown }
func succeed() error { return nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker("relay-open", 3)

	for i := 0; i < 2; i++ {
		_ = b.Do(fail)
	}
	if b.State() != Closed {
		t.Fatalf("expected closed before threshold, got %v", b.State())
	}

	if err := b.Do(fail); !errors.Is(err, errRelayDown) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if b.State() != Open {
		t.Fatalf("expected open, got %v", b.State())
	}

	called := false
	if err := b.Do(func() error { called = true; return nil }); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if called {
		t.Fatal("fn must not run while open")
	}
	if got := testutil.ToFloat64(breakerState.WithLabelValues("relay-open")); got != float64(Open) {
		t.Errorf("breaker gauge = %v, want %v", got, float64(Open))
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker("relay-reset", 2)

	_ = b.Do(fail)
	_ = b.Do(succeed)
	_ = b.Do(fail)
	if b.State() != Closed {
		t.Fatalf("failures are not consecutive, got %v", b.State())
	}
}

func TestBreaker_ProbeAfterCooldown(t *testing.T) {
	b, c := newTestBreaker("relay-probe", 1)
	_ = b.Do(fail)

	c.advance(59 * time.Second)
	if err := b.Do(succeed); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen during cooldown, got %v", err)
	}

	c.advance(time.Second)
	if err := b.Do(succeed); err != nil {
		t.Fatalf("probe should run after cooldown, got %v", err)
	}
	if b.State() != Closed {
		t.Fatalf("successful probe should close, got %v", b.State())
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, c := newTestBreaker("relay-reopen", 1)
	_ = b.Do(fail)
	c.advance(time.Minute)

	_ = b.Do(fail)
	if b.State() != Open {
		t.Fatalf("failed probe should reopen, got %v", b.State())
	}
	c.advance(30 * time.Second)
	if err := b.Do(succeed); !errors.Is(err, ErrOpen) {
		t.Fatalf("cooldown restarts after failed probe, got %v", err)
	}
}

func TestBreaker_SingleProbe(t *testing.T) {
	b, c := newTestBreaker("relay-single", 1)
	_ = b.Do(fail)
	c.advance(time.Minute)

	err := b.Do(func() error {
		if b.State() != HalfOpen {
			t.Errorf("expected half-open during probe, got %v", b.State())
		}
		if inner := b.Do(succeed); !errors.Is(inner, ErrOpen) {
			t.Errorf("second caller during probe should get ErrOpen, got %v", inner)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
}

func TestBreaker_IgnoredErrors(t *testing.T) {
	rejected := errors.New("bundle rejected")
	b, _ := newTestBreaker("relay-ignore", 1)
	b.Ignore(func(err error) bool { return errors.Is(err, rejected) })

	for i := 0; i < 3; i++ {
		if err := b.Do(func() error { return rejected }); !errors.Is(err, rejected) {
			t.Fatalf("ignored error should still be returned, got %v", err)
		}
	}
	if b.State() != Closed {
		t.Fatalf("ignored errors must not open the circuit, got %v", b.State())
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{Closed, "closed"},
		{Open, "open"},
		{HalfOpen, "half_open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
