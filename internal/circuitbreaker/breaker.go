// Package circuitbreaker stops calling an upstream (a private relay, a price
// feed) after repeated failures and probes it again once a cooldown passes.
package circuitbreaker

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var breakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "mevguard",
	Subsystem: "upstream",
	Name:      "breaker_state",
	Help:      "Upstream circuit state (0 closed, 1 open, 2 half-open).",
}, []string{"upstream"})

func init() {
	prometheus.MustRegister(breakerState)
}

// ErrOpen is returned while the upstream is considered down.
var ErrOpen = errors.New("circuitbreaker: upstream unavailable")

// Breaker guards a single upstream. Consecutive failures up to the threshold
// open the circuit; after the cooldown one probe call is let through and its
// outcome decides between closed and open.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	ignore    func(error) bool
	now       func() time.Time
	logger    *slog.Logger

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
}

// New returns a closed breaker for the named upstream. Non-positive
// arguments fall back to 5 failures and a 30s cooldown.
func New(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	breakerState.WithLabelValues(name).Set(float64(Closed))
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		logger:    slog.Default(),
	}
}

// Ignore marks errors that say nothing about upstream health (a rejected
// transaction, a bad request). They are returned but not counted.
func (b *Breaker) Ignore(fn func(error) bool) *Breaker {
	b.ignore = fn
	return b
}

func (b *Breaker) WithLogger(logger *slog.Logger) *Breaker {
	if logger != nil {
		b.logger = logger
	}
	return b
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Do runs fn unless the circuit is open.
func (b *Breaker) Do(fn func() error) error {
	if !b.acquire() {
		return ErrOpen
	}
	err := fn()
	b.record(err)
	return err
}

func (b *Breaker) acquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.setState(HalfOpen)
		return true
	case HalfOpen:
		// a probe is already in flight
		return false
	default:
		return true
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || (b.ignore != nil && b.ignore(err)) {
		b.failures = 0
		if b.state == HalfOpen {
			b.setState(Closed)
		}
		return
	}

	b.failures++
	if b.state == HalfOpen || b.failures >= b.threshold {
		b.openedAt = b.now()
		b.setState(Open)
	}
}

// setState requires b.mu.
func (b *Breaker) setState(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	breakerState.WithLabelValues(b.name).Set(float64(to))
	b.logger.Warn("upstream circuit changed", "upstream", b.name, "from", from.String(), "to", to.String(), "failures", b.failures)
}
