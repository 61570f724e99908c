// Package ledger keeps the bounded, per-session history of detected threats
// together with the running counters shown on the dashboard.
//
// Append is atomic with respect to readers: a reader never sees the new entry
// without the matching counters, or the counters without the entry.
package ledger

import (
	"math"
	"sync"
	"time"

	"github.com/mbd888/mevguard/internal/threat"
)

// DefaultCapacity is the number of threats kept per session.
const DefaultCapacity = 50

// Stats are the counters reported alongside the history.
//
// TotalDetected, SandwichAttacks, FrontRuns and TotalSlippageRisk are
// cumulative for the life of the ledger. AvgRiskScore describes the retained
// window only.
type Stats struct {
	TotalDetected     int64   `json:"totalDetected"`
	SandwichAttacks   int64   `json:"sandwichAttacks"`
	FrontRuns         int64   `json:"frontRuns"`
	TotalSlippageRisk float64 `json:"totalSlippageRisk"`
	AvgRiskScore      float64 `json:"avgRiskScore"`
}

// Snapshot is a consistent view of history and counters.
type Snapshot struct {
	Threats []*threat.Threat `json:"recentThreats"`
	Stats   Stats            `json:"stats"`
	Size    int              `json:"size"` // retained entries, not len(Threats)
}

// Ledger is a fixed-capacity FIFO of threats. Safe for concurrent use.
type Ledger struct {
	mu       sync.RWMutex
	capacity int
	entries  []*threat.Threat
	stats    Stats
	slippage float64 // unrounded cumulative slippage
}

// New creates a ledger holding at most capacity threats.
// Non-positive capacities fall back to DefaultCapacity.
func New(capacity int) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ledger{
		capacity: capacity,
		entries:  make([]*threat.Threat, 0, capacity),
	}
}

// Capacity returns the maximum number of retained threats.
func (l *Ledger) Capacity() int {
	return l.capacity
}

// Append records t, evicting the oldest entry when full.
func (l *Ledger) Append(t *threat.Threat) {
	if t == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	evicted := false
	if len(l.entries) == l.capacity {
		copy(l.entries, l.entries[1:])
		l.entries[len(l.entries)-1] = t
		evicted = true
	} else {
		l.entries = append(l.entries, t)
	}

	l.stats.TotalDetected++
	switch t.Type {
	case threat.TypeSandwich:
		l.stats.SandwichAttacks++
	case threat.TypeFrontRunning:
		l.stats.FrontRuns++
	}
	l.slippage += t.SlippageEstimatePercent
	l.stats.TotalSlippageRisk = round2(l.slippage)
	l.recomputeLocked()

	if evicted {
		evictionsTotal.Inc()
	}
}

func (l *Ledger) recomputeLocked() {
	var riskSum float64
	for _, e := range l.entries {
		riskSum += float64(e.Risk)
	}
	if n := len(l.entries); n > 0 {
		l.stats.AvgRiskScore = round2(riskSum / float64(n))
	} else {
		l.stats.AvgRiskScore = 0
	}
}

// Recent returns up to n of the newest threats, oldest first.
// n <= 0 returns the whole window.
func (l *Ledger) Recent(n int) []*threat.Threat {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.recentLocked(n)
}

func (l *Ledger) recentLocked(n int) []*threat.Threat {
	start := 0
	if n > 0 && n < len(l.entries) {
		start = len(l.entries) - n
	}
	out := make([]*threat.Threat, len(l.entries)-start)
	copy(out, l.entries[start:])
	return out
}

// Stats returns the current counters.
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stats
}

// Len returns the number of retained threats.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Snapshot returns the newest n threats and the counters under one lock.
func (l *Ledger) Snapshot(n int) Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Snapshot{Threats: l.recentLocked(n), Stats: l.stats, Size: len(l.entries)}
}

// CountSince returns how many retained threats were detected at or after since.
func (l *Ledger) CountSince(since time.Time) int {
	cutoff := since.UnixMilli()

	l.mu.RLock()
	defer l.mu.RUnlock()

	count := 0
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Timestamp < cutoff {
			break
		}
		count++
	}
	return count
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
