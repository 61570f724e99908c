// Package health runs named subsystem checks (database, RPC node, detection
// sessions) and reports an aggregate status.
package health

import (
	"context"
	"sync"
	"time"
)

// Status is the outcome of one check.
type Status struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Detail    string `json:"detail,omitempty"`
	LatencyMs int64  `json:"latencyMs"`
}

// Checker probes one subsystem. It should return promptly once ctx is done.
type Checker func(ctx context.Context) Status

// Registry holds named checks. Checks run concurrently; results keep
// registration order.
type Registry struct {
	mu     sync.RWMutex
	names  []string
	checks []Checker
}

// NewRegistry creates an empty registry. An empty registry is healthy.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a check. The registered name overrides whatever the checker
// reports.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	r.names = append(r.names, name)
	r.checks = append(r.checks, check)
	r.mu.Unlock()
}

// CheckAll runs every check and reports whether all of them passed.
func (r *Registry) CheckAll(ctx context.Context) (bool, []Status) {
	r.mu.RLock()
	names := append([]string(nil), r.names...)
	checks := append([]Checker(nil), r.checks...)
	r.mu.RUnlock()

	statuses := make([]Status, len(checks))
	var wg sync.WaitGroup
	for i := range checks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start := time.Now()
			st := checks[i](ctx)
			st.Name = names[i]
			st.LatencyMs = time.Since(start).Milliseconds()
			statuses[i] = st
		}(i)
	}
	wg.Wait()

	healthy := true
	for _, st := range statuses {
		healthy = healthy && st.Healthy
	}
	return healthy, statuses
}
