package detection

import (
	"context"
	"strings"
	"sync"

	"github.com/mbd888/mevguard/internal/threat"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
// Unlike the session ledger it is unbounded.
type MemoryStore struct {
	mu      sync.RWMutex
	threats map[string][]*threat.Threat // lowercased contract → threats, oldest first
}

// NewMemoryStore creates an in-memory threat archive.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threats: make(map[string][]*threat.Threat)}
}

func (s *MemoryStore) Save(ctx context.Context, t *threat.Threat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *t
	key := strings.ToLower(t.ContractAddress)
	s.threats[key] = append(s.threats[key], &cp)
	return nil
}

func (s *MemoryStore) ListByContract(ctx context.Context, contractAddress string, limit int) ([]*threat.Threat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.threats[strings.ToLower(contractAddress)]
	start := len(all) - limit
	if start < 0 || limit <= 0 {
		start = 0
	}

	result := make([]*threat.Threat, 0, len(all)-start)
	for i := len(all) - 1; i >= start; i-- {
		cp := *all[i]
		result = append(result, &cp)
	}
	return result, nil
}
