package risk

import (
	"context"
	"sort"
	"sync"

	"github.com/mbd888/mevguard/internal/pagination"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]*Record // contractAddress → records, oldest first
}

// NewMemoryStore creates an in-memory assessment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string][]*Record),
	}
}

func (s *MemoryStore) Record(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.ContractAddress] = append(s.records[rec.ContractAddress], cloneRecord(rec))
	return nil
}

func (s *MemoryStore) ListByContract(ctx context.Context, contractAddress string, before *pagination.Cursor, limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.records[contractAddress]
	if len(all) == 0 {
		return nil, nil
	}

	var result []*Record
	for _, rec := range all {
		if before.Follows(rec.EvaluatedAt, rec.ID) {
			result = append(result, rec)
		}
	}

	// Most recent first, ties broken by id, up to limit
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].EvaluatedAt.Equal(result[j].EvaluatedAt) {
			return result[i].EvaluatedAt.After(result[j].EvaluatedAt)
		}
		return result[i].ID > result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	for i, rec := range result {
		result[i] = cloneRecord(rec)
	}
	return result, nil
}

func cloneRecord(rec *Record) *Record {
	r := *rec
	r.Warnings = append([]string(nil), rec.Warnings...)
	return &r
}
