package vectorstore

import (
	"context"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/kravscan/internal/embeddings"
)

// MemoryStore keeps records in process and searches by brute force.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]Record // standard -> id -> record
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]map[string]Record)}
}

// Upsert implements Store.
func (s *MemoryStore) Upsert(_ context.Context, records []Record) error {
	if err := validateRecords(records); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		byID, ok := s.records[r.Standard]
		if !ok {
			byID = make(map[string]Record)
			s.records[r.Standard] = byID
		}
		byID[r.ID] = r
	}
	return nil
}

// DeleteStandard implements Store.
func (s *MemoryStore) DeleteStandard(_ context.Context, standard string) error {
	s.mu.Lock()
	delete(s.records, standard)
	s.mu.Unlock()
	return nil
}

// Search implements Store.
func (s *MemoryStore) Search(_ context.Context, standard string, vector []float32, k int) ([]Result, error) {
	if len(vector) == 0 {
		return nil, ErrMissingVector
	}
	if k <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	out := make([]Result, 0, len(s.records[standard]))
	for _, r := range s.records[standard] {
		out = append(out, Result{Record: r, Score: embeddings.Cosine(vector, r.Vector)})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
