package vector

import (
	"context"
	"math"
	"sync"
)

// MemoryStore is a pure in-memory Store with exact cosine search.
//
// It backs tests and fallback-mode operation; it holds every vector in RAM
// and scans linearly on search.
type MemoryStore struct {
	mu      sync.RWMutex
	name    string
	records map[string]Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(name string) *MemoryStore {
	if name == "" {
		name = "memory"
	}
	return &MemoryStore{
		name:    name,
		records: make(map[string]Record),
	}
}

// Initialize is a no-op for the in-memory store.
func (s *MemoryStore) Initialize(_ context.Context, _ int) error {
	return nil
}

// Upsert adds or replaces records by id.
func (s *MemoryStore) Upsert(_ context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.records[r.ID] = r
	}
	return nil
}

// SearchSimilar scans all records and returns the best matches.
func (s *MemoryStore) SearchSimilar(_ context.Context, vector []float32, opts SearchOptions) ([]Match, error) {
	s.mu.RLock()
	candidates := make([]Match, 0, len(s.records))
	for _, r := range s.records {
		candidates = append(candidates, Match{
			Record: r,
			Score:  normalizeScore(cosineSimilarity(vector, r.Vector)),
		})
	}
	s.mu.RUnlock()

	sortMatches(candidates)
	return filterAndBound(candidates, opts), nil
}

// GetByID fetches a record, or ErrNotFound.
func (s *MemoryStore) GetByID(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

// Delete removes records by id.
func (s *MemoryStore) Delete(_ context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.records, id)
	}
	return nil
}

// Stats reports the record count.
func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{Name: s.name, Count: len(s.records)}, nil
}

// Clear removes every record.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]Record)
	return nil
}

// Name identifies the provider.
func (s *MemoryStore) Name() string {
	return "memory"
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return -1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return -1
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var _ Store = (*MemoryStore)(nil)
