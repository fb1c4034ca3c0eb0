package ratelimit

import (
	"context"
	"sync"
	"time"
)

// usageRecord tracks one client's count in its current window.
type usageRecord struct {
	Count     int64
	WindowEnd time.Time
}

// MemoryStore is an in-memory Store for single-instance deployments.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]*usageRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]*usageRecord)}
}

// Increment implements Store. A record from an earlier window is reset.
func (s *MemoryStore) Increment(_ context.Context, client string, windowEnd time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.data[client]
	if !ok || !record.WindowEnd.Equal(windowEnd) {
		record = &usageRecord{WindowEnd: windowEnd}
		s.data[client] = record
	}
	record.Count++
	return record.Count, nil
}

// Cleanup implements Store.
func (s *MemoryStore) Cleanup(_ context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for client, record := range s.data {
		if record.WindowEnd.Before(now) {
			delete(s.data, client)
		}
	}
	return nil
}

// Len returns the number of tracked clients.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}
