package repository

import (
	"context"
	"sync"

	"github.com/mir00r/region-failover/internal/domain"
)

// InMemoryResultStore implements ports.ResultPublisher by keeping the most
// recent cycle results, newest last.
type InMemoryResultStore struct {
	mu      sync.RWMutex
	limit   int
	results []domain.CycleResult
}

// NewInMemoryResultStore creates a store that retains up to limit results
func NewInMemoryResultStore(limit int) *InMemoryResultStore {
	if limit <= 0 {
		limit = 1
	}
	return &InMemoryResultStore{limit: limit}
}

// Publish records result, evicting the oldest when full
func (s *InMemoryResultStore) Publish(_ context.Context, result domain.CycleResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results = append(s.results, result)
	if len(s.results) > s.limit {
		s.results = s.results[len(s.results)-s.limit:]
	}
	return nil
}

// Last returns the newest result
func (s *InMemoryResultStore) Last() (domain.CycleResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.results) == 0 {
		return domain.CycleResult{}, false
	}
	return s.results[len(s.results)-1], true
}

// Recent returns a copy of the retained results, oldest first
func (s *InMemoryResultStore) Recent() []domain.CycleResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]domain.CycleResult(nil), s.results...)
}

// Count returns the number of retained results
func (s *InMemoryResultStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.results)
}
