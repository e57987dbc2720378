package repository

import (
	"context"
	"sync"

	"github.com/mir00r/region-failover/internal/domain"
)

// InMemoryOverrideStore implements ports.OverrideStore using in-memory storage.
// The raw value is kept so malformed directives survive until read.
type InMemoryOverrideStore struct {
	mu  sync.RWMutex
	raw string
	err error
}

// NewInMemoryOverrideStore creates a store holding initial
func NewInMemoryOverrideStore(initial string) *InMemoryOverrideStore {
	return &InMemoryOverrideStore{raw: initial}
}

// GetOverride returns the stored directive
func (s *InMemoryOverrideStore) GetOverride(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.err != nil {
		return "", s.err
	}
	return s.raw, nil
}

// SetOverride stores a parsed directive
func (s *InMemoryOverrideStore) SetOverride(ctx context.Context, override domain.Override) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.SetRaw(string(override))
	return nil
}

// SetRaw stores a directive without parsing it
func (s *InMemoryOverrideStore) SetRaw(raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.raw = raw
}

// FailWith makes reads return err; nil restores normal reads
func (s *InMemoryOverrideStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.err = err
}
