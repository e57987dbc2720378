package repository

import (
	"context"
	"sync"
	"time"

	"github.com/mir00r/region-failover/internal/domain"
)

type healthSample struct {
	value     float64
	sampledAt time.Time
}

// InMemoryHealthStore implements ports.HealthSnapshotStore using in-memory storage.
// Samples are pushed by the admin API, tests, or a local probe script.
type InMemoryHealthStore struct {
	mu        sync.RWMutex
	threshold float64
	samples   map[domain.RegionID]healthSample
	errs      map[domain.RegionID]error
}

// NewInMemoryHealthStore creates a store that classifies values against threshold
func NewInMemoryHealthStore(threshold float64) *InMemoryHealthStore {
	return &InMemoryHealthStore{
		threshold: threshold,
		samples:   make(map[domain.RegionID]healthSample),
		errs:      make(map[domain.RegionID]error),
	}
}

// Record stores a sample for region, replacing any earlier one
func (s *InMemoryHealthStore) Record(region domain.RegionID, value float64, sampledAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples[region] = healthSample{value: value, sampledAt: sampledAt}
}

// Clear removes the sample for region
func (s *InMemoryHealthStore) Clear(region domain.RegionID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.samples, region)
}

// FailWith makes lookups for region return err until cleared with a nil err
func (s *InMemoryHealthStore) FailWith(region domain.RegionID, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil {
		delete(s.errs, region)
		return
	}
	s.errs[region] = err
}

// GetHealth returns the latest sample for region
func (s *InMemoryHealthStore) GetHealth(ctx context.Context, region domain.Region) (domain.HealthSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.HealthSnapshot{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.errs[region.ID]; err != nil {
		return domain.HealthSnapshot{}, err
	}

	sample, ok := s.samples[region.ID]
	if !ok {
		return domain.HealthSnapshot{Region: region.ID, State: domain.HealthUnknown}, nil
	}

	value := sample.value
	return domain.HealthSnapshot{
		Region:    region.ID,
		State:     domain.ClassifyValue(value, s.threshold),
		Value:     &value,
		SampledAt: sample.sampledAt,
	}, nil
}
