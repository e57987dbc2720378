package repository

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/mir00r/region-failover/internal/domain"
	"github.com/mir00r/region-failover/internal/errors"
)

// InMemoryDNSProvider implements ports.DNSProvider over an in-memory record
// pair. Every applied change bumps a generation counter, which is the version
// token handed to callers.
type InMemoryDNSProvider struct {
	mu         sync.Mutex
	records    []domain.RecordSet
	generation uint64
	changes    uint64

	// failures queued by FailNext, returned by ApplyAssignment in order
	failures []error

	// beforeApply runs inside ApplyAssignment before the version check
	beforeApply func()
}

// NewInMemoryDNSProvider creates a provider whose record pair has primary LIVE
func NewInMemoryDNSProvider(recordName, recordType string, primary, secondary domain.Region) *InMemoryDNSProvider {
	return &InMemoryDNSProvider{
		records: []domain.RecordSet{
			newRecord(recordName, recordType, primary, domain.RoleLive),
			newRecord(recordName, recordType, secondary, domain.RoleStandby),
		},
		generation: 1,
	}
}

func newRecord(name, recordType string, region domain.Region, role domain.Role) domain.RecordSet {
	return domain.RecordSet{
		Name:          name,
		Type:          recordType,
		SetIdentifier: region.SetIdentifier,
		Region:        region.ID,
		Role:          role,
		Alias:         region.Alias,
	}
}

// Name identifies the provider
func (p *InMemoryDNSProvider) Name() string {
	return "memory"
}

// CurrentAssignment returns a copy of the stored record pair
func (p *InMemoryDNSProvider) CurrentAssignment(ctx context.Context) (domain.DNSAssignment, error) {
	if err := ctx.Err(); err != nil {
		return domain.DNSAssignment{}, errors.NewProviderError(p.Name(), true, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.snapshotLocked()
}

// ApplyAssignment stores desired if current.Version matches the stored generation
func (p *InMemoryDNSProvider) ApplyAssignment(ctx context.Context, current, desired domain.DNSAssignment) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.NewProviderError(p.Name(), true, err)
	}
	if err := desired.Validate(); err != nil {
		return "", errors.WrapError(err, errors.ErrCodeZoneInconsistent, "dns", "desired assignment is invalid")
	}

	p.mu.Lock()
	hook := p.beforeApply
	p.mu.Unlock()
	if hook != nil {
		hook()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.failures) > 0 {
		err := p.failures[0]
		p.failures = p.failures[1:]
		return "", err
	}

	if current.Version != p.versionLocked() {
		return "", errors.NewSwapConflictError(current.Version,
			fmt.Errorf("stored version is %s", p.versionLocked()))
	}

	next := make([]domain.RecordSet, len(p.records))
	for i, rec := range p.records {
		rec.Role = desired.RoleOf(rec.Region)
		next[i] = rec
	}
	p.records = next
	p.generation++
	p.changes++

	return fmt.Sprintf("mem-change-%d", p.changes), nil
}

// SetLive moves LIVE to region outside of any decision cycle, as an operator
// editing the zone by hand would. The version changes.
func (p *InMemoryDNSProvider) SetLive(region domain.RegionID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.records {
		p.records[i].Role = domain.RoleStandby
		if p.records[i].Region == region {
			p.records[i].Role = domain.RoleLive
		}
	}
	p.generation++
}

// SetRecords replaces the stored records verbatim, including invalid states
func (p *InMemoryDNSProvider) SetRecords(records []domain.RecordSet) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.records = append([]domain.RecordSet(nil), records...)
	p.generation++
}

// FailNext queues errors returned by the next ApplyAssignment calls
func (p *InMemoryDNSProvider) FailNext(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failures = append(p.failures, errs...)
}

// BeforeApply installs a hook run at the start of every ApplyAssignment
func (p *InMemoryDNSProvider) BeforeApply(hook func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.beforeApply = hook
}

// ChangeCount returns how many changes were applied
func (p *InMemoryDNSProvider) ChangeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return int(p.changes)
}

func (p *InMemoryDNSProvider) versionLocked() string {
	return "gen-" + strconv.FormatUint(p.generation, 10)
}

func (p *InMemoryDNSProvider) snapshotLocked() (domain.DNSAssignment, error) {
	records := append([]domain.RecordSet(nil), p.records...)
	assignment, err := domain.AssignmentFromRecords(records)
	if err != nil {
		return domain.DNSAssignment{}, errors.WrapError(err, errors.ErrCodeZoneInconsistent, "dns", "record sets are inconsistent")
	}
	assignment.Version = p.versionLocked()
	return assignment, nil
}
