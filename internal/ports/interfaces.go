// Package ports defines the contracts between the failover core and the
// external systems it reads from and writes to.
//
// Following Hexagonal Architecture principles, the decision engine and the
// controller depend only on these interfaces. Concrete adapters live in
// internal/repository (in-memory) and internal/infrastructure (AWS).
package ports

import (
	"context"

	"github.com/mir00r/region-failover/internal/domain"
)

// ========================================
// SECONDARY (DRIVEN) PORTS
// ========================================

// HealthSnapshotStore supplies the most recent health sample per region.
// Health is computed elsewhere; the store only reports it.
type HealthSnapshotStore interface {
	// GetHealth returns the latest sample for region. A region with no sample
	// returns a snapshot with a zero SampledAt and UNKNOWN state, not an error.
	GetHealth(ctx context.Context, region domain.Region) (domain.HealthSnapshot, error)
}

// OverrideStore reads and writes the operator override directive
type OverrideStore interface {
	// GetOverride returns the raw stored directive. Parsing is the caller's job
	// so malformed values can be reported rather than hidden.
	GetOverride(ctx context.Context) (string, error)

	// SetOverride stores a directive
	SetOverride(ctx context.Context, override domain.Override) error
}

// DNSProvider reads and conditionally rewrites the failover record sets
type DNSProvider interface {
	// Name identifies the provider in logs and errors
	Name() string

	// CurrentAssignment reads the record sets fresh from the provider
	CurrentAssignment(ctx context.Context) (domain.DNSAssignment, error)

	// ApplyAssignment moves both record sets to desired in one batched change.
	// The write is conditional on current.Version; a mismatch returns a
	// DNS_SWAP_CONFLICT error and changes nothing.
	ApplyAssignment(ctx context.Context, current, desired domain.DNSAssignment) (changeID string, err error)
}

// ResultPublisher emits a summary of each decision cycle for operators
type ResultPublisher interface {
	Publish(ctx context.Context, result domain.CycleResult) error
}

// NotificationParser turns a raw inbound notification into an alarm event
type NotificationParser interface {
	Parse(raw []byte) (domain.AlarmEvent, error)
}

// ========================================
// PRIMARY (DRIVING) PORTS
// ========================================

// CycleRunner is what inbound adapters (HTTP, Lambda, reconciler) drive
type CycleRunner interface {
	// HandleNotification parses a raw notification and runs one cycle
	HandleNotification(ctx context.Context, raw []byte) domain.CycleResult

	// RunCycle runs one cycle for an already-parsed event
	RunCycle(ctx context.Context, event domain.AlarmEvent) domain.CycleResult
}

// StatusReader exposes the controller's current view without mutating anything
type StatusReader interface {
	Status(ctx context.Context) (*Status, error)
}

// Status is a point-in-time view of every decision input
type Status struct {
	Assignment domain.DNSAssignment                      `json:"assignment"`
	Override   domain.Override                           `json:"override"`
	Health     map[domain.RegionID]domain.HealthSnapshot `json:"health"`
	Warnings   []domain.CycleWarning                     `json:"warnings,omitempty"`
}

// Evaluator decides without applying, for dry runs
type Evaluator interface {
	Evaluate(ctx context.Context, event domain.AlarmEvent) domain.CycleResult
}

// ReconcileTrigger runs a reconcile cycle on demand. shared reports whether
// the result came from a cycle another caller had already started.
type ReconcileTrigger interface {
	Trigger(ctx context.Context) (result domain.CycleResult, shared bool)
	// Refresh runs a cycle that starts after the call instead of joining one
	// already in flight
	Refresh(ctx context.Context) domain.CycleResult
}

// ResultHistory lists recently published cycle results, newest last
type ResultHistory interface {
	Recent() []domain.CycleResult
}
