package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mir00r/region-failover/internal/domain"
	"github.com/mir00r/region-failover/internal/errors"
	"github.com/mir00r/region-failover/internal/ports"
	"github.com/mir00r/region-failover/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// HealthChecker reads the latest health sample for both regions and applies
// the staleness window. Lookup failures and stale samples degrade to UNKNOWN.
type HealthChecker struct {
	store           ports.HealthSnapshotStore
	regions         []domain.Region
	stalenessWindow time.Duration
	callTimeout     time.Duration
	now             func() time.Time
	logger          *logger.Logger
}

// HealthReport is the outcome of one health read
type HealthReport struct {
	Snapshots map[domain.RegionID]domain.HealthSnapshot
	Warnings  []domain.CycleWarning
	// Err is the first lookup failure. The read itself never fails; the
	// affected region is UNKNOWN.
	Err error
}

// View returns the classified state per region
func (r HealthReport) View() HealthView {
	view := make(HealthView, len(r.Snapshots))
	for id, snap := range r.Snapshots {
		view[id] = snap.State
	}
	return view
}

// NewHealthChecker creates a new health checker instance
func NewHealthChecker(store ports.HealthSnapshotStore, regions []domain.Region, stalenessWindow, callTimeout time.Duration, log *logger.Logger) *HealthChecker {
	return &HealthChecker{
		store:           store,
		regions:         regions,
		stalenessWindow: stalenessWindow,
		callTimeout:     callTimeout,
		now:             time.Now,
		logger:          log.WithField("component", "health_checker"),
	}
}

// Check reads both regions concurrently, each under its own timeout
func (hc *HealthChecker) Check(ctx context.Context) HealthReport {
	report := HealthReport{Snapshots: make(map[domain.RegionID]domain.HealthSnapshot, len(hc.regions))}
	var mu sync.Mutex

	var g errgroup.Group
	for _, region := range hc.regions {
		region := region
		g.Go(func() error {
			snap, warning, err := hc.checkRegion(ctx, region)

			mu.Lock()
			defer mu.Unlock()
			report.Snapshots[region.ID] = snap
			if warning != nil {
				report.Warnings = append(report.Warnings, *warning)
			}
			return err
		})
	}
	// a plain group runs every lookup to completion even after one fails
	report.Err = g.Wait()

	sort.Slice(report.Warnings, func(i, j int) bool {
		return report.Warnings[i].Message < report.Warnings[j].Message
	})
	return report
}

func (hc *HealthChecker) checkRegion(ctx context.Context, region domain.Region) (domain.HealthSnapshot, *domain.CycleWarning, error) {
	log := hc.logger.WithField("region", region.ID).WithField("label", region.Label)

	callCtx, cancel := context.WithTimeout(ctx, hc.callTimeout)
	defer cancel()

	start := time.Now()
	snap, err := hc.store.GetHealth(callCtx, region)
	if err != nil {
		log.WithError(err).WithField("duration_ms", time.Since(start).Milliseconds()).
			Warn("Health lookup failed, treating region as UNKNOWN")
		warning := &domain.CycleWarning{
			Code:    string(errors.ErrCodeHealthLookupFailed),
			Message: fmt.Sprintf("%s health lookup failed: %v", region.ID, err),
		}
		err = errors.WrapError(err, errors.ErrCodeHealthLookupFailed, "health_checker",
			fmt.Sprintf("%s health lookup failed", region.ID))
		return domain.HealthSnapshot{Region: region.ID, State: domain.HealthUnknown}, warning, err
	}
	snap.Region = region.ID

	if snap.SampledAt.IsZero() {
		snap.State = domain.HealthUnknown
		log.Debug("No health sample available")
		return snap, nil, nil
	}

	if snap.IsStale(hc.now(), hc.stalenessWindow) {
		age := hc.now().Sub(snap.SampledAt).Round(time.Second)
		snap.State = domain.HealthUnknown
		snap.Stale = true
		log.WithField("age", age.String()).Warn("Health sample is stale, treating region as UNKNOWN")
		return snap, &domain.CycleWarning{
			Code:    string(errors.ErrCodeStaleHealthData),
			Message: fmt.Sprintf("%s health sample is %s old (window %s)", region.ID, age, hc.stalenessWindow),
		}, nil
	}

	log.WithField("state", snap.State.String()).Debug("Health sample read")
	return snap, nil, nil
}
