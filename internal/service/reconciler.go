package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/mir00r/region-failover/internal/domain"
	"github.com/mir00r/region-failover/pkg/logger"
)

// ReconcileEvent synthesises the event a reconcile cycle runs with, as if the
// alarm matching the current state had just fired:
//   - LIVE region UNHEALTHY acts as ALARM on that region
//   - secondary LIVE with primary HEALTHY acts as primary OK
//   - anything else acts as OK on the LIVE region, which never switches
//
// A forcing override is applied by the engine regardless of the event.
func ReconcileEvent(health HealthView, current domain.DNSAssignment, now time.Time) domain.AlarmEvent {
	event := domain.AlarmEvent{
		Kind:         domain.EventKindReconcile,
		SourceRegion: current.Live,
		AlarmName:    "reconcile",
		NewState:     domain.AlarmStateOK,
		Timestamp:    now,
	}

	switch {
	case health[current.Live] == domain.HealthUnhealthy:
		event.NewState = domain.AlarmStateAlarm
	case current.Live == domain.RegionSecondary && health[domain.RegionPrimary] == domain.HealthHealthy:
		event.SourceRegion = domain.RegionPrimary
	}
	return event
}

// Reconcile runs one cycle with an event derived from current state
func (c *Controller) Reconcile(ctx context.Context) domain.CycleResult {
	report := c.health.Check(ctx)

	current, err := c.readAssignment(ctx)
	if err != nil {
		result := domain.CycleResult{
			CycleID:   uuid.NewString(),
			Event:     domain.AlarmEvent{Kind: domain.EventKindReconcile, Timestamp: c.now()},
			Health:    report.Snapshots,
			Warnings:  report.Warnings,
			StartedAt: c.now(),
			Attempts:  1,
		}
		c.fail(&result, err)
		c.logger.WithError(err).Error("Reconcile could not read DNS assignment")
		c.finish(ctx, &result)
		return result
	}

	return c.RunCycle(ctx, ReconcileEvent(report.View(), current, c.now()))
}

const reconcileKey = "reconcile"

// Reconciler periodically re-evaluates the assignment so that an override or
// a missed notification takes effect without waiting for the next alarm.
type Reconciler struct {
	controller *Controller
	interval   time.Duration
	metrics    *Metrics
	group      singleflight.Group
	logger     *logger.Logger
	stopChan   chan struct{}
	wg         sync.WaitGroup
	isRunning  bool
	mu         sync.Mutex
}

// NewReconciler creates a reconciler that ticks every interval
func NewReconciler(controller *Controller, interval time.Duration, metrics *Metrics, log *logger.Logger) *Reconciler {
	return &Reconciler{
		controller: controller,
		interval:   interval,
		metrics:    metrics,
		logger:     log.ReconcilerLogger(),
		stopChan:   make(chan struct{}),
	}
}

// Trigger runs a reconcile cycle. Callers arriving while one is in flight
// share its result; shared reports whether that happened.
func (r *Reconciler) Trigger(ctx context.Context) (result domain.CycleResult, shared bool) {
	v, _, shared := r.group.Do(reconcileKey, func() (interface{}, error) {
		return r.controller.Reconcile(ctx), nil
	})
	if shared && r.metrics != nil {
		r.metrics.ReconcileSkips.Inc()
	}
	return v.(domain.CycleResult), shared
}

// Refresh runs a reconcile cycle that starts after the call, so it observes
// any write made just before it. A cycle already in flight is not joined;
// Trigger callers arriving later join the new one.
func (r *Reconciler) Refresh(ctx context.Context) domain.CycleResult {
	r.group.Forget(reconcileKey)
	result, _ := r.Trigger(ctx)
	return result
}

// Start launches the ticker loop
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isRunning {
		return fmt.Errorf("reconciler is already running")
	}
	if r.interval <= 0 {
		return fmt.Errorf("reconcile interval must be positive")
	}

	r.isRunning = true
	r.logger.Infof("Starting reconciler with interval %v", r.interval)

	r.wg.Add(1)
	go r.loop(ctx, r.stopChan)
	return nil
}

// Stop stops the loop and waits for an in-flight cycle to finish
func (r *Reconciler) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isRunning {
		return nil
	}

	r.logger.Info("Stopping reconciler")
	close(r.stopChan)
	r.wg.Wait()
	r.isRunning = false
	r.stopChan = make(chan struct{})

	r.logger.Info("Reconciler stopped")
	return nil
}

// IsRunning reports whether the loop is active
func (r *Reconciler) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isRunning
}

func (r *Reconciler) loop(ctx context.Context, stop <-chan struct{}) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("Reconciler context cancelled")
			return
		case <-stop:
			return
		case <-ticker.C:
			result, _ := r.Trigger(ctx)
			r.logger.WithFields(map[string]interface{}{
				"cycle_id": result.CycleID,
				"decision": result.Decision.String(),
				"error":    result.Error,
			}).Debug("Reconcile tick finished")
		}
	}
}
