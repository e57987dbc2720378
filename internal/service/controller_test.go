package service

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mir00r/region-failover/internal/domain"
	"github.com/mir00r/region-failover/internal/errors"
	"github.com/mir00r/region-failover/internal/notification"
	"github.com/mir00r/region-failover/internal/repository"
	"github.com/mir00r/region-failover/pkg/logger"
)

var testNow = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

type harness struct {
	health    *repository.InMemoryHealthStore
	overrides *repository.InMemoryOverrideStore
	dns       *repository.InMemoryDNSProvider
	results   *repository.InMemoryResultStore
	metrics   *Metrics
	ctrl      *Controller
}

func newHarness(t *testing.T, maxAttempts int) *harness {
	t.Helper()
	primary, secondary := testRegions()

	h := &harness{
		health:    repository.NewInMemoryHealthStore(0.5),
		overrides: repository.NewInMemoryOverrideStore("AUTO"),
		dns:       repository.NewInMemoryDNSProvider("app.example.com.", "A", primary, secondary),
		results:   repository.NewInMemoryResultStore(50),
		metrics:   NewMetrics(),
	}
	h.ctrl = NewController(ControllerDeps{
		Health:    h.health,
		Overrides: h.overrides,
		DNS:       h.dns,
		Parser:    notification.NewParser(primary, secondary, nil, "Region"),
		Publisher: h.results,
		Metrics:   h.metrics,
	}, ControllerOptions{
		Regions:         []domain.Region{primary, secondary},
		StalenessWindow: 5 * time.Minute,
		CallTimeout:     time.Second,
		MaxAttempts:     maxAttempts,
		InitialBackoff:  time.Millisecond,
		MaxBackoff:      5 * time.Millisecond,
		Now:             func() time.Time { return testNow },
	}, logger.NewNop())
	return h
}

func (h *harness) setHealth(primary, secondary float64) {
	h.health.Record(domain.RegionPrimary, primary, testNow.Add(-time.Minute))
	h.health.Record(domain.RegionSecondary, secondary, testNow.Add(-time.Minute))
}

func (h *harness) live(t *testing.T) domain.RegionID {
	t.Helper()
	a, err := h.dns.CurrentAssignment(context.Background())
	require.NoError(t, err)
	return a.Live
}

func TestPrimaryAlarmFailsOverToHealthySecondary(t *testing.T) {
	h := newHarness(t, 3)
	h.setHealth(0, 1)

	result := h.ctrl.RunCycle(context.Background(), alarm(domain.RegionPrimary, domain.AlarmStateAlarm))

	require.False(t, result.Failed(), result.Error)
	assert.Equal(t, domain.SwitchTo(domain.RegionSecondary, "LIVE region primary in ALARM"), result.Decision)
	assert.True(t, result.Swap.Applied)
	assert.Equal(t, domain.RegionPrimary, result.Before.Live)
	assert.Equal(t, domain.RegionSecondary, h.live(t))
	assert.Equal(t, 1, result.Attempts)
	assert.NotEmpty(t, result.CycleID)

	last, ok := h.results.Last()
	require.True(t, ok)
	assert.Equal(t, result.CycleID, last.CycleID)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SwapsTotal.WithLabelValues("secondary")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.LiveRegion.WithLabelValues("secondary")))
}

func TestPrimaryAlarmBlockedWhenSecondaryUnhealthy(t *testing.T) {
	h := newHarness(t, 3)
	h.setHealth(0, 0.2)

	result := h.ctrl.RunCycle(context.Background(), alarm(domain.RegionPrimary, domain.AlarmStateAlarm))

	assert.False(t, result.Failed())
	assert.Equal(t, domain.OutcomeBlocked, result.Decision.Outcome)
	assert.False(t, result.Swap.Applied)
	assert.Equal(t, domain.RegionPrimary, h.live(t))
	assert.Equal(t, 0, h.dns.ChangeCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.CyclesTotal.WithLabelValues("notification", "BLOCKED")))
}

func TestStaleSecondarySampleBlocksFailover(t *testing.T) {
	h := newHarness(t, 3)
	h.health.Record(domain.RegionPrimary, 0, testNow.Add(-time.Minute))
	h.health.Record(domain.RegionSecondary, 1, testNow.Add(-10*time.Minute))

	result := h.ctrl.RunCycle(context.Background(), alarm(domain.RegionPrimary, domain.AlarmStateAlarm))

	assert.Equal(t, domain.OutcomeBlocked, result.Decision.Outcome)
	assert.Equal(t, domain.HealthUnknown, result.Health[domain.RegionSecondary].State)
	assert.True(t, result.Health[domain.RegionSecondary].Stale)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, string(errors.ErrCodeStaleHealthData), result.Warnings[0].Code)
}

func TestRecoveryFailsBack(t *testing.T) {
	h := newHarness(t, 3)
	h.setHealth(1, 1)
	h.dns.SetLive(domain.RegionSecondary)

	result := h.ctrl.RunCycle(context.Background(), alarm(domain.RegionPrimary, domain.AlarmStateOK))

	assert.Equal(t, domain.OutcomeSwitchTo, result.Decision.Outcome)
	assert.Equal(t, domain.RegionPrimary, h.live(t))
}

func TestForcedOverrideIgnoresHealth(t *testing.T) {
	h := newHarness(t, 3)
	h.dns.SetLive(domain.RegionSecondary)
	h.overrides.SetRaw("FORCE_PRIMARY")

	result := h.ctrl.RunCycle(context.Background(), alarm(domain.RegionSecondary, domain.AlarmStateOK))

	assert.Equal(t, domain.OverrideForcePrimary, result.Override)
	assert.Equal(t, domain.SwitchTo(domain.RegionPrimary, "override FORCE_PRIMARY"), result.Decision)
	assert.Equal(t, domain.RegionPrimary, h.live(t))
}

func TestMalformedOverrideFallsBackToAuto(t *testing.T) {
	h := newHarness(t, 3)
	h.setHealth(0, 1)
	h.overrides.SetRaw("FORCE_SIDEWAYS")

	result := h.ctrl.RunCycle(context.Background(), alarm(domain.RegionPrimary, domain.AlarmStateAlarm))

	assert.Equal(t, domain.OverrideAuto, result.Override)
	assert.Equal(t, domain.OutcomeSwitchTo, result.Decision.Outcome)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, string(errors.ErrCodeAmbiguousOverride), result.Warnings[0].Code)
}

func TestUnreadableOverrideFallsBackToAuto(t *testing.T) {
	h := newHarness(t, 3)
	h.setHealth(1, 1)
	h.overrides.FailWith(stderrors.New("parameter store unreachable"))

	result := h.ctrl.RunCycle(context.Background(), alarm(domain.RegionSecondary, domain.AlarmStateOK))

	assert.False(t, result.Failed())
	assert.Equal(t, domain.OverrideAuto, result.Override)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, string(errors.ErrCodeOverrideUnavailable), result.Warnings[0].Code)
}

func TestHealthLookupFailureIsUnknown(t *testing.T) {
	h := newHarness(t, 3)
	h.setHealth(0, 1)
	h.health.FailWith(domain.RegionSecondary, stderrors.New("metrics api down"))

	result := h.ctrl.RunCycle(context.Background(), alarm(domain.RegionPrimary, domain.AlarmStateAlarm))

	assert.Equal(t, domain.OutcomeBlocked, result.Decision.Outcome)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, string(errors.ErrCodeHealthLookupFailed), result.Warnings[0].Code)
}

func TestConflictRestartsWholeCycle(t *testing.T) {
	h := newHarness(t, 3)
	h.setHealth(0, 1)

	// another writer moves LIVE to secondary just before our first write
	var once sync.Once
	h.dns.BeforeApply(func() {
		once.Do(func() { h.dns.SetLive(domain.RegionSecondary) })
	})

	result := h.ctrl.RunCycle(context.Background(), alarm(domain.RegionPrimary, domain.AlarmStateAlarm))

	require.False(t, result.Failed(), result.Error)
	assert.Equal(t, 2, result.Attempts)
	// the second attempt re-read the assignment and found nothing to do
	assert.Equal(t, domain.RegionSecondary, result.Before.Live)
	assert.Equal(t, domain.OutcomeNoChange, result.Decision.Outcome)
	assert.Equal(t, 0, h.dns.ChangeCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RetriesTotal.WithLabelValues("DNS_SWAP_CONFLICT")))
}

func TestTransientProviderErrorIsRetried(t *testing.T) {
	h := newHarness(t, 3)
	h.setHealth(0, 1)
	h.dns.FailNext(errors.NewProviderError("memory", true, stderrors.New("throttled")))

	result := h.ctrl.RunCycle(context.Background(), alarm(domain.RegionPrimary, domain.AlarmStateAlarm))

	require.False(t, result.Failed(), result.Error)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, domain.RegionSecondary, h.live(t))
}

func TestRetriesExhaustedFailsCycle(t *testing.T) {
	h := newHarness(t, 2)
	h.setHealth(0, 1)
	throttled := errors.NewProviderError("memory", true, stderrors.New("throttled"))
	h.dns.FailNext(throttled, throttled, throttled)

	result := h.ctrl.RunCycle(context.Background(), alarm(domain.RegionPrimary, domain.AlarmStateAlarm))

	assert.True(t, result.Failed())
	assert.Equal(t, string(errors.ErrCodeDNSProviderError), result.ErrorCode)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, domain.RegionPrimary, h.live(t))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.CyclesTotal.WithLabelValues("notification", "FAILED")))
}

func TestPermanentProviderErrorIsNotRetried(t *testing.T) {
	h := newHarness(t, 5)
	h.setHealth(0, 1)
	h.dns.FailNext(stderrors.New("access denied"))

	result := h.ctrl.RunCycle(context.Background(), alarm(domain.RegionPrimary, domain.AlarmStateAlarm))

	assert.True(t, result.Failed())
	assert.Equal(t, 1, result.Attempts)
}

func TestInconsistentZoneFailsCycle(t *testing.T) {
	h := newHarness(t, 3)
	h.setHealth(0, 1)
	h.dns.SetRecords([]domain.RecordSet{
		{SetIdentifier: "east", Region: domain.RegionPrimary, Role: domain.RoleLive},
		{SetIdentifier: "west", Region: domain.RegionSecondary, Role: domain.RoleLive},
	})

	result := h.ctrl.RunCycle(context.Background(), alarm(domain.RegionPrimary, domain.AlarmStateAlarm))

	assert.True(t, result.Failed())
	assert.Equal(t, string(errors.ErrCodeZoneInconsistent), result.ErrorCode)
	assert.Equal(t, 1, result.Attempts)
}

func TestHandleNotification(t *testing.T) {
	h := newHarness(t, 3)
	h.setHealth(0, 1)

	result := h.ctrl.HandleNotification(context.Background(),
		[]byte(`{"AlarmName":"RegionDown-us-east-1-example.com","NewStateValue":"ALARM"}`))

	require.False(t, result.Failed(), result.Error)
	assert.Equal(t, domain.RegionPrimary, result.Event.SourceRegion)
	assert.Equal(t, domain.RegionSecondary, h.live(t))
}

func TestHandleNotificationRejectsGarbage(t *testing.T) {
	h := newHarness(t, 3)

	result := h.ctrl.HandleNotification(context.Background(), []byte("not json"))

	assert.True(t, result.Failed())
	assert.Equal(t, string(errors.ErrCodeInvalidNotification), result.ErrorCode)
	assert.Equal(t, 1, h.results.Count())
}

func TestUnresolvedRegionIsNoChange(t *testing.T) {
	h := newHarness(t, 3)
	h.setHealth(0, 1)

	result := h.ctrl.HandleNotification(context.Background(),
		[]byte(`{"AlarmName":"disk-full","NewStateValue":"ALARM"}`))

	assert.False(t, result.Failed())
	assert.Equal(t, domain.OutcomeNoChange, result.Decision.Outcome)
	assert.Contains(t, result.Decision.Reason, "unknown region")
}

func TestRepeatedNotificationIsIdempotent(t *testing.T) {
	h := newHarness(t, 3)
	h.setHealth(0, 1)
	event := alarm(domain.RegionPrimary, domain.AlarmStateAlarm)

	first := h.ctrl.RunCycle(context.Background(), event)
	second := h.ctrl.RunCycle(context.Background(), event)

	assert.Equal(t, domain.OutcomeSwitchTo, first.Decision.Outcome)
	assert.Equal(t, domain.OutcomeNoChange, second.Decision.Outcome)
	assert.Equal(t, 1, h.dns.ChangeCount())
}

func TestConcurrentOppositeSwitchesKeepOneLive(t *testing.T) {
	h := newHarness(t, 10)
	h.setHealth(1, 1)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.ctrl.RunCycle(context.Background(), alarm(domain.RegionPrimary, domain.AlarmStateAlarm))
		}()
		go func() {
			defer wg.Done()
			h.ctrl.RunCycle(context.Background(), alarm(domain.RegionSecondary, domain.AlarmStateAlarm))
		}()
	}
	wg.Wait()

	a, err := h.dns.CurrentAssignment(context.Background())
	require.NoError(t, err)
	require.NoError(t, a.Validate())

	live := 0
	for _, rec := range a.Records {
		if rec.Role == domain.RoleLive {
			live++
		}
	}
	assert.Equal(t, 1, live)

	for _, r := range h.results.Recent() {
		assert.NotEqual(t, string(errors.ErrCodeZoneInconsistent), r.ErrorCode)
	}
}

func TestEvaluateDoesNotSwap(t *testing.T) {
	h := newHarness(t, 3)
	h.setHealth(0, 1)

	result := h.ctrl.Evaluate(context.Background(), alarm(domain.RegionPrimary, domain.AlarmStateAlarm))

	assert.Equal(t, domain.OutcomeSwitchTo, result.Decision.Outcome)
	assert.True(t, result.Swap.NoOp)
	assert.Equal(t, domain.RegionPrimary, h.live(t))
	assert.Equal(t, 0, h.results.Count())
}

func TestStatus(t *testing.T) {
	h := newHarness(t, 3)
	h.setHealth(1, 0)
	h.overrides.SetRaw("force-secondary")

	status, err := h.ctrl.Status(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.RegionPrimary, status.Assignment.Live)
	assert.Equal(t, domain.OverrideForceSecondary, status.Override)
	assert.Equal(t, domain.HealthHealthy, status.Health[domain.RegionPrimary].State)
	assert.Equal(t, domain.HealthUnhealthy, status.Health[domain.RegionSecondary].State)
}
