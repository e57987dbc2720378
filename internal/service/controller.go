package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mir00r/region-failover/internal/domain"
	"github.com/mir00r/region-failover/internal/errors"
	"github.com/mir00r/region-failover/internal/ports"
	"github.com/mir00r/region-failover/pkg/logger"
)

const tracerName = "github.com/mir00r/region-failover/internal/service"

// ControllerDeps are the collaborators a Controller drives
type ControllerDeps struct {
	Health    ports.HealthSnapshotStore
	Overrides ports.OverrideStore
	DNS       ports.DNSProvider
	Parser    ports.NotificationParser
	Publisher ports.ResultPublisher // optional
	Metrics   *Metrics              // optional
}

// ControllerOptions bound the work of one cycle
type ControllerOptions struct {
	Regions         []domain.Region
	StalenessWindow time.Duration
	CallTimeout     time.Duration
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	// Now overrides the clock used for staleness checks
	Now func() time.Time
}

// Controller runs decision cycles. It keeps no state between cycles; every
// attempt re-reads health, override and the DNS assignment.
type Controller struct {
	health    *HealthChecker
	overrides ports.OverrideStore
	dns       ports.DNSProvider
	swapper   *Swapper
	parser    ports.NotificationParser
	publisher ports.ResultPublisher
	metrics   *Metrics
	opts      ControllerOptions
	now       func() time.Time
	tracer    trace.Tracer
	logger    *logger.Logger
}

// attempt is what one pass through the cycle observed and did
type attempt struct {
	override domain.Override
	health   HealthReport
	before   domain.DNSAssignment
	decision domain.Decision
	swap     domain.SwapResult
	warnings []domain.CycleWarning
}

// NewController wires a controller from its collaborators
func NewController(deps ControllerDeps, opts ControllerOptions, log *logger.Logger) *Controller {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	health := NewHealthChecker(deps.Health, opts.Regions, opts.StalenessWindow, opts.CallTimeout, log)
	health.now = now

	return &Controller{
		health:    health,
		overrides: deps.Overrides,
		dns:       deps.DNS,
		swapper:   NewSwapper(deps.DNS, opts.CallTimeout, log),
		parser:    deps.Parser,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		opts:      opts,
		now:       now,
		tracer:    otel.Tracer(tracerName),
		logger:    log.ControllerLogger(),
	}
}

// HandleNotification parses raw and runs one cycle for the resulting event.
// A notification that cannot be parsed yields a failed cycle.
func (c *Controller) HandleNotification(ctx context.Context, raw []byte) domain.CycleResult {
	event, err := c.parser.Parse(raw)
	if err != nil {
		result := domain.CycleResult{
			CycleID:   uuid.NewString(),
			Event:     domain.AlarmEvent{Kind: domain.EventKindNotification},
			StartedAt: c.now(),
		}
		c.fail(&result, err)
		c.logger.CycleLogger(result.CycleID, "", "").WithError(err).Error("Rejected notification")
		c.finish(ctx, &result)
		return result
	}
	return c.RunCycle(ctx, event)
}

// RunCycle runs one decision cycle for event. Conflicts and transient provider
// errors restart the whole cycle with exponential backoff until MaxAttempts.
func (c *Controller) RunCycle(ctx context.Context, event domain.AlarmEvent) domain.CycleResult {
	result := domain.CycleResult{
		CycleID:   uuid.NewString(),
		Event:     event,
		StartedAt: c.now(),
	}
	log := c.logger.CycleLogger(result.CycleID, string(event.SourceRegion), event.AlarmName)

	ctx, span := c.tracer.Start(ctx, "failover.cycle", trace.WithAttributes(
		attribute.String("cycle.id", result.CycleID),
		attribute.String("event.kind", string(event.Kind)),
		attribute.String("event.source_region", string(event.SourceRegion)),
		attribute.String("event.new_state", string(event.NewState)),
	))
	defer span.End()

	log.WithField("event", event.String()).Info("Decision cycle started")

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.opts.InitialBackoff
	policy.MaxInterval = c.opts.MaxBackoff

	var out attempt
	operation := func() (attempt, error) {
		result.Attempts++
		var err error
		out, err = c.runAttempt(ctx, event, result.Attempts, true)
		if err == nil {
			return out, nil
		}
		if !errors.IsRetryable(err) {
			return out, backoff.Permanent(err)
		}
		return out, err
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.opts.MaxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			code := string(errors.GetErrorCode(err))
			if c.metrics != nil {
				c.metrics.RecordRetry(code)
			}
			log.WithError(err).WithFields(map[string]interface{}{
				"attempt": result.Attempts,
				"code":    code,
				"wait_ms": wait.Milliseconds(),
			}).Warn("Cycle attempt failed, restarting cycle")
		}),
	)
	var permanent *backoff.PermanentError
	if stderrors.As(err, &permanent) {
		err = permanent.Unwrap()
	}

	result.Override = out.override
	result.Health = out.health.Snapshots
	result.Before = out.before
	result.Decision = out.decision
	result.Swap = out.swap
	result.Warnings = out.warnings

	if err != nil {
		c.fail(&result, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, result.ErrorCode)
		log.WithError(err).WithFields(map[string]interface{}{
			"attempts": result.Attempts,
			"code":     result.ErrorCode,
		}).Error("Decision cycle failed")
	} else {
		span.SetAttributes(
			attribute.String("decision.outcome", string(result.Decision.Outcome)),
			attribute.String("decision.target", string(result.Decision.Target)),
			attribute.Bool("swap.applied", result.Swap.Applied),
		)
		c.logOutcome(log, result)
	}

	c.finish(ctx, &result)
	return result
}

// Evaluate reads every input and returns the decision without applying it
func (c *Controller) Evaluate(ctx context.Context, event domain.AlarmEvent) domain.CycleResult {
	result := domain.CycleResult{
		CycleID:   uuid.NewString(),
		Event:     event,
		StartedAt: c.now(),
		Attempts:  1,
	}

	out, err := c.runAttempt(ctx, event, 1, false)
	result.Override = out.override
	result.Health = out.health.Snapshots
	result.Before = out.before
	result.Decision = out.decision
	result.Swap = domain.SwapResult{NoOp: true, After: out.before}
	result.Warnings = out.warnings
	if err != nil {
		c.fail(&result, err)
	}
	result.Duration = c.now().Sub(result.StartedAt)
	return result
}

// Status reports the current decision inputs without running a cycle
func (c *Controller) Status(ctx context.Context) (*ports.Status, error) {
	report := c.health.Check(ctx)
	override, warning := c.readOverride(ctx)

	current, err := c.readAssignment(ctx)
	if err != nil {
		return nil, err
	}

	status := &ports.Status{
		Assignment: current,
		Override:   override,
		Health:     report.Snapshots,
		Warnings:   report.Warnings,
	}
	if warning != nil {
		status.Warnings = append(status.Warnings, *warning)
	}
	return status, nil
}

// runAttempt is one full pass: read inputs, decide and, if apply is set, swap
func (c *Controller) runAttempt(ctx context.Context, event domain.AlarmEvent, n int, apply bool) (attempt, error) {
	ctx, span := c.tracer.Start(ctx, "failover.attempt", trace.WithAttributes(attribute.Int("attempt", n)))
	defer span.End()

	var out attempt

	out.health = c.health.Check(ctx)
	out.warnings = append(out.warnings, out.health.Warnings...)

	override, warning := c.readOverride(ctx)
	out.override = override
	if warning != nil {
		out.warnings = append(out.warnings, *warning)
	}

	current, err := c.readAssignment(ctx)
	if err != nil {
		span.RecordError(err)
		return out, err
	}
	out.before = current
	out.swap = domain.SwapResult{NoOp: true, After: current}

	out.decision = Decide(event, out.health.View(), override, current)
	span.SetAttributes(attribute.String("decision", out.decision.String()))

	if !apply {
		return out, nil
	}

	swap, err := c.swapper.Apply(ctx, out.decision, current)
	out.swap = swap
	if err != nil {
		span.RecordError(err)
		return out, err
	}
	return out, nil
}

// readOverride never fails: unreadable and malformed directives become AUTO
// with a warning.
func (c *Controller) readOverride(ctx context.Context) (domain.Override, *domain.CycleWarning) {
	ctx, span := c.tracer.Start(ctx, "override.read")
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()

	raw, err := c.overrides.GetOverride(callCtx)
	if err != nil {
		span.RecordError(err)
		c.logger.WithError(err).Warn("Override directive unreadable, using AUTO")
		return domain.OverrideAuto, &domain.CycleWarning{
			Code:    string(errors.ErrCodeOverrideUnavailable),
			Message: fmt.Sprintf("override unreadable, using AUTO: %v", err),
		}
	}

	override, err := domain.ParseOverride(raw)
	if err != nil {
		c.logger.WithField("raw", raw).Warn("Override directive malformed, using AUTO")
		return domain.OverrideAuto, &domain.CycleWarning{
			Code:    string(errors.ErrCodeAmbiguousOverride),
			Message: fmt.Sprintf("override %q malformed, using AUTO", raw),
		}
	}

	span.SetAttributes(attribute.String("override", string(override)))
	return override, nil
}

func (c *Controller) readAssignment(ctx context.Context) (domain.DNSAssignment, error) {
	ctx, span := c.tracer.Start(ctx, "dns.read", trace.WithAttributes(attribute.String("provider", c.dns.Name())))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()

	current, err := c.dns.CurrentAssignment(callCtx)
	if err != nil {
		span.RecordError(err)
		if errors.IsFailoverError(err) {
			return domain.DNSAssignment{}, err
		}
		return domain.DNSAssignment{}, errors.NewProviderError(c.dns.Name(),
			stderrors.Is(err, context.DeadlineExceeded), err)
	}
	return current, nil
}

func (c *Controller) logOutcome(log *logger.Logger, result domain.CycleResult) {
	entry := log.WithFields(map[string]interface{}{
		"decision":    result.Decision.String(),
		"reason":      result.Decision.Reason,
		"override":    result.Override,
		"live_before": result.Before.Live,
		"attempts":    result.Attempts,
	})
	for _, w := range result.Warnings {
		entry.WithField("code", w.Code).Warn(w.Message)
	}

	switch {
	case result.Swap.Applied:
		entry.WithField("live_after", result.Swap.After.Live).
			WithField("change_id", result.Swap.ChangeID).
			Info("Failover applied")
	case result.Decision.Outcome == domain.OutcomeBlocked:
		entry.WithField("code", result.Decision.Code).Warn("Switch blocked")
	default:
		entry.Info("No change")
	}
}

func (c *Controller) fail(result *domain.CycleResult, err error) {
	result.Error = err.Error()
	result.ErrorCode = string(errors.GetErrorCode(err))
}

// finish stamps the duration, records metrics and publishes the result.
// A publish failure is logged and does not fail the cycle.
func (c *Controller) finish(ctx context.Context, result *domain.CycleResult) {
	result.Duration = c.now().Sub(result.StartedAt)

	if c.metrics != nil {
		c.metrics.RecordCycle(*result)
	}
	if c.publisher == nil {
		return
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.CallTimeout)
	defer cancel()

	if err := c.publisher.Publish(callCtx, *result); err != nil {
		c.logger.WithError(err).WithField("cycle_id", result.CycleID).Warn("Failed to publish cycle result")
	}
}
