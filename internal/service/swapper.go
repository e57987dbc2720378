package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/mir00r/region-failover/internal/domain"
	"github.com/mir00r/region-failover/internal/errors"
	"github.com/mir00r/region-failover/internal/ports"
	"github.com/mir00r/region-failover/pkg/logger"
)

// Swapper rewrites the failover record pair to enact a SWITCH_TO decision
type Swapper struct {
	provider    ports.DNSProvider
	callTimeout time.Duration
	logger      *logger.Logger
}

// NewSwapper creates a swapper over provider. Each provider call is bounded by callTimeout.
func NewSwapper(provider ports.DNSProvider, callTimeout time.Duration, log *logger.Logger) *Swapper {
	return &Swapper{
		provider:    provider,
		callTimeout: callTimeout,
		logger:      log.SwapperLogger(),
	}
}

// Apply enacts decision against current. NO_CHANGE, BLOCKED and a SWITCH_TO
// whose target is already LIVE return a no-op result without touching DNS.
func (s *Swapper) Apply(ctx context.Context, decision domain.Decision, current domain.DNSAssignment) (domain.SwapResult, error) {
	log := s.logger.WithFields(map[string]interface{}{
		"decision": decision.String(),
		"live":     current.Live,
		"version":  current.Version,
	})

	if decision.Outcome != domain.OutcomeSwitchTo {
		log.Debug("No DNS change for decision")
		return domain.SwapResult{NoOp: true, After: current}, nil
	}

	if !decision.Target.Valid() {
		return domain.SwapResult{After: current}, errors.NewError(errors.ErrCodeInternalError, "swapper",
			fmt.Sprintf("switch target %q is not a known region", decision.Target))
	}

	if current.Live == decision.Target {
		log.Info("Target already LIVE, swap skipped")
		return domain.SwapResult{NoOp: true, After: current}, nil
	}

	desired := current.WithLive(decision.Target)
	if err := desired.Validate(); err != nil {
		return domain.SwapResult{After: current}, errors.WrapError(err, errors.ErrCodeZoneInconsistent, "swapper",
			"relabelled assignment is invalid")
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	start := time.Now()
	changeID, err := s.provider.ApplyAssignment(callCtx, current, desired)
	if err != nil {
		err = s.classify(err)
		log.WithError(err).WithField("duration_ms", time.Since(start).Milliseconds()).
			Warn("DNS swap failed")
		return domain.SwapResult{After: current}, err
	}

	log.WithFields(map[string]interface{}{
		"target":      decision.Target,
		"change_id":   changeID,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("DNS swap applied")

	return domain.SwapResult{Applied: true, ChangeID: changeID, After: desired}, nil
}

// classify turns bare provider errors into coded ones. Timeouts are retryable.
func (s *Swapper) classify(err error) error {
	if errors.IsFailoverError(err) {
		return err
	}
	retryable := stderrors.Is(err, context.DeadlineExceeded)
	return errors.NewProviderError(s.provider.Name(), retryable, err)
}
