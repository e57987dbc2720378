package service

import (
	"fmt"

	"github.com/mir00r/region-failover/internal/domain"
	"github.com/mir00r/region-failover/internal/errors"
)

// HealthView is the classified health of both regions for one cycle
type HealthView map[domain.RegionID]domain.HealthState

// Decide maps one event plus the current inputs to a decision. It performs no
// I/O and reads no clock; identical inputs always give identical decisions.
//
// Order of evaluation:
//  1. A forcing override picks the target and bypasses health.
//  2. Otherwise the event determines the desired target, if any.
//  3. A target that already holds LIVE is NO_CHANGE.
//  4. Both regions UNKNOWN, or both UNHEALTHY, blocks the switch.
//  5. The target must itself be HEALTHY.
func Decide(event domain.AlarmEvent, health HealthView, override domain.Override, current domain.DNSAssignment) domain.Decision {
	if target, forced := override.Target(); forced {
		if current.Live == target {
			return domain.NoChange(fmt.Sprintf("override %s already satisfied", override))
		}
		return domain.SwitchTo(target, fmt.Sprintf("override %s", override))
	}

	target, reason, ok := desiredTarget(event, current)
	if !ok {
		return domain.NoChange(reason)
	}
	if current.Live == target {
		return domain.NoChange(fmt.Sprintf("%s already LIVE", target))
	}

	primary := health[domain.RegionPrimary]
	secondary := health[domain.RegionSecondary]
	switch {
	case primary == domain.HealthUnknown && secondary == domain.HealthUnknown:
		return domain.Blocked(string(errors.ErrCodeInsufficientHealthData), "insufficient health data")
	case primary == domain.HealthUnhealthy && secondary == domain.HealthUnhealthy:
		return domain.Blocked(string(errors.ErrCodeUnverifiedTarget), "both regions unhealthy")
	case health[target] != domain.HealthHealthy:
		return domain.Blocked(string(errors.ErrCodeUnverifiedTarget), fmt.Sprintf("%s not confirmed healthy", target))
	}

	return domain.SwitchTo(target, reason)
}

// desiredTarget derives where an AUTO cycle wants LIVE to be. ok is false when
// the event calls for no action; reason then says why.
func desiredTarget(event domain.AlarmEvent, current domain.DNSAssignment) (domain.RegionID, string, bool) {
	source := event.SourceRegion
	if !source.Valid() {
		return "", fmt.Sprintf("event for unknown region %q", source), false
	}

	switch event.NewState {
	case domain.AlarmStateAlarm:
		if source != current.Live {
			return "", fmt.Sprintf("%s in ALARM but not LIVE", source), false
		}
		return source.Other(), fmt.Sprintf("LIVE region %s in ALARM", source), true

	case domain.AlarmStateOK:
		if source != domain.RegionPrimary {
			return "", fmt.Sprintf("%s returned to OK", source), false
		}
		return domain.RegionPrimary, "primary recovered", true

	case domain.AlarmStateInsufficientData:
		return "", fmt.Sprintf("%s has insufficient alarm data", source), false

	default:
		return "", fmt.Sprintf("unrecognised alarm state %q", event.NewState), false
	}
}
