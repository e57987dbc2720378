/*
Package domain contains the core entities of the region failover controller.

The package is independent of AWS and HTTP concerns. It defines:

  - Region and AliasTarget: the two candidate regions and the DNS alias each one
    points at.
  - HealthState and HealthSnapshot: HEALTHY, UNHEALTHY or UNKNOWN per region.
    A sample older than the staleness window is UNKNOWN.
  - AlarmEvent: one inbound alarm-state change (or a synthetic reconcile event).
  - Override: AUTO, FORCE_PRIMARY or FORCE_SECONDARY.
  - DNSAssignment: which region holds LIVE and which holds STANDBY, with the
    version token used for conditional writes.
  - Decision, SwapResult and CycleResult: what one decision cycle concluded
    and did.

Assignments are relabelled, never rebuilt:

	current := domain.DNSAssignment{Live: domain.RegionPrimary, Standby: domain.RegionSecondary}
	next := current.WithLive(domain.RegionSecondary)
	// next.Live == secondary, next.Standby == primary

Health values map to states with ClassifyValue; values strictly above the
threshold (0.5 by default) are healthy:

	state := domain.ClassifyValue(1.0, 0.5) // HEALTHY
*/
package domain
