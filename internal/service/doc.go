/*
Package service implements the decision cycle of the region failover controller.

This package sits between the domain layer and the adapters. It reads health,
the operator override and the current DNS assignment through the ports
interfaces, asks the engine for a decision and applies it with a conditional
write.

Key Components:

Engine:
Decide is a pure function of (event, health, override, current assignment).
It never performs I/O and is exercised exhaustively by the tests.

	decision := service.Decide(event, report.View(), override, current)

Swapper:
Applies a SWITCH_TO decision with a single conditional change against the
provider. The write only succeeds if the assignment still carries the version
that was read; otherwise it fails with DNS_SWAP_CONFLICT.

HealthChecker:
Reads both regions concurrently. Stale samples and failed lookups degrade to
UNKNOWN and produce a warning instead of failing the cycle.

Controller:
Runs one cycle per event and restarts the whole cycle on conflicts and
transient provider errors:

	controller := service.NewController(service.ControllerDeps{
		Health:    healthStore,
		Overrides: overrideStore,
		DNS:       dnsProvider,
		Parser:    parser,
		Publisher: publisher,
		Metrics:   metrics,
	}, service.ControllerOptions{
		Regions:         cfg.RegionList(),
		StalenessWindow: cfg.Health.StalenessWindow,
		CallTimeout:     cfg.Controller.CallTimeout,
		MaxAttempts:     cfg.Controller.MaxAttempts,
	}, log)

	result := controller.HandleNotification(ctx, body)

Reconciler:
Periodically runs a cycle with an event synthesised from current state, so an
override or a missed alarm takes effect without waiting for the next
notification. Concurrent triggers share one in-flight cycle.

Metrics:
Prometheus collectors on a per-instance registry, updated once per cycle.
*/
package service
