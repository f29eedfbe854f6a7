package sched

import "errors"

var (
	// ErrConfig indicates malformed configuration: registration input
	// with a bad parallel value, an invalid cron expression, or a missing
	// required field (Scheduler.Register wraps registration.ErrConfig in
	// it), or etcd settings New cannot build a client from.
	ErrConfig = errors.New("sched: invalid configuration")

	// ErrCoordination wraps failures from the coordination mirror's
	// publish path, surfaced to the mirror-failure callback New wires up
	// (see buildMirror). It is always logged, never propagated to the
	// caller of a local scheduling operation: coordination unavailability
	// must never block local scheduling.
	ErrCoordination = errors.New("sched: coordination error")

	// ErrNoRegistry is returned by Scheduler.Start/Stop when the
	// Scheduler was constructed without a registry.
	ErrNoRegistry = errors.New("sched: no registry configured")
)
