// Package sched provides a process-local, cluster-aware task scheduler: a
// registry and lifecycle manager for long-lived worker tasks that run on a
// cron schedule or as a continuous loop, organized into named groups whose
// parallelism is elastic and mirrored to etcd so multiple processes can
// observe and rebalance the fleet.
//
// sched is designed as a library, not a service. Register tasks as ordinary
// Go functions satisfying task.Hooks, wrap them in a Scheduler, and call
// Start.
//
// # Quick Start
//
//	s, err := sched.New(
//	    sched.WithEtcdEndpoints([]string{"localhost:2379"}),
//	    sched.WithShutdownTimeout(30*time.Second),
//	)
//
// # Architecture
//
// The registry (package registry) is the factory: it holds every task and
// its lifecycle state (started, stopping, stopped) plus a group index used
// for rebalancing. The monitor (package monitor) sweeps stopping tasks into
// stopped once their loop has exited. The coordination mirror (package
// coordination) publishes every transition to etcd and dispatches remote
// commands back into the registry. The lifecycle hook (package lifecycle)
// drains the registry on shutdown.
package sched
