// Package coordination mirrors task lifecycle transitions to etcd and
// dispatches remote control commands (append/remove/start/stop) back into
// the registry. It defines a small port interface so the registry never
// needs to know whether coordination is enabled — when it is disabled,
// callers wire the EMPTY implementation, which satisfies the same
// interface as a pure no-op.
package coordination

import (
	"context"

	"github.com/xraph/schedcore/task"
)

// Port is the outbound half of the coordination mirror: three publish
// calls, one per lifecycle transition. Publishing is best-effort and
// retried internally; an implementation may make the caller wait for a
// bounded number of attempts, but never returns a coordination failure to
// it. Registry publishes only after its local state change is committed.
type Port interface {
	// PublishStart is called after a task moves from stopped to started.
	PublishStart(ctx context.Context, group, id string, an task.Snapshot)
	// PublishStopping is called after a task moves from started to
	// stopping (a close was requested).
	PublishStopping(ctx context.Context, group, id string, an task.Snapshot)
	// PublishStopped is called after the status monitor moves a task
	// from stopping to stopped (or drops it, when removed is true). It is
	// also called for each replica Append creates without starting it,
	// and, with removed true, when RemoveReplica drops an already-stopped
	// replica directly.
	PublishStopped(ctx context.Context, group, id string, removed bool, an task.Snapshot)
}

// CommandTarget is the inbound half: the subset of registry.Registry's API
// the watch loop needs to dispatch remote commands. Defined here rather
// than imported from package registry so registry never has to import
// coordination for this direction — registry.Registry satisfies this
// interface structurally.
type CommandTarget interface {
	Start(id string) error
	Close(id string) error
	Append(ctx context.Context, group string, size int, autoStart bool) ([]*task.Task, error)
	RemoveLastReplica(ctx context.Context, group string) (int, error)
}
