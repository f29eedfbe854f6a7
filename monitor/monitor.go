// Package monitor implements the status monitor: a task that periodically
// sweeps the registry's stopping bucket, moving each entry whose loop
// goroutine has exited into stopped (or dropping it, if marked for
// removal) and publishing the corresponding coordination event.
//
// The monitor is itself a task.Task, registered like any other but
// protected from direct Close/RemoveReplica calls and from CloseAll — it is started
// first and closed last by the lifecycle hook, since closing it early
// would strand every task currently draining in stopping forever.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/schedcore/registry"
	"github.com/xraph/schedcore/task"
)

// ID is the fixed id and group the monitor registers itself under.
const ID = "sched-monitor"

// DefaultInterval is used when Register is called with interval <= 0. It
// matches the 1 Hz sweep cadence the Scheduler facade actually runs at
// (config.TickInterval defaults to 1s); callers registering the monitor
// directly get the same default.
const DefaultInterval = time.Second

// monitor implements task.Hooks by sweeping a registry's stopping bucket.
type monitor struct {
	reg    *registry.Registry
	logger *slog.Logger
}

// Register creates the status monitor task, registers it with reg, marks
// it protected, and returns it unstarted — callers start it explicitly as
// the first step of bringing a scheduler up.
func Register(reg *registry.Registry, interval time.Duration, logger *slog.Logger) (*task.Task, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg := task.NewConfig(ID, ID, 0, 1)
	cfg.Interval = interval
	cfg.Daemon = true

	m := &monitor{reg: reg, logger: logger}

	t, err := reg.Register(cfg, task.Func(m.sweep))
	if err != nil {
		return nil, err
	}

	reg.Protect(t.ID())

	return t, nil
}

// sweep finalizes every stopping task whose loop has already exited. A
// task still mid-loop is left alone; it is reconsidered on the next tick.
func (m *monitor) sweep(ctx context.Context) error {
	for _, t := range m.reg.Stopping() {
		select {
		case <-t.Done():
			removed, moved := m.reg.FinalizeStopped(ctx, t.ID(), t)
			if moved {
				m.logger.Debug("monitor finalized task",
					slog.String("task_id", t.ID()),
					slog.Bool("removed", removed),
				)
			}
		default:
			// Still draining; check again next tick.
		}
	}

	return nil
}
