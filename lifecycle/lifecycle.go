// Package lifecycle orchestrates process-wide startup and shutdown: bring
// the status monitor up first, then every registered task; on shutdown,
// close every task, wait for the monitor to drain them all into stopped,
// and only then close the monitor itself.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/schedcore/registry"
	"github.com/xraph/schedcore/task"
)

// ErrShutdownTimeout is returned by Hook.Stop when the drain deadline
// elapses before every non-daemon task has reached stopped.
var ErrShutdownTimeout = errors.New("lifecycle: shutdown timed out waiting for tasks to drain")

// Hook drives the startup and shutdown sequence for a registry and its
// status monitor.
type Hook struct {
	reg        *registry.Registry
	monitor    *task.Task
	logger     *slog.Logger
	drainPoll  time.Duration
	drainAfter time.Duration
}

// New constructs a Hook. drainTimeout bounds how long Stop waits for
// tasks to reach stopped before giving up and returning ErrShutdownTimeout;
// zero means wait forever.
func New(reg *registry.Registry, mon *task.Task, logger *slog.Logger, drainTimeout time.Duration) *Hook {
	if logger == nil {
		logger = slog.Default()
	}

	return &Hook{
		reg:        reg,
		monitor:    mon,
		logger:     logger,
		drainPoll:  25 * time.Millisecond,
		drainAfter: drainTimeout,
	}
}

// Start brings the status monitor up, then starts every registered task
// that isn't already started.
func (h *Hook) Start() error {
	if err := h.reg.Start(h.monitor.ID()); err != nil {
		return fmt.Errorf("lifecycle: starting status monitor: %w", err)
	}

	h.reg.StartAll()

	h.logger.Info("scheduler started")

	return nil
}

// Stop requests every task close, waits for the status monitor to drain
// them all into stopped, then closes the monitor itself. Daemon tasks are
// not waited for: a daemon task still running does not hold up the drain,
// and it is not named in the timeout warning. The elapsed time is logged
// whether or not the drain completes.
func (h *Hook) Stop(ctx context.Context) error {
	start := time.Now()

	h.reg.CloseAll()

	if err := h.waitDrained(ctx); err != nil {
		h.logger.Warn("scheduler stop did not drain",
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return err
	}

	if err := h.reg.CloseProtected(h.monitor.ID()); err != nil {
		return fmt.Errorf("lifecycle: closing status monitor: %w", err)
	}

	select {
	case <-h.monitor.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	// The monitor finalizes every other task's stopping->stopped move; here
	// it has just closed itself, so nothing else will sweep its own entry.
	// Finalize it the same way, directly.
	h.reg.FinalizeStopped(context.Background(), h.monitor.ID(), h.monitor)

	h.logger.Info("scheduler stopped", slog.Duration("elapsed", time.Since(start)))

	return nil
}

// waitDrained polls until every started task not marked Daemon has left
// the started/stopping buckets, or the drain deadline elapses. On every
// poll cycle it re-notifies the snapshot of tasks taken when draining
// began, so a task whose wake-up raced CloseAll's Notify call is nudged
// again rather than left to wait out its full schedule/interval.
func (h *Hook) waitDrained(ctx context.Context) error {
	var cancel context.CancelFunc
	if h.drainAfter > 0 {
		ctx, cancel = context.WithTimeout(ctx, h.drainAfter)
		defer cancel()
	}

	snapshot := append(h.reg.Started(), h.reg.Stopping()...)

	ticker := time.NewTicker(h.drainPoll)
	defer ticker.Stop()

	for {
		if h.drained() {
			return nil
		}

		for _, t := range snapshot {
			t.Notify()
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			h.logDrainTimeout()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrShutdownTimeout
			}
			return ctx.Err()
		}
	}
}

func (h *Hook) drained() bool {
	for _, t := range append(h.reg.Started(), h.reg.Stopping()...) {
		if !t.Config().Daemon {
			return false
		}
	}

	return true
}

func (h *Hook) logDrainTimeout() {
	for _, t := range append(h.reg.Started(), h.reg.Stopping()...) {
		if t.Config().Daemon {
			continue
		}
		h.logger.Warn("task still draining at shutdown deadline",
			slog.String("task_id", t.ID()),
		)
	}
}

// DrainGroup waits, using an errgroup so a slow group's drain never blocks
// a caller checking several groups, for every replica of each named group
// to leave the started/stopping buckets. It is exposed for callers doing a
// partial (group-scoped) drain outside of full Stop.
func DrainGroup(ctx context.Context, reg *registry.Registry, groups []string, poll time.Duration) error {
	if poll <= 0 {
		poll = 25 * time.Millisecond
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, name := range groups {
		name := name
		g.Go(func() error {
			ticker := time.NewTicker(poll)
			defer ticker.Stop()

			for {
				if !reg.HasStartedGroup(name) && !groupHasStopping(reg, name) {
					return nil
				}

				select {
				case <-ticker.C:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		})
	}

	return g.Wait()
}

func groupHasStopping(reg *registry.Registry, name string) bool {
	for _, t := range reg.Stopping() {
		if t.Group() == name {
			return true
		}
	}

	return false
}
