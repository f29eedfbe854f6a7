package task

import (
	"context"
	"log/slog"
	"sync"
)

// Executor is the shared, unbounded-capacity worker pool: it spawns one
// goroutine per running task rather than a fixed number of goroutines
// polling a shared queue. This mirrors the reference implementation's
// worker.Pool activeJobs bookkeeping (worker/pool.go), adapted from
// "N goroutines pulling from a queue" to "one goroutine per task,
// spawned on demand" per the spec's scheduling model.
type Executor struct {
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// NewExecutor creates an Executor.
func NewExecutor(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{
		logger: logger,
		active: make(map[string]context.CancelFunc),
	}
}

// Spawn launches t's loop on a new goroutine. The context passed to hooks
// is cancelled if Cancel is called for this task id, but per the spec
// this is advisory only — Task.Run never checks ctx.Done() itself, so a
// hook that ignores context cancellation runs to completion regardless.
func (e *Executor) Spawn(ctx context.Context, t *Task) {
	runCtx, cancel := context.WithCancel(ctx)

	e.mu.Lock()
	e.active[t.ID()] = cancel
	e.mu.Unlock()

	go func() {
		defer func() {
			e.mu.Lock()
			delete(e.active, t.ID())
			e.mu.Unlock()
			cancel()
		}()

		t.Run(runCtx)
	}()
}

// Cancel cancels the context handed to the named task's hooks, if it is
// currently running. It does not itself request the task close; callers
// combine it with Task.RequestClose when they want a hard(er) stop.
func (e *Executor) Cancel(taskID string) {
	e.mu.Lock()
	cancel, ok := e.active[taskID]
	e.mu.Unlock()

	if ok {
		cancel()
	}
}

// Active returns the ids of tasks with a live goroutine.
func (e *Executor) Active() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}

	return ids
}
