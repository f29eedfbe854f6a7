package task

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/xraph/schedcore/task")

// Task is a long-running worker with before/execute/after/destroy hooks
// driven by a schedule.Schedule (or a bare interval), plus the
// close/closed/remove flags the registry uses to place it in one of the
// started/stopping/stopped buckets.
//
// A Task is created stopped: close=true, closed=true. Registry.Start calls
// Arm to reset both flags before handing the task to an Executor, which
// runs the loop on its own goroutine until close is observed at a safe
// point.
type Task struct {
	cfg      *Config
	hooks    Hooks
	logger   *slog.Logger
	observer ErrorObserver
	analysis Analysis

	mu      sync.Mutex
	close   bool
	closed  bool
	remove  bool
	running bool
	armed   bool

	notifyCh chan struct{}
	doneCh   chan struct{}
}

// New creates a stopped Task wrapping the given config and hooks.
func New(cfg *Config, hooks Hooks, logger *slog.Logger, observer ErrorObserver) *Task {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = ObserverFunc(func(*ExecutionError) {})
	}

	return &Task{
		cfg:      cfg,
		hooks:    hooks,
		logger:   logger,
		observer: observer,
		close:    true,
		closed:   true,
		notifyCh: make(chan struct{}, 1),
	}
}

// ID returns the task's stable identifier.
func (t *Task) ID() string { return t.cfg.ID }

// Group returns the task's group name.
func (t *Task) Group() string { return t.cfg.Group }

// Config returns the task's descriptor. Index()/Total() on it are safe to
// read from any goroutine; other fields are set once at construction.
func (t *Task) Config() *Config { return t.cfg }

// Analysis returns the task's live statistics block.
func (t *Task) Analysis() *Analysis { return &t.analysis }

// Hooks returns the task's hook set, so a clone can be created from an
// existing task without the caller having to keep its own reference.
func (t *Task) Hooks() Hooks { return t.hooks }

// IsClose reports whether a close has been requested.
func (t *Task) IsClose() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.close
}

// IsClosed reports whether the loop has fully exited.
func (t *Task) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.closed
}

// IsRemove reports whether this task is marked for removal once stopped.
func (t *Task) IsRemove() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.remove
}

// SetRemove marks the task for removal once it reaches stopped.
func (t *Task) SetRemove(remove bool) {
	t.mu.Lock()
	t.remove = remove
	t.mu.Unlock()
}

// RequestClose sets the close flag and wakes the task if it is currently
// waiting on its schedule or interval sleep. It is idempotent.
func (t *Task) RequestClose() {
	t.mu.Lock()
	t.close = true
	t.mu.Unlock()

	t.Notify()
}

// Notify wakes a sleeping/waiting task immediately. Safe to call whether
// or not the task is currently waiting; it never blocks.
func (t *Task) Notify() {
	select {
	case t.notifyCh <- struct{}{}:
	default:
	}
}

// Arm resets the task's flags for a fresh run and creates a new Done
// channel, ahead of handing the task to an Executor. Registry.Start calls
// this synchronously, under the same lock it uses to serialize Close, so
// a close requested for this task id between Arm and the loop goroutine
// actually starting is observed by the loop instead of being silently
// overwritten once the goroutine runs. Returns false if the task is
// already running or already armed for a pending run.
func (t *Task) Arm() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running || t.armed {
		return false
	}

	t.close = false
	t.closed = false
	t.running = true
	t.armed = true
	t.doneCh = make(chan struct{})

	return true
}

// acquireRun claims the task for a new loop execution. If Arm already
// prepared it, acquireRun just consumes that state; otherwise (a caller
// invoking Run without going through Arm first) it arms the task itself.
// Returns false if the task is already running.
func (t *Task) acquireRun() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.armed {
		t.armed = false
		return true
	}
	if t.running {
		return false
	}

	t.close = false
	t.closed = false
	t.running = true
	t.doneCh = make(chan struct{})

	return true
}

// Done returns a channel closed when the loop goroutine has fully
// returned (after Destroy). Before the task's first run it returns an
// already-closed channel.
func (t *Task) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.doneCh == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}

	return t.doneCh
}

// Run executes the scheduler loop synchronously on the calling goroutine.
// Executor.Spawn is the usual caller, on a dedicated goroutine per task.
// Run returns once the loop has terminated and Destroy has been called.
func (t *Task) Run(ctx context.Context) {
	if !t.acquireRun() {
		return
	}

	defer func() {
		t.mu.Lock()
		t.closed = true
		t.running = false
		done := t.doneCh
		t.mu.Unlock()
		close(done)
	}()

	t.loop(ctx)
	t.runDestroy(ctx)
}

func (t *Task) loop(ctx context.Context) {
	invocations := 0
	cfg := t.cfg

	for !t.IsClose() {
		if cfg.Schedule != nil {
			// Lazy delays only the first schedule wait; without it the
			// first iteration fires immediately and the schedule takes
			// over from the second iteration on.
			if invocations > 0 || cfg.Lazy {
				next := cfg.Schedule.Next(time.Now())
				if !t.waitUntil(next) {
					break
				}
			}
			if t.IsClose() {
				break
			}
		}

		t.runIteration(ctx, invocations)
		invocations++

		if cfg.RunLimit > 0 && invocations >= cfg.RunLimit {
			t.RequestClose()
		}

		if cfg.Schedule == nil && cfg.Interval > 0 {
			if !t.sleepFor(cfg.Interval) {
				break
			}
		}
	}
}

// waitUntil blocks until instant, or until Notify/close-request arrives.
// Returns false if the wait was interrupted by a close request.
func (t *Task) waitUntil(instant time.Time) bool {
	return t.sleepFor(time.Until(instant))
}

// sleepFor blocks for d, or until Notify/close-request arrives, whichever
// comes first. A non-positive d returns immediately.
func (t *Task) sleepFor(d time.Duration) bool {
	if d <= 0 {
		return !t.IsClose()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-t.notifyCh:
	}

	return !t.IsClose()
}

func (t *Task) runIteration(ctx context.Context, invocations int) {
	cfg := t.cfg
	last := cfg.RunLimit > 0 && invocations+1 >= cfg.RunLimit

	ctx, span := tracer.Start(ctx, "task.execute",
		trace.WithAttributes(
			attribute.String("task.id", t.ID()),
			attribute.String("task.group", t.Group()),
			attribute.Int("task.index", cfg.Index()),
		),
	)
	defer span.End()

	start := time.Now()

	// last is only ever true when RunLimit bounds the run count; a
	// BeforeAfterOnly task with RunLimit==0 therefore never runs After —
	// there is no final iteration to hang it off of, only a close.
	runBefore := !cfg.BeforeAfterOnly || invocations == 0
	runAfter := !cfg.BeforeAfterOnly || last

	var execErr error

	if runBefore {
		if err := t.hooks.Before(ctx); err != nil {
			t.reportError(StageBefore, err, span)
			execErr = err
		}
	}

	if execErr == nil {
		if err := t.hooks.Execute(ctx); err != nil {
			t.reportError(StageExecute, err, span)
			execErr = err
		}
	}

	if runAfter {
		if err := t.hooks.After(ctx); err != nil {
			t.reportError(StageAfter, err, span)
			if execErr == nil {
				execErr = err
			}
		}
	}

	elapsed := time.Since(start)
	t.analysis.record(start, elapsed, execErr)

	if execErr == nil {
		span.SetStatus(codes.Ok, "")
	}
}

func (t *Task) runDestroy(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "task.destroy", trace.WithAttributes(
		attribute.String("task.id", t.ID()),
	))
	defer span.End()

	if err := t.hooks.Destroy(ctx); err != nil {
		t.reportError(StageDestroy, err, span)
	}
}

func (t *Task) reportError(stage Stage, err error, span trace.Span) {
	execErr := &ExecutionError{TaskID: t.ID(), Stage: stage, Cause: err}
	span.RecordError(err)
	span.SetStatus(codes.Error, execErr.Error())

	t.logger.Error("task hook failed",
		slog.String("task_id", t.ID()),
		slog.String("stage", string(stage)),
		slog.String("error", err.Error()),
	)
	t.observer.OnTaskError(execErr)
}
