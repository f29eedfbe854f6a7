package task

import "context"

// Hooks is the capability set a caller supplies for one task. The
// framework (Task) owns the loop that sequences these calls; this is the
// idiomatic replacement for the reference implementation's inheritance-
// based BaseScheduler.
type Hooks interface {
	// Before runs once per guarded window: once per Start when
	// Config.BeforeAfterOnly is true, otherwise once per iteration
	// immediately before Execute.
	Before(ctx context.Context) error
	// Execute performs one unit of work. It is opaque to the scheduler:
	// no forced interruption is ever sent to a running Execute.
	Execute(ctx context.Context) error
	// After runs immediately after Execute on every iteration, or, when
	// Config.BeforeAfterOnly is true, only on the iteration that reaches
	// Config.RunLimit (so never when RunLimit is zero or the task is closed
	// before reaching it).
	After(ctx context.Context) error
	// Destroy runs once, after the loop has fully terminated, whether it
	// terminated normally or via a run limit.
	Destroy(ctx context.Context) error
}

// HookFuncs adapts four plain functions to the Hooks interface. Any nil
// field is treated as a no-op, which keeps trivial tasks (e.g. tests, or
// tasks that only need Execute) terse.
type HookFuncs struct {
	BeforeFunc  func(ctx context.Context) error
	ExecuteFunc func(ctx context.Context) error
	AfterFunc   func(ctx context.Context) error
	DestroyFunc func(ctx context.Context) error
}

// Before implements Hooks.
func (h HookFuncs) Before(ctx context.Context) error {
	if h.BeforeFunc == nil {
		return nil
	}

	return h.BeforeFunc(ctx)
}

// Execute implements Hooks.
func (h HookFuncs) Execute(ctx context.Context) error {
	if h.ExecuteFunc == nil {
		return nil
	}

	return h.ExecuteFunc(ctx)
}

// After implements Hooks.
func (h HookFuncs) After(ctx context.Context) error {
	if h.AfterFunc == nil {
		return nil
	}

	return h.AfterFunc(ctx)
}

// Destroy implements Hooks.
func (h HookFuncs) Destroy(ctx context.Context) error {
	if h.DestroyFunc == nil {
		return nil
	}

	return h.DestroyFunc(ctx)
}

// Func adapts a single function to Hooks, running it as Execute with
// no-op Before/After/Destroy. This is the common case: a task that is
// just "do this on a schedule".
func Func(fn func(ctx context.Context) error) Hooks {
	return HookFuncs{ExecuteFunc: fn}
}
