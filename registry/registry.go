// Package registry implements the factory: the process-wide table holding
// every task and its lifecycle state (started, stopping, stopped) plus the
// per-group ordered index used to rebalance (index, total) assignments.
//
// The reference spec's three independent concurrent maps are collapsed
// into one authoritative map keyed by id, tagged with a lifecycle state;
// started/stopping/stopped are views derived by filtering that map under
// the registry's RWMutex. This is the "equivalent and simpler design" the
// spec's own Design Notes call out, and it makes the single-bucket
// invariant hold unconditionally rather than "eventually".
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/schedcore/coordination"
	"github.com/xraph/schedcore/task"
)

// State is a task's position in the registry's lifecycle state machine.
type State string

const (
	StateStarted  State = "started"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

var (
	// ErrAlreadyRegistered is returned by Register/Append when the
	// resulting task id already exists.
	ErrAlreadyRegistered = errors.New("registry: task already registered")
	// ErrNotFound is returned by single-id operations on an unknown id.
	ErrNotFound = errors.New("registry: task not found")
	// ErrProtected is returned when a caller attempts to Close or
	// RemoveReplica a protected task (the status monitor) directly.
	ErrProtected = errors.New("registry: task is protected from direct lifecycle operations")
)

type entry struct {
	task  *task.Task
	state State
}

type group struct {
	name    string
	members []string // task ids, insertion order
	nextID  int      // monotonically increasing clone suffix counter
}

// Registry is the factory: it owns every task for the process lifetime.
type Registry struct {
	logger   *slog.Logger
	mirror   coordination.Port
	executor *task.Executor
	observer task.ErrorObserver

	mu        sync.RWMutex
	entries   map[string]*entry
	groups    map[string]*group
	protected map[string]bool
}

// New creates an empty Registry. mirror may be coordination.EMPTY.
func New(mirror coordination.Port, logger *slog.Logger, observer task.ErrorObserver) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if mirror == nil {
		mirror = coordination.EMPTY
	}

	return &Registry{
		logger:    logger,
		mirror:    mirror,
		executor:  task.NewExecutor(logger),
		observer:  observer,
		entries:   make(map[string]*entry),
		groups:    make(map[string]*group),
		protected: make(map[string]bool),
	}
}

// Protect marks id as excluded from bulk CloseAll/CloseGroup operations
// and from direct Close/RemoveReplica calls; Start and StartAll still
// start a protected task. The status
// monitor is protected this way so a caller's CloseAll can't stop the
// component responsible for finishing everyone else's shutdown.
func (r *Registry) Protect(id string) {
	r.mu.Lock()
	r.protected[id] = true
	r.mu.Unlock()
}

// Register inserts a new task into stopped and appends it to its group,
// then rebalances the group's (index, total) assignments.
func (r *Registry) Register(cfg *task.Config, hooks task.Hooks) (*task.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[cfg.ID]; exists {
		return nil, fmt.Errorf("%w: %q", ErrAlreadyRegistered, cfg.ID)
	}

	t := task.New(cfg, hooks, r.logger, r.observer)
	r.entries[cfg.ID] = &entry{task: t, state: StateStopped}
	r.groupOf(cfg.Group).append(cfg.ID)
	r.rebalance(cfg.Group)

	r.logger.Info("task registered",
		slog.String("task_id", cfg.ID),
		slog.String("group", cfg.Group),
	)

	return t, nil
}

func (r *Registry) groupOf(name string) *group {
	g, ok := r.groups[name]
	if !ok {
		g = &group{name: name}
		r.groups[name] = g
	}

	return g
}

func (g *group) append(id string) {
	g.members = append(g.members, id)
	g.nextID++
}

// rebalance recomputes (index, total) for every member of the named
// group. Callers must hold r.mu.
func (r *Registry) rebalance(name string) {
	g, ok := r.groups[name]
	if !ok {
		return
	}

	total := len(g.members)
	for i, id := range g.members {
		if e, ok := r.entries[id]; ok {
			e.task.Config().SetShard(i, total)
		}
	}
}

// removeFromGroup detaches id from its group's member list, preserving
// the relative order of survivors. Callers must hold r.mu.
func (r *Registry) removeFromGroup(groupName, id string) {
	g, ok := r.groups[groupName]
	if !ok {
		return
	}

	for i, mid := range g.members {
		if mid == id {
			g.members = append(g.members[:i], g.members[i+1:]...)
			break
		}
	}
}

// Find returns the task registered under id, if any.
func (r *Registry) Find(id string) (*task.Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}

	return e.task, true
}

// FindLast returns the highest-index replica currently in the group.
func (r *Registry) FindLast(groupName string) (*task.Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.groups[groupName]
	if !ok || len(g.members) == 0 {
		return nil, false
	}

	id := g.members[len(g.members)-1]

	return r.entries[id].task, true
}

// GroupSize returns the number of replicas currently in the group.
func (r *Registry) GroupSize(groupName string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.groups[groupName]
	if !ok {
		return 0
	}

	return len(g.members)
}

// HasStartedGroup reports whether any replica of the group is started.
func (r *Registry) HasStartedGroup(groupName string) bool {
	return r.groupHasState(groupName, StateStarted)
}

// HasStoppedGroup reports whether any replica of the group is stopped.
func (r *Registry) HasStoppedGroup(groupName string) bool {
	return r.groupHasState(groupName, StateStopped)
}

func (r *Registry) groupHasState(groupName string, state State) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.groups[groupName]
	if !ok {
		return false
	}

	for _, id := range g.members {
		if e, ok := r.entries[id]; ok && e.state == state {
			return true
		}
	}

	return false
}

// Started returns a snapshot of tasks currently in the started state.
func (r *Registry) Started() []*task.Task { return r.filter(StateStarted) }

// Stopping returns a snapshot of tasks currently in the stopping state.
func (r *Registry) Stopping() []*task.Task { return r.filter(StateStopping) }

// Stopped returns a snapshot of tasks currently in the stopped state.
func (r *Registry) Stopped() []*task.Task { return r.filter(StateStopped) }

func (r *Registry) filter(state State) []*task.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*task.Task, 0, len(r.entries))
	for _, e := range r.entries {
		if e.state == state {
			out = append(out, e.task)
		}
	}

	return out
}

// Start moves a stopped task into started and submits it to the executor.
// It returns ErrNotFound if id is unknown, and is a no-op if the task is
// not currently stopped.
func (r *Registry) Start(id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if e.state != StateStopped {
		r.mu.Unlock()
		return nil
	}
	// Arm synchronously, still holding r.mu, so a Close racing this Start
	// can only observe the task either not-yet-started (StateStopped, this
	// call not yet committed) or fully armed with state already Started —
	// never a window where its close flag has been reset out from under a
	// close request already in flight.
	if !e.task.Arm() {
		r.mu.Unlock()
		return nil
	}
	e.state = StateStarted
	t := e.task
	r.mu.Unlock()

	r.executor.Spawn(context.Background(), t)
	r.mirror.PublishStart(context.Background(), t.Group(), id, t.Analysis().Snapshot())

	r.logger.Info("task started", slog.String("task_id", id))

	return nil
}

// StartGroup starts every stopped replica in the named group.
func (r *Registry) StartGroup(groupName string) {
	r.mu.RLock()
	g, ok := r.groups[groupName]
	var ids []string
	if ok {
		ids = append(ids, g.members...)
	}
	r.mu.RUnlock()

	r.fanOut(ids, func(id string) error { return r.Start(id) })
}

// StartAll starts every stopped task in the registry.
func (r *Registry) StartAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	for id, e := range r.entries {
		if e.state == StateStopped {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()

	r.fanOut(ids, func(id string) error { return r.Start(id) })
}

// Close requests a task stop: sets its close flag and moves it from
// started to stopping. Idempotent when already closed or not started.
func (r *Registry) Close(id string) error {
	return r.close(id, false)
}

// CloseProtected closes id even if it was marked Protect-ed. It exists
// solely for the lifecycle hook to close the status monitor itself, after
// every other task has already drained.
func (r *Registry) CloseProtected(id string) error {
	return r.close(id, true)
}

func (r *Registry) close(id string, bypassProtection bool) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if r.protected[id] && !bypassProtection {
		r.mu.Unlock()
		return ErrProtected
	}
	if e.state != StateStarted {
		r.mu.Unlock()
		return nil
	}
	e.state = StateStopping
	t := e.task
	r.mu.Unlock()

	t.RequestClose()
	r.mirror.PublishStopping(context.Background(), t.Group(), id, t.Analysis().Snapshot())

	r.logger.Info("task close requested", slog.String("task_id", id))

	return nil
}

// CloseGroup closes every started replica in the named group.
func (r *Registry) CloseGroup(groupName string) {
	r.mu.RLock()
	g, ok := r.groups[groupName]
	var ids []string
	if ok {
		ids = append(ids, g.members...)
	}
	r.mu.RUnlock()

	r.fanOut(ids, func(id string) error { return r.Close(id) })
}

// CloseAll closes every started task in the registry except protected
// ones (the status monitor).
func (r *Registry) CloseAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	for id, e := range r.entries {
		if e.state == StateStarted && !r.protected[id] {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()

	r.fanOut(ids, func(id string) error { return r.Close(id) })
}

// fanOut runs fn for each id concurrently via errgroup, matching the
// reference spec's expectation that CloseAll/StartAll don't serialize a
// slow per-task coordination publish behind another task's.
func (r *Registry) fanOut(ids []string, fn func(id string) error) {
	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			return fn(id)
		})
	}
	_ = g.Wait()
}

// Append clones the last replica of groupName size times, assigning each
// clone the next contiguous index. New replicas start in stopped with
// closed=true; if autoStart, they're started immediately, otherwise a
// stopped event is published for each.
func (r *Registry) Append(ctx context.Context, groupName string, size int, autoStart bool) ([]*task.Task, error) {
	if size <= 0 {
		return nil, nil
	}

	r.mu.Lock()
	g, ok := r.groups[groupName]
	if !ok || len(g.members) == 0 {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: group %q has no replicas to clone", ErrNotFound, groupName)
	}

	lastID := g.members[len(g.members)-1]
	template := r.entries[lastID].task

	created := make([]*task.Task, 0, size)
	for i := 0; i < size; i++ {
		newID := fmt.Sprintf("%s-%d", groupName, g.nextID)
		if _, exists := r.entries[newID]; exists {
			// Roll back this call's own clones before failing; nextID
			// keeps advancing so a retried Append picks fresh ids instead
			// of colliding again.
			g.nextID++
			for _, ct := range created {
				delete(r.entries, ct.ID())
				r.removeFromGroup(groupName, ct.ID())
			}
			r.rebalance(groupName)
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: %q", ErrAlreadyRegistered, newID)
		}

		cfg := template.Config().Clone(newID, len(g.members), len(g.members)+1)
		t := task.New(cfg, template.Hooks(), r.logger, r.observer)
		r.entries[newID] = &entry{task: t, state: StateStopped}
		g.append(newID)
		created = append(created, t)
	}
	r.rebalance(groupName)
	r.mu.Unlock()

	r.logger.Info("group appended",
		slog.String("group", groupName),
		slog.Int("size", size),
		slog.Bool("auto_start", autoStart),
	)

	for _, t := range created {
		if autoStart {
			if err := r.Start(t.ID()); err != nil {
				r.logger.Error("failed to auto-start appended replica",
					slog.String("task_id", t.ID()), slog.String("error", err.Error()))
			}
			continue
		}
		r.mirror.PublishStopped(ctx, t.Group(), t.ID(), false, t.Analysis().Snapshot())
	}

	return created, nil
}

// RemoveReplica detaches id from its group and marks it for removal. If
// the group would become empty and force is false, it does nothing and
// returns the (unchanged) group size. If the task is still running, a
// close is issued and the status monitor finalizes the removal once the
// loop exits; otherwise the removal is finalized immediately.
func (r *Registry) RemoveReplica(ctx context.Context, id string, force bool) (int, error) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return 0, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if r.protected[id] {
		r.mu.Unlock()
		return 0, ErrProtected
	}

	groupName := e.task.Group()
	g := r.groups[groupName]
	if g == nil {
		r.mu.Unlock()
		return 0, fmt.Errorf("%w: group %q", ErrNotFound, groupName)
	}

	if len(g.members) <= 1 && !force {
		size := len(g.members)
		r.mu.Unlock()
		return size, nil
	}

	r.removeFromGroup(groupName, id)
	r.rebalance(groupName)
	remaining := len(g.members)

	e.task.SetRemove(true)
	alreadyClosed := e.task.IsClosed() && e.state != StateStarted
	if !alreadyClosed {
		e.state = StateStopping
	}
	r.mu.Unlock()

	if alreadyClosed {
		r.finalizeRemoval(ctx, id, e.task)
		return remaining, nil
	}

	e.task.RequestClose()
	r.mirror.PublishStopping(ctx, e.task.Group(), id, e.task.Analysis().Snapshot())

	return remaining, nil
}

func (r *Registry) finalizeRemoval(ctx context.Context, id string, t *task.Task) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()

	r.mirror.PublishStopped(ctx, t.Group(), id, true, t.Analysis().Snapshot())
	r.logger.Info("task removed", slog.String("task_id", id))
}

// RemoveLastReplica removes the highest-index replica of the group.
func (r *Registry) RemoveLastReplica(ctx context.Context, groupName string) (int, error) {
	r.mu.RLock()
	g, ok := r.groups[groupName]
	var lastID string
	if ok && len(g.members) > 0 {
		lastID = g.members[len(g.members)-1]
	}
	r.mu.RUnlock()

	if lastID == "" {
		return 0, fmt.Errorf("%w: group %q", ErrNotFound, groupName)
	}

	return r.RemoveReplica(ctx, lastID, false)
}

// RemoveGroup removes replicas until one remains, then closes it.
func (r *Registry) RemoveGroup(ctx context.Context, groupName string) error {
	for r.GroupSize(groupName) > 1 {
		if _, err := r.RemoveLastReplica(ctx, groupName); err != nil {
			return err
		}
	}

	r.CloseGroup(groupName)

	return nil
}

// FinalizeStopped is called by the status monitor for each stopping task
// whose loop has exited. It moves the task to stopped (or drops it if
// marked for removal), conditional on identity so a concurrent
// re-registration under the same id can't be clobbered by a stale sweep.
func (r *Registry) FinalizeStopped(ctx context.Context, id string, t *task.Task) (removed bool, moved bool) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok || e.task != t || e.state != StateStopping {
		r.mu.Unlock()
		return false, false
	}

	removed = t.IsRemove()
	if removed {
		delete(r.entries, id)
	} else {
		e.state = StateStopped
	}
	r.mu.Unlock()

	r.mirror.PublishStopped(ctx, t.Group(), id, removed, t.Analysis().Snapshot())

	return removed, true
}
