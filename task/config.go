package task

import (
	"sync"
	"time"

	"github.com/xraph/schedcore/schedule"
)

// Config is the immutable-ish descriptor for one replica. ID and Group
// never change after registration; Index and Total are recomputed by
// registry.Registry.rebalance whenever group membership changes, so they
// are guarded by their own mutex and exposed only through accessors —
// a running Execute() re-reads Index()/Total() at the start of every
// iteration rather than caching them.
type Config struct {
	// ID is unique across the process. By convention "group-index".
	ID string
	// Group is the name of the replica set this task belongs to.
	Group string

	// Schedule fires the task on a cron-like cadence. Nil means the task
	// runs continuously, sleeping Interval between iterations.
	Schedule schedule.Schedule
	// Interval is the minimum sleep between iterations when Schedule is
	// nil. Zero means no sleep (a tight loop bounded only by Execute).
	Interval time.Duration
	// RunLimit stops the task after N iterations; iterations whose hooks
	// failed count too. Zero means unbounded. Must be >= 0 — enforced by
	// package registration.
	RunLimit int

	// Daemon marks the task as not worth waiting on during shutdown: the
	// lifecycle drain does not wait for it and does not name it in the
	// timeout warning.
	Daemon bool
	// Lazy delays the first schedule wait instead of firing immediately.
	// It does not gate Before.
	Lazy bool
	// BeforeAfterOnly runs Before only on the first iteration of a Start
	// and After only on the iteration that reaches RunLimit, instead of
	// around each Execute. With RunLimit zero, or when the task is closed
	// before reaching RunLimit, After does not run.
	BeforeAfterOnly bool

	mu    sync.RWMutex
	index int
	total int
}

// NewConfig constructs a Config with the given index/total already set.
// Index must be in [0, total).
func NewConfig(id, group string, index, total int) *Config {
	return &Config{ID: id, Group: group, index: index, total: total}
}

// Index returns this replica's current 0-based position in its group.
func (c *Config) Index() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.index
}

// Total returns the current replica count of this task's group.
func (c *Config) Total() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.total
}

// setShard is called only by registry.Registry.rebalance.
func (c *Config) setShard(index, total int) {
	c.mu.Lock()
	c.index = index
	c.total = total
	c.mu.Unlock()
}

// SetShard updates this replica's (index, total) assignment. Exported so
// package registry can rebalance without an import cycle back into task;
// no other caller should use it.
func (c *Config) SetShard(index, total int) { c.setShard(index, total) }

// Clone returns a new Config for a cloned replica: same schedule,
// interval, run limit and flags, with a new id/index/total.
func (c *Config) Clone(id string, index, total int) *Config {
	return &Config{
		ID:              id,
		Group:           c.Group,
		Schedule:        c.Schedule,
		Interval:        c.Interval,
		RunLimit:        c.RunLimit,
		Daemon:          c.Daemon,
		Lazy:            c.Lazy,
		BeforeAfterOnly: c.BeforeAfterOnly,
		index:           index,
		total:           total,
	}
}
