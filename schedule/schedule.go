// Package schedule provides the opaque cron-like predicate a task loop
// waits on between iterations. A Schedule only ever answers "when should I
// next fire", never how it got there — the scheduling algorithm (cron
// expression, fixed interval, or anything else) is fully encapsulated.
package schedule

import (
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// Schedule answers "what is the next instant at or after now that this
// task should fire". Implementations must be safe for concurrent use;
// task.Task calls Next from a single goroutine per task, but the same
// Schedule value may be shared across replicas of a group.
type Schedule interface {
	Next(now time.Time) time.Time
}

// cronParser accepts standard 5-field cron plus descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// cronSchedule adapts a robfig/cron/v3 Schedule to this package's Schedule
// interface.
type cronSchedule struct {
	expr string
	inner cronlib.Schedule
}

// Parse parses a cron expression (or "@every"/"@hourly"-style descriptor)
// into a Schedule. Returns an error wrapping the underlying parse failure
// on malformed input; callers in package registration turn that into
// registration.ErrConfig.
func Parse(expr string) (Schedule, error) {
	inner, err := cronParser.Parse(expr)
	if err != nil {
		return nil, err
	}

	return &cronSchedule{expr: expr, inner: inner}, nil
}

// MustParse is like Parse but panics on error. Use only for hardcoded
// expressions known to be valid.
func MustParse(expr string) Schedule {
	s, err := Parse(expr)
	if err != nil {
		panic("schedule: invalid cron expression " + expr + ": " + err.Error())
	}

	return s
}

// Next returns the next fire time strictly after now, per the cron
// expression's own semantics.
func (c *cronSchedule) Next(now time.Time) time.Time {
	return c.inner.Next(now)
}

// String returns the original cron expression.
func (c *cronSchedule) String() string { return c.expr }

// Every returns a Schedule that fires every d starting d after now — the
// schedule.Schedule equivalent of a task with no cron expression and a
// positive interval. Tasks with an interval but no explicit schedule don't
// go through this type (task.Task sleeps on the interval directly); Every
// is for callers that want a Schedule value without cron syntax. The
// status monitor does not use it: it runs on a plain Interval.
type Every struct {
	Interval time.Duration
}

// NewEvery constructs an Every schedule.
func NewEvery(d time.Duration) *Every { return &Every{Interval: d} }

// Next returns now+Interval.
func (e *Every) Next(now time.Time) time.Time {
	return now.Add(e.Interval)
}
