// Package registration turns a static Descriptor into the replicated set
// of task.Configs a registry.Registry needs, resolving Parallel and Cron
// from either static fields or a property source, and validating the
// result before anything is registered.
//
// It replaces the reference implementation's class-annotation scanner:
// callers build a Descriptor explicitly (or from their own DI wiring)
// instead of the scheduler discovering it by reflection.
package registration

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/xraph/schedcore/registry"
	"github.com/xraph/schedcore/schedule"
	"github.com/xraph/schedcore/task"
)

// ErrConfig is returned for a malformed descriptor: an unparsable
// property value, a negative run limit, or an invalid cron expression.
var ErrConfig = errors.New("registration: invalid descriptor")

// PropertySource resolves a named property to its current string value,
// the way a config layer or environment overlay would. A comma-separated
// CronProperty value is treated as a priority list; resolveCron takes its
// last non-blank entry, mirroring the reference implementation's override
// semantics for multi-source property stacks.
type PropertySource interface {
	Lookup(key string) (string, bool)
}

// MapSource is a PropertySource backed by a plain map, useful for tests
// and for callers wiring properties from already-parsed configuration.
type MapSource map[string]string

// Lookup implements PropertySource.
func (m MapSource) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// noProperties is used when a caller has no property source; every
// lookup misses, so resolution always falls back to the static fields.
type noProperties struct{}

func (noProperties) Lookup(string) (string, bool) { return "", false }

// NoProperties is the PropertySource with no entries.
var NoProperties PropertySource = noProperties{}

// Descriptor is the static declaration of one task group: how many
// replicas, on what cadence, running which hooks.
type Descriptor struct {
	// Group names the replica set; replica ids are "<Group>-<index>".
	Group string

	// Parallel is the replica count used when CoreParallel is false and
	// ParallelProperty resolves to nothing usable.
	Parallel int
	// CoreParallel, if true, overrides Parallel with runtime.NumCPU().
	CoreParallel bool
	// ParallelProperty, if non-empty, is looked up in the PropertySource
	// passed to Resolve; a positive integer there overrides Parallel.
	ParallelProperty string

	// Cron is the static cron expression. Empty means no schedule: the
	// task runs continuously on Interval instead.
	Cron string
	// CronProperty, if non-empty and it resolves to a non-blank value,
	// overrides Cron.
	CronProperty string

	Interval        time.Duration
	RunLimit        int
	BeforeAfterOnly bool
	Daemon          bool
	Lazy            bool

	Hooks task.Hooks
}

// Resolve computes the effective replica count and Schedule for d against
// props (pass NoProperties if there is no property source).
func (d Descriptor) Resolve(props PropertySource) (parallel int, sc schedule.Schedule, err error) {
	if props == nil {
		props = NoProperties
	}

	parallel, err = d.resolveParallel(props)
	if err != nil {
		return 0, nil, err
	}

	cronExpr, err := d.resolveCron(props)
	if err != nil {
		return 0, nil, err
	}

	if cronExpr != "" {
		sc, err = schedule.Parse(cronExpr)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: %s: %v", ErrConfig, d.Group, err)
		}
	}

	if d.RunLimit < 0 {
		return 0, nil, fmt.Errorf("%w: %s: run limit must be >= 0, got %d", ErrConfig, d.Group, d.RunLimit)
	}

	if d.Group == "" {
		return 0, nil, fmt.Errorf("%w: descriptor is missing Group", ErrConfig)
	}

	return parallel, sc, nil
}

func (d Descriptor) resolveParallel(props PropertySource) (int, error) {
	if d.CoreParallel {
		return runtime.NumCPU(), nil
	}

	if d.ParallelProperty != "" {
		if raw, ok := props.Lookup(d.ParallelProperty); ok {
			if v := strings.TrimSpace(raw); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil {
					return 0, fmt.Errorf("%w: %s: parallel property %q = %q is not an integer", ErrConfig, d.Group, d.ParallelProperty, raw)
				}
				if n > 0 {
					return n, nil
				}
			}
		}
	}

	if d.Parallel < 0 {
		return 0, nil
	}

	return d.Parallel, nil
}

func (d Descriptor) resolveCron(props PropertySource) (string, error) {
	if d.CronProperty != "" {
		if raw, ok := props.Lookup(d.CronProperty); ok {
			if v := lastNonBlank(raw); v != "" {
				return v, nil
			}
		}
	}

	return d.Cron, nil
}

// lastNonBlank splits a comma-separated override list and returns its
// last non-blank entry, or "" if every entry is blank.
func lastNonBlank(v string) string {
	parts := strings.Split(v, ",")
	for i := len(parts) - 1; i >= 0; i-- {
		if s := strings.TrimSpace(parts[i]); s != "" {
			return s
		}
	}

	return ""
}

// Register resolves d and registers one task.Config per replica with reg,
// in order, returning every task created before the first error (a
// duplicate id leaves the tasks registered so far in place — Registry
// itself makes no partial mutation for the failing id).
func Register(reg *registry.Registry, d Descriptor, props PropertySource) ([]*task.Task, error) {
	parallel, sc, err := d.Resolve(props)
	if err != nil {
		return nil, err
	}

	tasks := make([]*task.Task, 0, parallel)
	for i := 0; i < parallel; i++ {
		id := fmt.Sprintf("%s-%d", d.Group, i)
		cfg := task.NewConfig(id, d.Group, i, parallel)
		cfg.Schedule = sc
		cfg.Interval = d.Interval
		cfg.RunLimit = d.RunLimit
		cfg.BeforeAfterOnly = d.BeforeAfterOnly
		cfg.Daemon = d.Daemon
		cfg.Lazy = d.Lazy

		t, err := reg.Register(cfg, d.Hooks)
		if err != nil {
			return tasks, err
		}

		tasks = append(tasks, t)
	}

	return tasks, nil
}
