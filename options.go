package sched

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xraph/schedcore/registration"
)

// Option configures a Scheduler at construction. Options run in the order
// passed, before the registry, coordination mirror, and monitor are wired.
type Option func(*Scheduler) error

// WithLogger sets the structured logger used by every subsystem.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) error {
		s.logger = l
		return nil
	}
}

// WithEtcdEndpoints enables coordination against the given etcd cluster.
// Equivalent to setting EtcdEnable and EtcdEndpoints together.
func WithEtcdEndpoints(endpoints []string) Option {
	return func(s *Scheduler) error {
		s.config.EtcdEnable = true
		s.config.EtcdEndpoints = endpoints
		return nil
	}
}

// WithCoordinationRoot overrides the etcd key prefix (default "/sched").
func WithCoordinationRoot(root string) Option {
	return func(s *Scheduler) error {
		s.config.CoordinationRoot = root
		return nil
	}
}

// WithLeaseTTL overrides the watcher's presence lease TTL.
func WithLeaseTTL(d time.Duration) Option {
	return func(s *Scheduler) error {
		s.config.LeaseTTL = d
		return nil
	}
}

// WithShutdownTimeout bounds how long Stop waits for tasks to drain.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Scheduler) error {
		s.config.ShutdownTimeout = d
		return nil
	}
}

// WithTickInterval overrides the status monitor's sweep cadence.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) error {
		s.config.TickInterval = d
		return nil
	}
}

// WithPropertySource supplies the property lookup used to resolve
// ParallelProperty/CronProperty on descriptors passed to Register.
func WithPropertySource(props registration.PropertySource) Option {
	return func(s *Scheduler) error {
		s.props = props
		return nil
	}
}

// WithMetrics registers coordination and task metrics with reg. Without
// this option, publishes still happen but nothing is exported to
// Prometheus. Metrics are wired only when coordination is enabled; with
// etcd disabled this option has no effect.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(s *Scheduler) error {
		s.metricsReg = reg
		return nil
	}
}

// WithFilter sets BasePackage/Includes/Exclusions, retained for parity
// with a reference scan-based registration front end. Scheduler itself
// never consults these; they exist for callers building their own
// descriptor-discovery layer on top of package registration.
func WithFilter(basePackage string, includes, exclusions []string) Option {
	return func(s *Scheduler) error {
		s.config.BasePackage = basePackage
		s.config.Includes = includes
		s.config.Exclusions = exclusions
		return nil
	}
}
