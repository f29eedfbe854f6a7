package sched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/xraph/schedcore/coordination"
	"github.com/xraph/schedcore/lifecycle"
	"github.com/xraph/schedcore/monitor"
	"github.com/xraph/schedcore/registration"
	"github.com/xraph/schedcore/registry"
	"github.com/xraph/schedcore/task"
)

// Scheduler is the process-wide facade: it wires a registry.Registry, a
// coordination.Port, the status monitor, and a lifecycle.Hook behind a
// small Register/Start/Stop surface.
type Scheduler struct {
	config     Config
	logger     *slog.Logger
	props      registration.PropertySource
	metricsReg prometheus.Registerer

	registry *registry.Registry
	monitor  *task.Task
	hook     *lifecycle.Hook

	etcdClient *clientv3.Client
	watcher    *coordination.Watcher
	watchStop  context.CancelFunc
	watchDone  chan struct{}
}

// New constructs a Scheduler from options and wires its subsystems. It
// does not start anything — call Start to bring the monitor and any
// already-registered tasks up.
func New(opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		config: DefaultConfig(),
		logger: slog.Default(),
		props:  registration.NoProperties,
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	mirror, etcdMirror, err := s.buildMirror()
	if err != nil {
		return nil, err
	}

	s.registry = registry.New(mirror, s.logger, nil)

	monTask, err := monitor.Register(s.registry, s.config.TickInterval, s.logger)
	if err != nil {
		return nil, fmt.Errorf("sched: registering status monitor: %w", err)
	}
	s.monitor = monTask

	s.hook = lifecycle.New(s.registry, s.monitor, s.logger, s.config.ShutdownTimeout)

	if etcdMirror != nil {
		s.watcher = coordination.NewWatcher(etcdMirror, s.registry, s.config.LeaseTTL, s.logger)
	}

	return s, nil
}

func (s *Scheduler) buildMirror() (coordination.Port, *coordination.EtcdMirror, error) {
	if !s.config.EtcdEnable {
		return coordination.EMPTY, nil, nil
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   s.config.EtcdEndpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: connecting to etcd: %v", ErrConfig, err)
	}
	s.etcdClient = client

	etcdMirror := coordination.NewEtcdMirror(client, s.config.CoordinationRoot, s.logger,
		coordination.WithOnPublishError(func(err error) {
			s.logger.Warn("coordination error", slog.String("error", fmt.Errorf("%w: %v", ErrCoordination, err).Error()))
		}),
	)

	var mirror coordination.Port = etcdMirror
	if s.metricsReg != nil {
		mirror = coordination.NewMetricsPort(etcdMirror, s.metricsReg)
	}

	return mirror, etcdMirror, nil
}

// Register resolves d and registers its replicas with the underlying
// registry, ready to be started by Start (which starts everything
// registered so far) or individually through Registry().Start. A
// malformed descriptor yields an error matching both ErrConfig and
// registration.ErrConfig.
func (s *Scheduler) Register(d registration.Descriptor) ([]*task.Task, error) {
	tasks, err := registration.Register(s.registry, d, s.props)
	if errors.Is(err, registration.ErrConfig) {
		return tasks, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	return tasks, err
}

// Registry exposes the underlying registry.Registry for callers that need
// direct access (Find, Append, RemoveReplica, GroupSize, and so on).
func (s *Scheduler) Registry() *registry.Registry { return s.registry }

// Start brings the status monitor up, starts every registered task, and —
// if coordination is enabled — begins watching for remote commands.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.registry == nil {
		return ErrNoRegistry
	}

	if err := s.hook.Start(); err != nil {
		return err
	}

	if s.watcher != nil {
		watchCtx, cancel := context.WithCancel(ctx)
		s.watchStop = cancel
		s.watchDone = make(chan struct{})

		go func() {
			defer close(s.watchDone)
			if err := s.watcher.Run(watchCtx); err != nil && watchCtx.Err() == nil {
				s.logger.Error("coordination watcher exited", slog.String("error", err.Error()))
			}
		}()
	}

	return nil
}

// Stop stops the coordination watcher (if any), then closes every task,
// waits for the status monitor to drain them, closes the monitor itself,
// and closes the etcd client (if any). It returns
// lifecycle.ErrShutdownTimeout if the drain deadline elapses first; the
// etcd client is then left open.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.registry == nil {
		return ErrNoRegistry
	}

	if s.watchStop != nil {
		s.watchStop()
		<-s.watchDone
	}

	if err := s.hook.Stop(ctx); err != nil {
		return err
	}

	if s.etcdClient != nil {
		return s.etcdClient.Close()
	}

	return nil
}

var (
	defaultOnce sync.Once
	defaultInst *Scheduler
	defaultErr  error
)

// Default lazily constructs a process-wide Scheduler on first call and
// returns the same instance on every subsequent call, ignoring opts after
// the first. Most callers building a single-process scheduler should use
// this instead of holding their own Scheduler value.
func Default(opts ...Option) (*Scheduler, error) {
	defaultOnce.Do(func() {
		defaultInst, defaultErr = New(opts...)
	})

	return defaultInst, defaultErr
}
