package coordination

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/xraph/schedcore/backoff"
	"github.com/xraph/schedcore/id"
	"github.com/xraph/schedcore/task"
)

var tracer = otel.Tracer("github.com/xraph/schedcore/coordination")

// state is the wire value written to "<root>/<group>/<id>/state".
type state string

const (
	stateStarted  state = "STARTED"
	stateStopping state = "STOPPING"
	stateStopped  state = "STOPPED"
	stateRemoved  state = "REMOVED"
)

// EtcdMirror publishes task lifecycle transitions to etcd, writing each
// task's state and Analysis snapshot under its own keys, so any peer can
// read a task's current state and stats without talking to the process
// that owns it. Publishes are rate-limited and best-effort: a failed write
// is retried up to maxAttempts times, each attempt bounded by
// publishTimeout, and then ends in a warning log. The publish call waits
// for those attempts; the registry has already committed the local state
// change before it publishes.
type EtcdMirror struct {
	client  *clientv3.Client
	root    string
	logger  *slog.Logger
	limit   *rate.Limiter
	retry   backoff.Strategy
	onError func(error)

	publishTimeout time.Duration
	maxAttempts    int
}

// EtcdOption customises an EtcdMirror at construction.
type EtcdOption func(*EtcdMirror)

// WithPublishTimeout bounds a single etcd write attempt (default 2s).
func WithPublishTimeout(d time.Duration) EtcdOption {
	return func(m *EtcdMirror) { m.publishTimeout = d }
}

// WithRetryStrategy overrides the backoff strategy between publish
// attempts (default backoff.DefaultStrategy).
func WithRetryStrategy(s backoff.Strategy) EtcdOption {
	return func(m *EtcdMirror) { m.retry = s }
}

// WithMaxAttempts caps the number of publish attempts before giving up
// and logging (default 3).
func WithMaxAttempts(n int) EtcdOption {
	return func(m *EtcdMirror) { m.maxAttempts = n }
}

// WithRateLimit caps outbound publish throughput (default 50/s, burst 50).
func WithRateLimit(eventsPerSecond float64, burst int) EtcdOption {
	return func(m *EtcdMirror) { m.limit = rate.NewLimiter(rate.Limit(eventsPerSecond), burst) }
}

// WithOnPublishError registers a callback invoked, in addition to the
// warning log, every time a publish exhausts its retry budget. Scheduler
// wires this to wrap the failure in sched.ErrCoordination without this
// package importing the root package back.
func WithOnPublishError(fn func(error)) EtcdOption {
	return func(m *EtcdMirror) { m.onError = fn }
}

// NewEtcdMirror wraps an existing etcd client. root is the key prefix
// (e.g. "/sched"); it is cleaned to have no trailing slash.
func NewEtcdMirror(client *clientv3.Client, root string, logger *slog.Logger, opts ...EtcdOption) *EtcdMirror {
	if logger == nil {
		logger = slog.Default()
	}

	m := &EtcdMirror{
		client:         client,
		root:           path.Clean("/" + root),
		logger:         logger,
		limit:          rate.NewLimiter(rate.Limit(50), 50),
		retry:          backoff.DefaultStrategy(),
		publishTimeout: 2 * time.Second,
		maxAttempts:    3,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *EtcdMirror) statePath(group, id string) string {
	return path.Join(m.root, group, id, "state")
}

func (m *EtcdMirror) analysisPath(group, id string) string {
	return path.Join(m.root, group, id, "analysis")
}

// CommandPath returns the ordered command queue prefix, exported so the
// watch loop and any external publisher agree on the layout.
func (m *EtcdMirror) CommandPath() string {
	return path.Join(m.root, "_commands")
}

// PublishStart implements Port.
func (m *EtcdMirror) PublishStart(ctx context.Context, group, id string, an task.Snapshot) {
	m.publish(ctx, "start", group, id, stateStarted, an)
}

// PublishStopping implements Port.
func (m *EtcdMirror) PublishStopping(ctx context.Context, group, id string, an task.Snapshot) {
	m.publish(ctx, "stopping", group, id, stateStopping, an)
}

// PublishStopped implements Port.
func (m *EtcdMirror) PublishStopped(ctx context.Context, group, id string, removed bool, an task.Snapshot) {
	st := stateStopped
	if removed {
		st = stateRemoved
	}
	m.publish(ctx, "stopped", group, id, st, an)
}

func (m *EtcdMirror) publish(ctx context.Context, transition, group, id string, st state, an task.Snapshot) {
	ctx, span := tracer.Start(ctx, "coordination.publish",
		trace.WithAttributes(
			attribute.String("task.id", id),
			attribute.String("task.group", group),
			attribute.String("transition", transition),
		),
	)
	defer span.End()

	body, err := json.Marshal(an)
	if err != nil {
		span.RecordError(err)
		m.logger.Error("coordination: marshal analysis snapshot", slog.String("error", err.Error()))
		return
	}

	var lastErr error
attempts:
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		if err := m.limit.Wait(ctx); err != nil {
			lastErr = err
			break
		}

		lastErr = m.writeOnce(ctx, group, id, st, body)
		if lastErr == nil {
			span.SetStatus(codes.Ok, "")
			return
		}

		if attempt < m.maxAttempts {
			select {
			case <-time.After(m.retry.Delay(attempt)):
			case <-ctx.Done():
				lastErr = ctx.Err()
				break attempts
			}
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	m.logger.Warn("coordination: publish failed, continuing locally",
		slog.String("task_id", id),
		slog.String("transition", transition),
		slog.String("error", lastErr.Error()),
	)

	if m.onError != nil {
		m.onError(lastErr)
	}
}

func (m *EtcdMirror) writeOnce(ctx context.Context, group, id string, st state, analysisJSON []byte) error {
	ctx, cancel := context.WithTimeout(ctx, m.publishTimeout)
	defer cancel()

	ops := []clientv3.Op{
		clientv3.OpPut(m.statePath(group, id), string(st)),
		clientv3.OpPut(m.analysisPath(group, id), string(analysisJSON)),
	}

	if _, err := m.client.Txn(ctx).Then(ops...).Commit(); err != nil {
		return fmt.Errorf("coordination: etcd txn: %w", err)
	}

	return nil
}

// PublishCommand enqueues a remote command for any watcher on this etcd
// cluster to pick up, keyed by a K-sortable CommandID so the order
// watcher's FIFO consumption matches publish order even across processes.
func (m *EtcdMirror) PublishCommand(ctx context.Context, cmd Command) error {
	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("coordination: marshal command: %w", err)
	}

	key := path.Join(m.CommandPath(), id.NewCommandID().String())

	ctx, cancel := context.WithTimeout(ctx, m.publishTimeout)
	defer cancel()

	if _, err := m.client.Put(ctx, key, string(body)); err != nil {
		return fmt.Errorf("coordination: put command: %w", err)
	}

	return nil
}

// Close releases the underlying etcd client.
func (m *EtcdMirror) Close() error {
	return m.client.Close()
}
