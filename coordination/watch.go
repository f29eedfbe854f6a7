package coordination

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/xraph/schedcore/id"
)

// CommandKind identifies the operation a remote command requests.
type CommandKind string

const (
	CommandStart      CommandKind = "start"
	CommandClose      CommandKind = "close"
	CommandAppend     CommandKind = "append"
	CommandRemoveLast CommandKind = "remove_last"
)

// Command is the JSON payload written under "<root>/_commands/<seq>".
// Any process holding an EtcdMirror can publish one with PublishCommand;
// every Watcher on the cluster observes it in FIFO order.
type Command struct {
	Kind      CommandKind `json:"kind"`
	TaskID    string      `json:"task_id,omitempty"`
	Group     string      `json:"group,omitempty"`
	Size      int         `json:"size,omitempty"`
	AutoStart bool        `json:"auto_start,omitempty"`
}

// Watcher holds a TTL lease, kept alive for as long as Run runs and
// revoked when it returns, and watches the command queue in key order,
// dispatching each entry to a
// CommandTarget as it arrives. Commands are consumed in the order etcd
// returns keys under the queue prefix, which — given monotonically
// increasing sequence suffixes — is FIFO. No key is written under the
// lease, so the lease does not keep any presence key or directory alive.
type Watcher struct {
	client *clientv3.Client
	mirror *EtcdMirror
	target CommandTarget
	logger *slog.Logger
	nodeID id.ID

	leaseTTL time.Duration
}

// NewWatcher constructs a Watcher over mirror's etcd client and key
// layout, dispatching commands into target. Each Watcher generates its
// own NodeID, used only to label its own log lines.
func NewWatcher(mirror *EtcdMirror, target CommandTarget, leaseTTL time.Duration, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if leaseTTL <= 0 {
		leaseTTL = 30 * time.Second
	}

	return &Watcher{
		client:   mirror.client,
		mirror:   mirror,
		target:   target,
		logger:   logger,
		nodeID:   id.NewNodeID(),
		leaseTTL: leaseTTL,
	}
}

// Run holds a self-renewing TTL lease and watches the command queue until
// ctx is cancelled. It is meant to run for the lifetime of the process on
// its own goroutine.
func (w *Watcher) Run(ctx context.Context) error {
	lease, err := w.acquireLease(ctx)
	if err != nil {
		return fmt.Errorf("coordination: acquire lease: %w", err)
	}
	w.logger.Info("coordination watcher started", slog.String("node_id", w.nodeID.String()))
	defer func() {
		_, _ = w.client.Revoke(context.Background(), lease.ID)
	}()

	keepAlive, err := w.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return fmt.Errorf("coordination: keepalive: %w", err)
	}

	watchCh := w.client.Watch(ctx, w.mirror.CommandPath(),
		clientv3.WithPrefix(), clientv3.WithRev(0))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ka, ok := <-keepAlive:
			if !ok {
				return fmt.Errorf("coordination: lease keepalive channel closed")
			}
			_ = ka // TTL renewal observed; nothing else to do.

		case resp, ok := <-watchCh:
			if !ok {
				return fmt.Errorf("coordination: command watch channel closed")
			}
			if err := resp.Err(); err != nil {
				w.logger.Error("coordination: watch error", slog.String("error", err.Error()))
				continue
			}

			for _, ev := range resp.Events {
				if ev.Type != clientv3.EventTypePut {
					continue
				}
				w.dispatch(ctx, ev.Kv.Key, ev.Kv.Value)
			}
		}
	}
}

func (w *Watcher) acquireLease(ctx context.Context) (*clientv3.LeaseGrantResponse, error) {
	return w.client.Grant(ctx, int64(w.leaseTTL.Seconds()))
}

func (w *Watcher) dispatch(ctx context.Context, key, value []byte) {
	var cmd Command
	if err := json.Unmarshal(value, &cmd); err != nil {
		w.logger.Error("coordination: malformed command", slog.String("key", string(key)), slog.String("error", err.Error()))
		return
	}

	var err error
	switch cmd.Kind {
	case CommandStart:
		err = w.target.Start(cmd.TaskID)
	case CommandClose:
		err = w.target.Close(cmd.TaskID)
	case CommandAppend:
		_, err = w.target.Append(ctx, cmd.Group, cmd.Size, cmd.AutoStart)
	case CommandRemoveLast:
		_, err = w.target.RemoveLastReplica(ctx, cmd.Group)
	default:
		w.logger.Warn("coordination: unknown command kind", slog.String("kind", string(cmd.Kind)))
		return
	}

	if err != nil {
		w.logger.Error("coordination: command dispatch failed",
			slog.String("kind", string(cmd.Kind)),
			slog.String("error", err.Error()),
		)
	}
}
