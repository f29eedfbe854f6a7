package coordination_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/xraph/schedcore/coordination"
	"github.com/xraph/schedcore/task"
)

func TestCommand_JSONRoundTrip(t *testing.T) {
	cmd := coordination.Command{Kind: coordination.CommandAppend, Group: "reports", Size: 2, AutoStart: true}

	body, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got coordination.Command
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != cmd {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, cmd)
	}
}

func TestEmpty_NeverPanics(t *testing.T) {
	an := task.Snapshot{Count: 1}
	coordination.EMPTY.PublishStart(context.Background(), "g", "g-0", an)
	coordination.EMPTY.PublishStopping(context.Background(), "g", "g-0", an)
	coordination.EMPTY.PublishStopped(context.Background(), "g", "g-0", false, an)
}

func TestMetricsPort_ForwardsAndCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	mp := coordination.NewMetricsPort(coordination.EMPTY, reg)

	an := task.Snapshot{Count: 5}
	mp.PublishStart(context.Background(), "g", "g-0", an)
	mp.PublishStopping(context.Background(), "g", "g-0", an)
	mp.PublishStopped(context.Background(), "g", "g-0", false, an)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	var found bool
	for _, mf := range families {
		if mf.GetName() != "sched_coordination_transitions_total" {
			continue
		}
		found = true
		var total float64
		for _, metric := range mf.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
		if total != 3 {
			t.Fatalf("transitions total = %v, want 3", total)
		}
	}
	if !found {
		t.Fatal("expected sched_coordination_transitions_total metric family")
	}
}

func TestEtcdMirror_OnPublishErrorCallback(t *testing.T) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{"127.0.0.1:1"},
		DialTimeout: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer client.Close()

	var called bool
	var gotErr error
	mirror := coordination.NewEtcdMirror(client, "/sched", nil,
		coordination.WithMaxAttempts(1),
		coordination.WithPublishTimeout(20*time.Millisecond),
		coordination.WithRateLimit(1000, 1000),
		coordination.WithOnPublishError(func(err error) {
			called = true
			gotErr = err
		}),
	)

	mirror.PublishStart(context.Background(), "g", "g-0", task.Snapshot{Count: 1})

	if !called {
		t.Fatal("expected WithOnPublishError callback to fire when etcd is unreachable")
	}
	if gotErr == nil {
		t.Fatal("expected a non-nil error passed to the callback")
	}
}
