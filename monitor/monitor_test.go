package monitor_test

import (
	"context"
	"testing"
	"time"

	"github.com/xraph/schedcore/monitor"
	"github.com/xraph/schedcore/registry"
	"github.com/xraph/schedcore/task"
)

func TestMonitor_FinalizesStoppingTasks(t *testing.T) {
	reg := registry.New(nil, nil, nil)

	cfg := task.NewConfig("g-0", "g", 0, 1)
	cfg.Interval = time.Millisecond
	if _, err := reg.Register(cfg, task.Func(func(ctx context.Context) error { return nil })); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Start("g-0"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	mt, err := monitor.Register(reg, 5*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("monitor.Register: %v", err)
	}
	if err := reg.Start(mt.ID()); err != nil {
		t.Fatalf("Start monitor: %v", err)
	}

	if err := reg.Close("g-0"); err != nil {
		t.Fatalf("Close: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(reg.Stopped()) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if got := len(reg.Stopped()); got != 1 {
		t.Fatalf("stopped count = %d, want 1", got)
	}
	if len(reg.Stopping()) != 0 {
		t.Fatal("expected stopping bucket to be empty after finalize")
	}
}

func TestMonitor_IsProtectedFromCloseAll(t *testing.T) {
	reg := registry.New(nil, nil, nil)

	mt, err := monitor.Register(reg, time.Millisecond, nil)
	if err != nil {
		t.Fatalf("monitor.Register: %v", err)
	}
	if err := reg.Start(mt.ID()); err != nil {
		t.Fatalf("Start monitor: %v", err)
	}

	reg.CloseAll()

	if mt.IsClose() {
		t.Fatal("expected CloseAll to leave the monitor running")
	}
}
