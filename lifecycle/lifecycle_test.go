package lifecycle_test

import (
	"context"
	"testing"
	"time"

	"github.com/xraph/schedcore/lifecycle"
	"github.com/xraph/schedcore/monitor"
	"github.com/xraph/schedcore/registry"
	"github.com/xraph/schedcore/task"
)

func TestHook_StartAndStop_DrainsAllTasks(t *testing.T) {
	reg := registry.New(nil, nil, nil)

	mt, err := monitor.Register(reg, 5*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("monitor.Register: %v", err)
	}

	cfg := task.NewConfig("g-0", "g", 0, 1)
	cfg.Interval = time.Millisecond
	if _, err := reg.Register(cfg, task.Func(func(ctx context.Context) error { return nil })); err != nil {
		t.Fatalf("Register: %v", err)
	}

	hook := lifecycle.New(reg, mt, nil, 2*time.Second)

	if err := hook.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !reg.HasStartedGroup("g") {
		t.Fatal("expected g to be started")
	}

	if err := hook.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if len(reg.Started()) != 0 || len(reg.Stopping()) != 0 {
		t.Fatal("expected all tasks drained after Stop")
	}
	if mt.IsClose() != true || !mt.IsClosed() {
		t.Fatal("expected monitor to be closed after Stop")
	}
}

func TestHook_Stop_TimesOutOnUndrainableTask(t *testing.T) {
	reg := registry.New(nil, nil, nil)

	mt, err := monitor.Register(reg, 5*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("monitor.Register: %v", err)
	}

	block := make(chan struct{})
	cfg := task.NewConfig("g-0", "g", 0, 1)
	cfg.RunLimit = 1
	if _, err := reg.Register(cfg, task.Func(func(ctx context.Context) error {
		<-block
		return nil
	})); err != nil {
		t.Fatalf("Register: %v", err)
	}
	defer close(block)

	hook := lifecycle.New(reg, mt, nil, 50*time.Millisecond)
	if err := hook.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := hook.Stop(context.Background()); err != lifecycle.ErrShutdownTimeout {
		t.Fatalf("Stop = %v, want ErrShutdownTimeout", err)
	}
}
