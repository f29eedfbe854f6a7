package registration_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/schedcore/registration"
	"github.com/xraph/schedcore/registry"
	"github.com/xraph/schedcore/task"
)

func TestDescriptor_Resolve_StaticParallel(t *testing.T) {
	d := registration.Descriptor{Group: "g", Parallel: 3}

	n, sc, err := d.Resolve(nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if n != 3 {
		t.Fatalf("parallel = %d, want 3", n)
	}
	if sc != nil {
		t.Fatal("expected no schedule for a Cron-less descriptor")
	}
}

func TestDescriptor_Resolve_CoreParallelWins(t *testing.T) {
	d := registration.Descriptor{Group: "g", Parallel: 3, CoreParallel: true}

	n, _, err := d.Resolve(nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if n <= 0 {
		t.Fatalf("parallel = %d, want > 0 (runtime.NumCPU)", n)
	}
}

func TestDescriptor_Resolve_ParallelProperty_OverridesStatic(t *testing.T) {
	d := registration.Descriptor{Group: "g", Parallel: 1, ParallelProperty: "workers.count"}
	props := registration.MapSource{"workers.count": "5"}

	n, _, err := d.Resolve(props)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if n != 5 {
		t.Fatalf("parallel = %d, want 5", n)
	}
}

func TestDescriptor_Resolve_BadParallelProperty_IsErrConfig(t *testing.T) {
	d := registration.Descriptor{Group: "g", Parallel: 1, ParallelProperty: "workers.count"}
	props := registration.MapSource{"workers.count": "not-a-number"}

	if _, _, err := d.Resolve(props); !errors.Is(err, registration.ErrConfig) {
		t.Fatalf("Resolve = %v, want ErrConfig for a non-integer property value", err)
	}
}

func TestDescriptor_Resolve_CronProperty_LastNonBlankWins(t *testing.T) {
	d := registration.Descriptor{Group: "g", Cron: "@hourly", CronProperty: "g.cron"}
	props := registration.MapSource{"g.cron": "@every 1m, , @every 30s"}

	_, sc, err := d.Resolve(props)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if sc == nil {
		t.Fatal("expected a schedule from the property override")
	}

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := sc.Next(now).Sub(now); got != 30*time.Second {
		t.Fatalf("schedule step = %v, want 30s (the last non-blank entry)", got)
	}
}

func TestDescriptor_Resolve_NegativeRunLimit_IsErrConfig(t *testing.T) {
	d := registration.Descriptor{Group: "g", Parallel: 1, RunLimit: -1}

	if _, _, err := d.Resolve(nil); !errors.Is(err, registration.ErrConfig) {
		t.Fatalf("Resolve = %v, want ErrConfig for a negative run limit", err)
	}
}

func TestRegister_CreatesConsecutiveReplicas(t *testing.T) {
	reg := registry.New(nil, nil, nil)
	d := registration.Descriptor{
		Group:    "g",
		Parallel: 3,
		Hooks:    task.Func(func(ctx context.Context) error { return nil }),
	}

	tasks, err := registration.Register(reg, d, nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("created %d tasks, want 3", len(tasks))
	}
	for i, tk := range tasks {
		if tk.ID() != "g-"+string(rune('0'+i)) {
			t.Fatalf("task %d id = %q", i, tk.ID())
		}
		if tk.Config().Index() != i || tk.Config().Total() != 3 {
			t.Fatalf("task %d shard = (%d, %d), want (%d, 3)", i, tk.Config().Index(), tk.Config().Total(), i)
		}
	}
}

func TestRegister_DuplicateGroup_ReturnsErrAlreadyRegistered(t *testing.T) {
	reg := registry.New(nil, nil, nil)
	d := registration.Descriptor{
		Group:    "g",
		Parallel: 1,
		Hooks:    task.Func(func(ctx context.Context) error { return nil }),
	}

	if _, err := registration.Register(reg, d, nil); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if _, err := registration.Register(reg, d, nil); !errors.Is(err, registry.ErrAlreadyRegistered) {
		t.Fatalf("second Register = %v, want ErrAlreadyRegistered", err)
	}
}
