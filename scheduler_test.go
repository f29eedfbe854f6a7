package sched_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	sched "github.com/xraph/schedcore"
	"github.com/xraph/schedcore/registration"
	"github.com/xraph/schedcore/task"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestScheduler_RegisterStartStop(t *testing.T) {
	s, err := sched.New(sched.WithTickInterval(5 * time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var calls int32
	_, err = s.Register(registration.Descriptor{
		Group:    "reports",
		Parallel: 2,
		Interval: 5 * time.Millisecond,
		Hooks: task.Func(func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		}),
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&calls) >= 2 })

	if s.Registry().GroupSize("reports") != 2 {
		t.Fatalf("GroupSize = %d, want 2", s.Registry().GroupSize("reports"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if len(s.Registry().Started()) != 0 {
		t.Fatal("expected no started tasks after Stop")
	}
}

func TestScheduler_Register_BadDescriptor_ReturnsError(t *testing.T) {
	s, err := sched.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = s.Register(registration.Descriptor{Group: "bad", RunLimit: -1})
	if err == nil {
		t.Fatal("expected an error for a negative run limit")
	}
}

func TestDefault_ReturnsSameInstance(t *testing.T) {
	a, err := sched.Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	b, err := sched.Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if a != b {
		t.Fatal("expected Default to return the same instance across calls")
	}
}
