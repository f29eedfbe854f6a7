package schedule_test

import (
	"testing"
	"time"

	"github.com/xraph/schedcore/schedule"
)

func TestParse_ValidExpression(t *testing.T) {
	s, err := schedule.Parse("@every 1m")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	next := s.Next(now)

	if !next.After(now) {
		t.Fatalf("expected next fire time after now, got %v", next)
	}
	if got := next.Sub(now); got != time.Minute {
		t.Fatalf("expected 1 minute step, got %v", got)
	}
}

func TestParse_InvalidExpression(t *testing.T) {
	if _, err := schedule.Parse("not a cron expression"); err == nil {
		t.Fatal("expected error for malformed cron expression")
	}
}

func TestEvery(t *testing.T) {
	e := schedule.NewEvery(time.Second)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	next := e.Next(now)
	if next != now.Add(time.Second) {
		t.Fatalf("expected now+1s, got %v", next)
	}
}
