package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"escalens/internal/config"
)

// tickEvery fires a fixed interval after whatever "now" it is asked about,
// standing in for a cron expression in tests.
type tickEvery struct{ d time.Duration }

func (s tickEvery) Next(t time.Time) time.Time { return t.Add(s.d) }

func TestLoopRejectsInvalidSchedule(t *testing.T) {
	cfg := config.Config{Schedule: "not a cron line", Location: time.UTC}
	err := Loop(context.Background(), cfg, func(context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestLoopStopsOnCancelBeforeFirstRun(t *testing.T) {
	cfg := config.Config{Schedule: "0 9 * * 1", Location: time.UTC}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- Loop(ctx, cfg, func(context.Context) error { t.Error("fn ran"); return nil }) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("cancellation should return nil, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop on cancel")
	}
}

func TestRunKeepsGoingAfterFailedRuns(t *testing.T) {
	var calls int64
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- run(ctx, tickEvery{5 * time.Millisecond}, time.UTC, func(context.Context) error {
			if atomic.AddInt64(&calls, 1) >= 3 {
				cancel()
			}
			return errors.New("boom")
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v, want nil on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
	if got := atomic.LoadInt64(&calls); got < 3 {
		t.Fatalf("fn ran %d times, want at least 3 despite failures", got)
	}
}
