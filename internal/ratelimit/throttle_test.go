package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestThrottle_SequentialCallsAreSpaced(t *testing.T) {
	const interval = 30 * time.Millisecond
	th := NewThrottle(interval)

	var stamps []time.Time
	for i := 0; i < 5; i++ {
		if _, err := th.Wait(context.Background()); err != nil {
			t.Fatalf("Wait: %v", err)
		}
		stamps = append(stamps, th.last())
	}
	for i := 1; i < len(stamps); i++ {
		if gap := stamps[i].Sub(stamps[i-1]); gap < interval {
			t.Fatalf("call %d only %v after previous; want >= %v", i, gap, interval)
		}
	}
}

func TestThrottle_FirstCallImmediate(t *testing.T) {
	th := NewThrottle(time.Hour)
	waited, err := th.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if waited > 50*time.Millisecond {
		t.Fatalf("first call should not wait, waited %v", waited)
	}
	if th.last().IsZero() {
		t.Fatalf("Last should be recorded")
	}
}

func TestThrottle_ConcurrentCallersSerialized(t *testing.T) {
	const (
		interval = 20 * time.Millisecond
		callers  = 6
	)
	th := NewThrottle(interval)

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := th.Wait(context.Background()); err != nil {
				t.Errorf("Wait: %v", err)
			}
		}()
	}
	wg.Wait()

	if elapsed := time.Since(start); elapsed < (callers-1)*interval {
		t.Fatalf("%d callers passed in %v; want >= %v", callers, elapsed, (callers-1)*interval)
	}
}

func TestThrottle_ContextCancelledWhileSleeping(t *testing.T) {
	th := NewThrottle(time.Hour)
	if _, err := th.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	first := th.last()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := th.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if !th.last().Equal(first) {
		t.Fatalf("cancelled caller must not update the last-call time")
	}

	// The slot was released: a cancelled context fails fast instead of hanging.
	done, cancel2 := context.WithCancel(context.Background())
	cancel2()
	if _, err := th.Wait(done); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestThrottle_UsesRemainingTimeOnly(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	var slept []time.Duration

	th := NewThrottle(350 * time.Millisecond)
	th.now = func() time.Time { return now }
	th.after = func(d time.Duration) <-chan time.Time {
		slept = append(slept, d)
		now = now.Add(d)
		ch := make(chan time.Time, 1)
		ch <- now
		return ch
	}

	if _, err := th.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	now = now.Add(100 * time.Millisecond)
	waited, err := th.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(slept) != 1 || slept[0] != 250*time.Millisecond {
		t.Fatalf("expected a single 250ms sleep, got %v", slept)
	}
	if waited != 250*time.Millisecond {
		t.Fatalf("expected waited=250ms, got %v", waited)
	}

	now = now.Add(time.Second)
	if _, err := th.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(slept) != 1 {
		t.Fatalf("no sleep expected after a long idle period, got %v", slept)
	}
}

func TestThrottle_ZeroInterval(t *testing.T) {
	th := NewThrottle(0)
	for i := 0; i < 3; i++ {
		if w, err := th.Wait(context.Background()); err != nil || w != 0 {
			t.Fatalf("Wait = %v, %v; want 0, nil", w, err)
		}
	}
}
