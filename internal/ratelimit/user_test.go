package ratelimit

import (
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/time/rate"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(interval time.Duration) (*UserLimiter, *fakeClock) {
	clk := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	l := NewUserLimiter(interval)
	l.now = clk.Now
	return l, clk
}

func TestUserLimiter_FirstCallNeverLimited(t *testing.T) {
	l, _ := newTestLimiter(time.Second)
	if l.Limited("u1") {
		t.Fatalf("first call must not be limited")
	}
	if l.Limited("u2") {
		t.Fatalf("first call for another key must not be limited")
	}
}

func TestUserLimiter_WithinAndAfterThreshold(t *testing.T) {
	l, clk := newTestLimiter(time.Second)

	if l.Limited("u") {
		t.Fatalf("first call limited")
	}
	clk.Advance(500 * time.Millisecond)
	if !l.Limited("u") {
		t.Fatalf("call after 500ms should be limited")
	}
	clk.Advance(499 * time.Millisecond)
	if !l.Limited("u") {
		t.Fatalf("call after 999ms should be limited")
	}
	clk.Advance(2 * time.Millisecond)
	if l.Limited("u") {
		t.Fatalf("call after 1001ms should pass")
	}
	// The accepted call refreshed the window.
	clk.Advance(10 * time.Millisecond)
	if !l.Limited("u") {
		t.Fatalf("call right after an accepted one should be limited")
	}
}

func TestUserLimiter_RejectionDoesNotRefresh(t *testing.T) {
	l, clk := newTestLimiter(time.Second)
	_ = l.Limited("u")
	clk.Advance(900 * time.Millisecond)
	if !l.Limited("u") {
		t.Fatalf("expected limited at 900ms")
	}
	// 1001ms after the first (accepted) call, only 101ms after the rejected one.
	clk.Advance(101 * time.Millisecond)
	if l.Limited("u") {
		t.Fatalf("rejected call must not extend the window")
	}
}

func TestUserLimiter_ZeroIntervalDisables(t *testing.T) {
	l, _ := newTestLimiter(0)
	for i := 0; i < 5; i++ {
		if l.Limited("u") {
			t.Fatalf("zero interval should never limit")
		}
	}
	if l.Len() != 0 {
		t.Fatalf("disabled limiter should not track keys, got %d", l.Len())
	}
}

func TestUserLimiter_LimitedChat_KeysByChat(t *testing.T) {
	l, _ := newTestLimiter(time.Second)
	if l.LimitedChat(42) {
		t.Fatalf("first chat call limited")
	}
	if !l.LimitedChat(42) {
		t.Fatalf("second chat call should be limited")
	}
	if l.LimitedChat(43) {
		t.Fatalf("other chat should be independent")
	}
	if l.Len() != 2 {
		t.Fatalf("expected 2 tracked chats, got %d", l.Len())
	}
	if got := testutil.ToFloat64(TrackedChatsGauge(l)); got != 2 {
		t.Fatalf("tracked keys gauge = %v; want 2", got)
	}
}

func TestUserLimiter_getVisitor_GC(t *testing.T) {
	l, clk := newTestLimiter(time.Second)
	l.ttl = time.Minute

	l.mu.Lock()
	l.visitors["old"] = &visitor{
		limiter:  rate.NewLimiter(1, 1),
		lastSeen: clk.Now().Add(-time.Hour),
	}
	// Force cleanup to run on the next lookup.
	l.cleanupN = 4999
	l.mu.Unlock()

	_ = l.getVisitor("new", clk.Now())

	l.mu.Lock()
	_, existsOld := l.visitors["old"]
	_, existsNew := l.visitors["new"]
	n := l.cleanupN
	l.mu.Unlock()

	if existsOld {
		t.Fatalf("expected old visitor to be evicted")
	}
	if !existsNew {
		t.Fatalf("expected new visitor to exist")
	}
	if n != 0 {
		t.Fatalf("expected cleanup counter reset, got %d", n)
	}
}

func TestUserLimiter_ManyKeys(t *testing.T) {
	l, _ := newTestLimiter(time.Second)
	for i := 0; i < 100; i++ {
		if l.Limited("k" + strconv.Itoa(i)) {
			t.Fatalf("first call for key %d limited", i)
		}
	}
	if l.Len() != 100 {
		t.Fatalf("expected 100 keys, got %d", l.Len())
	}
}
