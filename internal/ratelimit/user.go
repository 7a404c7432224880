// Package ratelimit contains the two limiters the bot runs with.
//
// UserLimiter is a per-key limiter that rejects a request arriving sooner
// than a fixed interval after the previous accepted one. Throttle is a single
// process-wide gate that spaces outbound content-API calls at least a fixed
// interval apart, delaying callers instead of rejecting them.
//
// Both are process-local and safe for concurrent use.
package ratelimit

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// visitor holds a single rate limiter and the last time it was seen.
// Used to opportunistically evict idle buckets.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// UserLimiter implements fixed-interval limiting per key on top of
// golang.org/x/time/rate: every key gets a bucket of size 1 refilled once
// per interval, so the first request always passes and any request within
// interval of the last accepted one is rejected. Rejections do not consume
// anything, so they do not push the window forward.
//
// Buckets are created on demand and idle ones are evicted after a TTL via
// opportunistic cleanup during lookups to keep memory usage bounded.
type UserLimiter struct {
	interval time.Duration
	mu       sync.Mutex
	visitors map[string]*visitor

	ttl      time.Duration
	cleanupN uint64
	now      func() time.Time
}

// NewUserLimiter constructs a UserLimiter with the given minimum interval
// between accepted requests of the same key. A non-positive interval
// disables limiting.
func NewUserLimiter(interval time.Duration) *UserLimiter {
	ttl := 10 * time.Minute
	if interval > ttl {
		ttl = interval
	}
	return &UserLimiter{
		interval: interval,
		visitors: make(map[string]*visitor),
		ttl:      ttl, // evict idle entries after TTL
		now:      time.Now,
	}
}

// getVisitor returns (and updates) the limiter for key, creating it if absent.
// It also performs opportunistic GC of idle entries after ~5000 lookups.
//
// GC runs before touching the requested visitor so an idle bucket can be
// evicted even when it is the one being fetched.
func (l *UserLimiter) getVisitor(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cleanupN++
	if l.cleanupN >= 5000 {
		for k, vv := range l.visitors {
			if now.Sub(vv.lastSeen) >= l.ttl {
				delete(l.visitors, k)
			}
		}
		l.cleanupN = 0
	}

	if v, ok := l.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}

	lim := rate.NewLimiter(rate.Every(l.interval), 1)
	l.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// Limited reports whether a request for key must be dropped, and records it
// as the key's latest access when it is accepted.
func (l *UserLimiter) Limited(key string) bool {
	if l.interval <= 0 {
		return false
	}
	now := l.now()
	return !l.getVisitor(key, now).AllowN(now, 1)
}

// LimitedChat is Limited keyed by a Telegram chat id.
func (l *UserLimiter) LimitedChat(chatID int64) bool {
	return l.Limited("chat:" + strconv.FormatInt(chatID, 10))
}

// Len returns the number of tracked keys.
func (l *UserLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// TrackedChatsGauge reports l.Len() as ratelimit_tracked_keys.
func TrackedChatsGauge(l *UserLimiter) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ratelimit_tracked_keys",
		Help: "Keys currently held by the per-chat rate limiter.",
	}, func() float64 { return float64(l.Len()) })
}
