package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
)

func TestMemoryHistory_LastAndRemember(t *testing.T) {
	h := NewMemoryHistory(10, time.Hour)
	ctx := context.Background()

	if got, err := h.Last(ctx, 1); err != nil || got != "" {
		t.Fatalf("unknown chat: got %q, %v; want empty", got, err)
	}
	if err := h.Remember(ctx, 1, "https://v/a.mp4"); err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if err := h.Remember(ctx, 1, "https://v/b.mp4"); err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if got, _ := h.Last(ctx, 1); got != "https://v/b.mp4" {
		t.Fatalf("Last = %q; want latest pick", got)
	}
	if got, _ := h.Last(ctx, 2); got != "" {
		t.Fatalf("other chat leaked: %q", got)
	}
}

func TestMemoryHistory_Bounded(t *testing.T) {
	h := NewMemoryHistory(2, 0)
	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		_ = h.Remember(ctx, i, "u")
	}
	if h.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", h.Len())
	}
	if got := testutil.ToFloat64(HistoryGauge(h)); got != 2 {
		t.Fatalf("history gauge = %v; want 2", got)
	}
	if got, _ := h.Last(ctx, 1); got != "" {
		t.Fatalf("oldest chat should be evicted, got %q", got)
	}
}

func TestMemoryHistory_Expires(t *testing.T) {
	h := NewMemoryHistory(10, 20*time.Millisecond)
	ctx := context.Background()
	_ = h.Remember(ctx, 7, "https://v/x.mp4")
	time.Sleep(60 * time.Millisecond)
	if got, _ := h.Last(ctx, 7); got != "" {
		t.Fatalf("entry should have expired, got %q", got)
	}
}

// fakeRedis answers Get/Set from a map, mimicking redis.Nil for missing keys.
type fakeRedis struct {
	data map[string]string
	ttls map[string]time.Duration
	err  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx, "get", key)
	switch v, ok := f.data[key]; {
	case f.err != nil:
		cmd.SetErr(f.err)
	case !ok:
		cmd.SetErr(redis.Nil)
	default:
		cmd.SetVal(v)
	}
	return cmd
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx, "set", key, value)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	f.data[key] = value.(string)
	f.ttls[key] = expiration
	cmd.SetVal("OK")
	return cmd
}

func TestRedisHistory_KeysAndTTL(t *testing.T) {
	fr := newFakeRedis()
	h := NewRedisHistory(fr, "dtfbot:", 24*time.Hour)
	ctx := context.Background()

	if got, err := h.Last(ctx, -100123); err != nil || got != "" {
		t.Fatalf("missing key: got %q, %v; want empty, nil", got, err)
	}
	if err := h.Remember(ctx, -100123, "https://v/a.mp4"); err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if v := fr.data["dtfbot:random:-100123"]; v != "https://v/a.mp4" {
		t.Fatalf("unexpected stored value %q (keys: %v)", v, fr.data)
	}
	if ttl := fr.ttls["dtfbot:random:-100123"]; ttl != 24*time.Hour {
		t.Fatalf("unexpected ttl %v", ttl)
	}
	if got, _ := h.Last(ctx, -100123); got != "https://v/a.mp4" {
		t.Fatalf("Last = %q", got)
	}
}

func TestRedisHistory_PropagatesErrors(t *testing.T) {
	fr := newFakeRedis()
	fr.err = errors.New("connection refused")
	h := NewRedisHistory(fr, "", 0)
	if _, err := h.Last(context.Background(), 1); err == nil {
		t.Fatalf("expected error from Last")
	}
	if err := h.Remember(context.Background(), 1, "u"); err == nil {
		t.Fatalf("expected error from Remember")
	}
}

func TestNewRedisClient_BadURL(t *testing.T) {
	if _, err := NewRedisClient(context.Background(), "not-a-redis-url"); err == nil {
		t.Fatalf("expected parse error")
	}
}

var (
	_ HistoryStore = (*MemoryHistory)(nil)
	_ HistoryStore = (*RedisHistory)(nil)
	_ Commander    = (*redis.Client)(nil)
)
