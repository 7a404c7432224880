package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Commander is the subset of redis.Cmdable RedisHistory uses.
type Commander interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisHistory stores the history under "<prefix>random:<chatID>" with a TTL.
type RedisHistory struct {
	rdb    Commander
	prefix string
	ttl    time.Duration
}

// NewRedisHistory wraps rdb. ttl <= 0 stores keys without expiry.
func NewRedisHistory(rdb Commander, prefix string, ttl time.Duration) *RedisHistory {
	if ttl < 0 {
		ttl = 0
	}
	return &RedisHistory{rdb: rdb, prefix: prefix, ttl: ttl}
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 3 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 2 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 2 * time.Second
	}
	rc := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rc, nil
}

// Last implements HistoryStore. A missing key is not an error.
func (r *RedisHistory) Last(ctx context.Context, chatID int64) (string, error) {
	v, err := r.rdb.Get(ctx, chatKey(r.prefix, chatID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

// Remember implements HistoryStore.
func (r *RedisHistory) Remember(ctx context.Context, chatID int64, url string) error {
	return r.rdb.Set(ctx, chatKey(r.prefix, chatID), url, r.ttl).Err()
}
