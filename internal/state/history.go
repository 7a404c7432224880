// Package state holds the per-chat "last random pick" history used to avoid
// sending the same cached video twice in a row.
//
// Two backends exist: an in-process LRU with expiry (default) and Redis,
// which keeps history across restarts and between bot replicas.
package state

import (
	"context"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
)

// HistoryStore remembers the last URL served to each chat by the random
// command. Last returns "" when nothing is known.
type HistoryStore interface {
	Last(ctx context.Context, chatID int64) (string, error)
	Remember(ctx context.Context, chatID int64, url string) error
}

// MemoryHistory is a bounded, expiring HistoryStore backed by
// hashicorp/golang-lru/v2/expirable. Safe for concurrent use.
type MemoryHistory struct {
	cache *expirable.LRU[int64, string]
}

// NewMemoryHistory keeps at most size chats for ttl after their last pick.
// size <= 0 means unbounded; ttl <= 0 means no expiry.
func NewMemoryHistory(size int, ttl time.Duration) *MemoryHistory {
	if size < 0 {
		size = 0
	}
	if ttl < 0 {
		ttl = 0
	}
	return &MemoryHistory{cache: expirable.NewLRU[int64, string](size, nil, ttl)}
}

// Last implements HistoryStore.
func (m *MemoryHistory) Last(_ context.Context, chatID int64) (string, error) {
	url, _ := m.cache.Get(chatID)
	return url, nil
}

// Remember implements HistoryStore.
func (m *MemoryHistory) Remember(_ context.Context, chatID int64, url string) error {
	m.cache.Add(chatID, url)
	return nil
}

// Len returns the number of chats tracked.
func (m *MemoryHistory) Len() int { return m.cache.Len() }

// HistoryGauge reports m.Len() as random_history_chats.
func HistoryGauge(m *MemoryHistory) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "random_history_chats",
		Help: "Chats with a remembered random pick in the in-memory history.",
	}, func() float64 { return float64(m.Len()) })
}

func chatKey(prefix string, chatID int64) string {
	return prefix + "random:" + strconv.FormatInt(chatID, 10)
}
