package cache

import (
	"context"
	"time"

	"quotewatch/internal/provider"
)

// Store is a per-symbol quote cache with a freshness window. Get reports a hit
// only for entries younger than the window and always returns a copy.
type Store interface {
	Get(ctx context.Context, symbol string) (provider.Quote, bool)
	Put(ctx context.Context, symbol string, q provider.Quote)
}

// StatsReporter is implemented by both backends.
type StatsReporter interface {
	Stats(ctx context.Context) Stats
}

// Entry is what a Store keeps per symbol.
type Entry struct {
	Symbol   string         `json:"symbol"`
	Quote    provider.Quote `json:"quote"`
	CachedAt time.Time      `json:"cached_at"`
}

func (e Entry) fresh(now time.Time, freshness time.Duration) bool {
	return now.Sub(e.CachedAt) < freshness
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Size    int     `json:"size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

func newStats(size int, hits, misses uint64) Stats {
	s := Stats{Size: size, Hits: hits, Misses: misses}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}
