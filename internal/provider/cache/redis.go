package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"quotewatch/internal/provider"
)

// Redis is a Store shared between processes. Failures are logged and treated
// as misses; losing a cached quote only costs a refetch.
type Redis struct {
	client    redis.UniversalClient
	freshness time.Duration
	prefix    string
	now       func() time.Time

	hits   atomic.Uint64
	misses atomic.Uint64
}

type RedisOption func(*Redis)

func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

func WithRedisClock(now func() time.Time) RedisOption {
	return func(r *Redis) { r.now = now }
}

func NewRedis(client redis.UniversalClient, freshness time.Duration, opts ...RedisOption) *Redis {
	r := &Redis{client: client, freshness: freshness, prefix: "quote:", now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DialRedis parses a redis:// URL and checks the server is reachable.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (r *Redis) key(symbol string) string { return r.prefix + symbol }

func (r *Redis) Get(ctx context.Context, symbol string) (provider.Quote, bool) {
	b, err := r.client.Get(ctx, r.key(symbol)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("symbol", symbol).Msg("redis cache get")
		}
		r.misses.Add(1)
		return provider.Quote{}, false
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("redis cache decode")
		r.misses.Add(1)
		return provider.Quote{}, false
	}
	// Key TTL has second granularity; the entry's own timestamp is authoritative.
	if !e.fresh(r.now(), r.freshness) {
		r.misses.Add(1)
		return provider.Quote{}, false
	}
	r.hits.Add(1)
	return e.Quote, true
}

func (r *Redis) Put(ctx context.Context, symbol string, q provider.Quote) {
	if r.freshness <= 0 {
		return
	}
	b, err := json.Marshal(Entry{Symbol: symbol, Quote: q.Clone(), CachedAt: r.now()})
	if err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("redis cache encode")
		return
	}
	if err := r.client.Set(ctx, r.key(symbol), b, r.freshness).Err(); err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("redis cache set")
	}
}

func (r *Redis) Stats(ctx context.Context) Stats {
	var size int
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		size++
	}
	if err := iter.Err(); err != nil {
		log.Warn().Err(err).Msg("redis cache scan")
	}
	return newStats(size, r.hits.Load(), r.misses.Load())
}
