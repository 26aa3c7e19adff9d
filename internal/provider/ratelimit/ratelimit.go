package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"quotewatch/internal/provider"
)

// Limited gates an adapter behind a token bucket. When the next token would
// arrive after the caller's deadline, Fetch fails with KindRateLimited straight
// away so a chain can move on to the next adapter.
type Limited struct {
	Adapter provider.Adapter
	Limiter *rate.Limiter
}

func (l *Limited) Name() string { return l.Adapter.Name() }

func (l *Limited) Fetch(ctx context.Context, symbol string) provider.Result {
	start := time.Now()
	if err := l.Limiter.Wait(ctx); err != nil {
		return provider.Failed(l.Adapter.Name(), symbol, provider.KindRateLimited,
			fmt.Errorf("local rate limit: %w", err), time.Since(start))
	}
	return l.Adapter.Fetch(ctx, symbol)
}

// NewMinInterval enforces at least interval between calls.
func NewMinInterval(a provider.Adapter, interval time.Duration) *Limited {
	return &Limited{Adapter: a, Limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wrap applies the configured limit: a token bucket when perMinute is set,
// otherwise a minimum interval, otherwise nothing.
func Wrap(a provider.Adapter, perMinute, burst int, minInterval time.Duration) provider.Adapter {
	switch {
	case perMinute > 0:
		return NewTokenBucket(a, perMinute, burst)
	case minInterval > 0:
		return NewMinInterval(a, minInterval)
	default:
		return a
	}
}
