package ratelimit

import (
	"golang.org/x/time/rate"

	"quotewatch/internal/provider"
)

// NewTokenBucket allows perMinute calls per minute with the given burst.
// The bucket starts full.
func NewTokenBucket(a provider.Adapter, perMinute, burst int) *Limited {
	if burst <= 0 {
		burst = 1
	}
	return &Limited{
		Adapter: a,
		Limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst),
	}
}
