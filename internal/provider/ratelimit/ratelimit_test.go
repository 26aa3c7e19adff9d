package ratelimit_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"quotewatch/internal/provider"
	"quotewatch/internal/provider/ratelimit"
)

type countingAdapter struct {
	calls atomic.Int32
}

func (c *countingAdapter) Name() string { return "counting" }

func (c *countingAdapter) Fetch(_ context.Context, symbol string) provider.Result {
	c.calls.Add(1)
	return provider.Succeeded("counting", provider.Quote{
		Symbol:        symbol,
		Price:         decimal.NewFromInt(1),
		PercentChange: "0.00%",
	}, 0)
}

func TestMinIntervalRejectsWhenDeadlineTooShort(t *testing.T) {
	t.Parallel()

	// Arrange
	inner := &countingAdapter{}
	a := ratelimit.NewMinInterval(inner, time.Hour)

	// Act: the first call takes the only token
	first := a.Fetch(t.Context(), "AAPL")
	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	started := time.Now()
	second := a.Fetch(ctx, "AAPL")

	// Assert
	require.True(t, first.Success)
	require.False(t, second.Success)
	require.Equal(t, provider.KindRateLimited, second.Kind)
	require.Equal(t, "counting", second.ProviderName)
	require.Less(t, time.Since(started), 40*time.Millisecond)
	require.EqualValues(t, 1, inner.calls.Load())
}

func TestTokenBucketAllowsBurst(t *testing.T) {
	t.Parallel()

	// Arrange
	inner := &countingAdapter{}
	a := ratelimit.NewTokenBucket(inner, 1, 3)
	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()

	// Act
	var ok int
	for range 4 {
		if a.Fetch(ctx, "MSFT").Success {
			ok++
		}
	}

	// Assert
	require.Equal(t, 3, ok)
	require.EqualValues(t, 3, inner.calls.Load())
}

func TestWrap(t *testing.T) {
	t.Parallel()

	inner := &countingAdapter{}

	// Assert: no limit leaves the adapter as is
	require.Same(t, inner, ratelimit.Wrap(inner, 0, 0, 0))

	// Assert: per-minute wins over interval
	tb, ok := ratelimit.Wrap(inner, 60, 2, time.Second).(*ratelimit.Limited)
	require.True(t, ok)
	require.Equal(t, 2, tb.Limiter.Burst())

	mi, ok := ratelimit.Wrap(inner, 0, 0, time.Second).(*ratelimit.Limited)
	require.True(t, ok)
	require.Equal(t, 1, mi.Limiter.Burst())
	require.Equal(t, "counting", mi.Name())
}
