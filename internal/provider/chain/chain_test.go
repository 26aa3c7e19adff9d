package chain_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"quotewatch/internal/provider"
	"quotewatch/internal/provider/chain"
)

var testConfig = chain.Config{
	AdapterTimeout: time.Second,
	Budget:         2 * time.Second,
	Retries:        1,
	BaseBackoff:    time.Millisecond,
	MaxBackoff:     5 * time.Millisecond,
}

func newAdapter(ctrl *gomock.Controller, name string) *MockAdapter {
	a := NewMockAdapter(ctrl)
	a.EXPECT().Name().Return(name).AnyTimes()
	return a
}

func newChain(t *testing.T, cfg chain.Config, adapters ...provider.Adapter) *chain.Chain {
	t.Helper()
	c, err := chain.New(cfg, adapters, chain.WithRand(rand.New(rand.NewPCG(1, 2))))
	require.NoError(t, err)
	return c
}

func quote(symbol, source string) provider.Quote {
	return provider.Quote{
		Symbol:        symbol,
		Price:         decimal.RequireFromString("94"),
		Change:        decimal.RequireFromString("-6"),
		PercentChange: "-6.00%",
		Source:        source,
	}
}

func ok(name, symbol string) provider.Result {
	return provider.Succeeded(name, quote(symbol, name), time.Millisecond)
}

func fail(name, symbol string, kind provider.Kind) provider.Result {
	return provider.Failed(name, symbol, kind, errors.New(kind.String()), time.Millisecond)
}

func TestFirstSuccessWins(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	a := newAdapter(ctrl, "a")
	b := newAdapter(ctrl, "b")
	a.EXPECT().Fetch(gomock.Any(), "AAPL").Return(ok("a", "AAPL")).Times(1)
	b.EXPECT().Fetch(gomock.Any(), gomock.Any()).Times(0)

	// Act
	res := newChain(t, testConfig, a, b).FetchQuote(t.Context(), "AAPL")

	// Assert
	require.True(t, res.Success)
	require.Equal(t, "a", res.ProviderName)
	require.Empty(t, res.ErrorMessage)
	require.Equal(t, "a", res.Quote.Source)
}

func TestFallbackWithoutRetry(t *testing.T) {
	t.Parallel()

	for _, kind := range []provider.Kind{provider.KindRateLimited, provider.KindNotFound, provider.KindBadResponse} {
		t.Run(kind.String(), func(t *testing.T) {
			t.Parallel()

			// Arrange: the first adapter is called exactly once
			ctrl := gomock.NewController(t)
			a := newAdapter(ctrl, "a")
			b := newAdapter(ctrl, "b")
			a.EXPECT().Fetch(gomock.Any(), "AAPL").Return(fail("a", "AAPL", kind)).Times(1)
			b.EXPECT().Fetch(gomock.Any(), "AAPL").Return(ok("b", "AAPL")).Times(1)

			// Act
			res := newChain(t, testConfig, a, b).FetchQuote(t.Context(), "AAPL")

			// Assert
			require.True(t, res.Success)
			require.Equal(t, "b", res.ProviderName)
		})
	}
}

func TestRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	for _, kind := range []provider.Kind{provider.KindNetworkError, provider.KindTimeout} {
		t.Run(kind.String(), func(t *testing.T) {
			t.Parallel()

			// Arrange: one retry on the same adapter, then the next adapter
			ctrl := gomock.NewController(t)
			a := newAdapter(ctrl, "a")
			b := newAdapter(ctrl, "b")
			a.EXPECT().Fetch(gomock.Any(), "AAPL").Return(fail("a", "AAPL", kind)).Times(2)
			b.EXPECT().Fetch(gomock.Any(), "AAPL").Return(ok("b", "AAPL")).Times(1)

			// Act
			res := newChain(t, testConfig, a, b).FetchQuote(t.Context(), "AAPL")

			// Assert
			require.True(t, res.Success)
			require.Equal(t, "b", res.ProviderName)
		})
	}
}

func TestRetryCanSucceed(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	a := newAdapter(ctrl, "a")
	gomock.InOrder(
		a.EXPECT().Fetch(gomock.Any(), "MSFT").Return(fail("a", "MSFT", provider.KindNetworkError)),
		a.EXPECT().Fetch(gomock.Any(), "MSFT").Return(ok("a", "MSFT")),
	)

	// Act
	res := newChain(t, testConfig, a).FetchQuote(t.Context(), "MSFT")

	// Assert
	require.True(t, res.Success)
}

func TestAllFailedIsUnavailable(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	a := newAdapter(ctrl, "a")
	b := newAdapter(ctrl, "b")
	a.EXPECT().Fetch(gomock.Any(), "ZZZ").Return(fail("a", "ZZZ", provider.KindRateLimited)).Times(1)
	b.EXPECT().Fetch(gomock.Any(), "ZZZ").Return(
		provider.Failed("b", "ZZZ", provider.KindNotFound, provider.ErrNoData, time.Millisecond)).Times(1)

	// Act
	res := newChain(t, testConfig, a, b).FetchQuote(t.Context(), "ZZZ")

	// Assert: the last adapter's error is wrapped in the aggregate
	require.False(t, res.Success)
	require.Nil(t, res.Quote)
	require.Equal(t, provider.KindUnavailable, res.Kind)
	require.Equal(t, "b", res.ProviderName)
	require.ErrorIs(t, res.Err, chain.ErrAllFailed)
	require.ErrorIs(t, res.Err, provider.ErrNoData)
	require.Equal(t, "unavailable: all providers failed: b: not_found: no data returned", res.ErrorMessage)
}

func TestBudgetAbortsRemainingAdapters(t *testing.T) {
	t.Parallel()

	// Arrange: the first adapter hangs until its context is cancelled
	ctrl := gomock.NewController(t)
	a := newAdapter(ctrl, "slow")
	b := newAdapter(ctrl, "b")
	a.EXPECT().Fetch(gomock.Any(), "AAPL").DoAndReturn(func(ctx context.Context, symbol string) provider.Result {
		<-ctx.Done()
		return provider.Failed("slow", symbol, provider.KindTimeout, ctx.Err(), 0)
	}).Times(1)
	b.EXPECT().Fetch(gomock.Any(), gomock.Any()).Times(0)

	cfg := testConfig
	cfg.Budget = 50 * time.Millisecond
	started := time.Now()

	// Act
	res := newChain(t, cfg, a, b).FetchQuote(t.Context(), "AAPL")

	// Assert
	require.False(t, res.Success)
	require.Equal(t, provider.KindTimeout, res.Kind)
	require.ErrorIs(t, res.Err, chain.ErrBudgetExceeded)
	require.Less(t, time.Since(started), 500*time.Millisecond)
}

func TestAdapterTimeoutMovesOn(t *testing.T) {
	t.Parallel()

	// Arrange: an adapter ignoring its deadline still ends up as a Timeout
	ctrl := gomock.NewController(t)
	a := newAdapter(ctrl, "stuck")
	b := newAdapter(ctrl, "b")
	a.EXPECT().Fetch(gomock.Any(), "AAPL").DoAndReturn(func(ctx context.Context, symbol string) provider.Result {
		<-ctx.Done()
		return provider.Failed("stuck", symbol, provider.KindNetworkError, errors.New("connection reset"), 0)
	}).Times(2)
	b.EXPECT().Fetch(gomock.Any(), "AAPL").Return(ok("b", "AAPL")).Times(1)

	cfg := testConfig
	cfg.AdapterTimeout = 20 * time.Millisecond

	// Act
	res := newChain(t, cfg, a, b).FetchQuote(t.Context(), "AAPL")

	// Assert
	require.True(t, res.Success)
	require.Equal(t, "b", res.ProviderName)
}

func TestMisbehavingAdapters(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		fetch func(context.Context, string) provider.Result
	}{
		{"panic", func(context.Context, string) provider.Result { panic("boom") }},
		{"success without quote", func(context.Context, string) provider.Result {
			return provider.Result{Success: true, ProviderName: "bad"}
		}},
		{"negative price", func(_ context.Context, symbol string) provider.Result {
			q := quote(symbol, "bad")
			q.Price = decimal.NewFromInt(-1)
			return provider.Result{Success: true, Quote: &q, ProviderName: "bad"}
		}},
		{"inconsistent sign", func(_ context.Context, symbol string) provider.Result {
			q := quote(symbol, "bad")
			q.PercentChange = "6.00%"
			return provider.Result{Success: true, Quote: &q, ProviderName: "bad"}
		}},
		{"failure without kind", func(context.Context, string) provider.Result {
			return provider.Result{ErrorMessage: "something odd"}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Arrange
			ctrl := gomock.NewController(t)
			a := newAdapter(ctrl, "bad")
			a.EXPECT().Fetch(gomock.Any(), "AAPL").DoAndReturn(tt.fetch).Times(1)

			// Act
			res := newChain(t, testConfig, a).FetchQuote(t.Context(), "AAPL")

			// Assert: normalized into a bad response, then the chain is exhausted
			require.False(t, res.Success)
			require.Nil(t, res.Quote)
			require.Equal(t, provider.KindUnavailable, res.Kind)
			require.Contains(t, res.ErrorMessage, "bad_response")
			require.Equal(t, "bad", res.ProviderName)
		})
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	a := newAdapter(ctrl, "a")

	_, err := chain.New(testConfig, nil)
	require.ErrorIs(t, err, chain.ErrNoAdapters)

	bad := testConfig
	bad.Budget = 0
	_, err = chain.New(bad, []provider.Adapter{a})
	require.Error(t, err)

	bad = testConfig
	bad.MaxBackoff = 0
	_, err = chain.New(bad, []provider.Adapter{a})
	require.Error(t, err)

	c, err := chain.New(chain.DefaultConfig(), []provider.Adapter{a})
	require.NoError(t, err)
	require.Len(t, c.Adapters(), 1)
}

func TestOrder(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	a := newAdapter(ctrl, "alphavantage")
	b := newAdapter(ctrl, "finnhub")
	c := newAdapter(ctrl, "yahoo")
	all := []provider.Adapter{a, b, c}

	// Act
	ordered, err := chain.Order(all, []string{"Yahoo", " alphavantage"})

	// Assert: listed first, the rest keep their order
	require.NoError(t, err)
	require.Equal(t, []provider.Adapter{c, a, b}, ordered)

	_, err = chain.Order(all, []string{"bloomberg"})
	require.Error(t, err)

	_, err = chain.Order(all, []string{"yahoo", "YAHOO"})
	require.Error(t, err)
}
