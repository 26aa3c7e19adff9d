package finnhub_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quotewatch/internal/provider"
	"quotewatch/internal/provider/finnhub"
)

func serve(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/quote", r.URL.Path)
		require.Equal(t, "tok", r.URL.Query().Get("token"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch(t *testing.T) {
	t.Parallel()

	// Arrange
	srv := serve(t, http.StatusOK, `{"c":94,"d":-6,"dp":-6,"h":101,"l":93.5,"o":100,"pc":100,"t":1715371200}`)
	a := finnhub.New(finnhub.Config{BaseURL: srv.URL, Token: "tok"}, srv.Client())

	// Act
	res := a.Fetch(t.Context(), "AAPL")

	// Assert
	require.True(t, res.Success, res.ErrorMessage)
	require.Equal(t, "finnhub", res.ProviderName)
	require.Equal(t, "94", res.Quote.Price.String())
	require.Equal(t, "-6", res.Quote.Change.String())
	require.Equal(t, "-6.00%", res.Quote.PercentChange)
	require.Equal(t, "finnhub", res.Quote.Source)
	require.Equal(t, time.Unix(1715371200, 0).UTC(), res.Quote.LastUpdated)
}

func TestFetchDerivesPercentWhenNull(t *testing.T) {
	t.Parallel()

	// Arrange
	srv := serve(t, http.StatusOK, `{"c":110,"d":null,"dp":null,"h":0,"l":0,"o":0,"pc":100,"t":1715371200}`)
	a := finnhub.New(finnhub.Config{BaseURL: srv.URL, Token: "tok"}, srv.Client())

	// Act
	res := a.Fetch(t.Context(), "MSFT")

	// Assert
	require.True(t, res.Success, res.ErrorMessage)
	require.Equal(t, "10", res.Quote.Change.String())
	require.Equal(t, "10.00%", res.Quote.PercentChange)
}

func TestFetchFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		kind   provider.Kind
	}{
		{"unknown symbol", http.StatusOK, `{"c":0,"d":null,"dp":null,"h":0,"l":0,"o":0,"pc":0,"t":0}`, provider.KindNotFound},
		{"missing price", http.StatusOK, `{"pc":1,"t":1}`, provider.KindBadResponse},
		{"garbage", http.StatusOK, `<html>`, provider.KindBadResponse},
		{"throttled", http.StatusTooManyRequests, `{"error":"API limit reached"}`, provider.KindRateLimited},
		{"forbidden", http.StatusForbidden, `{"error":"invalid token"}`, provider.KindBadResponse},
		{"upstream down", http.StatusServiceUnavailable, ``, provider.KindNetworkError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Arrange
			srv := serve(t, tt.status, tt.body)
			a := finnhub.New(finnhub.Config{BaseURL: srv.URL, Token: "tok"}, srv.Client())

			// Act
			res := a.Fetch(t.Context(), "ZZZZ")

			// Assert
			require.False(t, res.Success)
			require.Nil(t, res.Quote)
			require.Equal(t, tt.kind, res.Kind)
		})
	}
}

func TestFetchHonoursContext(t *testing.T) {
	t.Parallel()

	// Arrange: a server slower than the caller's deadline
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	a := finnhub.New(finnhub.Config{BaseURL: srv.URL}, srv.Client())
	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	// Act
	res := a.Fetch(ctx, "AAPL")

	// Assert
	require.False(t, res.Success)
	require.Equal(t, provider.KindTimeout, res.Kind)
}
