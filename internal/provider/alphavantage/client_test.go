package alphavantage_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"quotewatch/internal/provider"
	"quotewatch/internal/provider/alphavantage"
)

const ibmResponse = `{
  "Global Quote": {
    "01. symbol": "IBM",
    "02. open": "166.6000",
    "03. high": "167.2000",
    "04. low": "164.7000",
    "05. price": "165.8000",
    "06. volume": "3489237",
    "07. latest trading day": "2024-05-10",
    "08. previous close": "167.0000",
    "09. change": "-1.2000",
    "10. change percent": "-0.7186%"
  }
}`

func respond(status int, body string) func(*http.Request) (*http.Response, error) {
	return func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: status,
			Body:       io.NopCloser(strings.NewReader(body)),
		}, nil
	}
}

func TestNewRequiresKey(t *testing.T) {
	t.Parallel()

	// Act
	client, err := alphavantage.New("")

	// Assert
	require.Error(t, err)
	require.Nil(t, client)
}

func TestFetchGlobalQuote(t *testing.T) {
	t.Parallel()

	// Arrange: create a mock http client
	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)

	// Assert: the request carries the function, symbol and key
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, http.MethodGet, req.Method)
			require.True(t, strings.HasPrefix(req.URL.String(), "http://av.test/query"))
			require.Equal(t, "GLOBAL_QUOTE", req.URL.Query().Get("function"))
			require.Equal(t, "IBM", req.URL.Query().Get("symbol"))
			require.Equal(t, "test-key", req.URL.Query().Get("apikey"))
			return respond(http.StatusOK, ibmResponse)(req)
		}).
		Times(1)

	client, err := alphavantage.New("test-key",
		alphavantage.WithHTTPClient(httpClient),
		alphavantage.WithBaseURL("http://av.test"))
	require.NoError(t, err)

	// Act
	res := client.Fetch(t.Context(), "IBM")

	// Assert
	require.True(t, res.Success, res.ErrorMessage)
	require.Equal(t, "alphavantage", res.ProviderName)
	require.NotNil(t, res.Quote)
	require.Equal(t, "IBM", res.Quote.Symbol)
	require.Equal(t, "165.8", res.Quote.Price.String())
	require.Equal(t, "-1.2", res.Quote.Change.String())
	require.Equal(t, "-0.72%", res.Quote.PercentChange)
	require.Equal(t, "USD", res.Quote.Currency)
	require.Equal(t, 2024, res.Quote.LastUpdated.Year())
}

func TestFetchFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		kind   provider.Kind
		is     error
	}{
		{
			name:   "note means throttled",
			status: http.StatusOK,
			body:   `{"Note": "Thank you for using Alpha Vantage! Our standard API call frequency is 5 calls per minute."}`,
			kind:   provider.KindRateLimited,
		},
		{
			name:   "information means throttled",
			status: http.StatusOK,
			body:   `{"Information": "rate limit reached"}`,
			kind:   provider.KindRateLimited,
		},
		{
			name:   "error message means unknown symbol",
			status: http.StatusOK,
			body:   `{"Error Message": "Invalid API call."}`,
			kind:   provider.KindNotFound,
		},
		{
			name:   "empty global quote",
			status: http.StatusOK,
			body:   `{"Global Quote": {}}`,
			kind:   provider.KindNotFound,
			is:     provider.ErrNoData,
		},
		{
			name:   "malformed json",
			status: http.StatusOK,
			body:   `{"Global Quote": `,
			kind:   provider.KindBadResponse,
		},
		{
			name:   "schema violation",
			status: http.StatusOK,
			body:   `{"Global Quote": {"01. symbol": "IBM", "05. price": "abc", "07. latest trading day": "2024-05-10", "09. change": "1", "10. change percent": "1%"}}`,
			kind:   provider.KindBadResponse,
		},
		{
			name:   "too many requests",
			status: http.StatusTooManyRequests,
			kind:   provider.KindRateLimited,
		},
		{
			name:   "server error",
			status: http.StatusBadGateway,
			kind:   provider.KindNetworkError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Arrange
			ctrl := gomock.NewController(t)
			httpClient := NewMockHTTPClient(ctrl)
			httpClient.EXPECT().Do(gomock.Any()).DoAndReturn(respond(tt.status, tt.body)).Times(1)
			client, err := alphavantage.New("k", alphavantage.WithHTTPClient(httpClient))
			require.NoError(t, err)

			// Act
			res := client.Fetch(t.Context(), "IBM")

			// Assert
			require.False(t, res.Success)
			require.Nil(t, res.Quote)
			require.Equal(t, tt.kind, res.Kind)
			require.NotEmpty(t, res.ErrorMessage)
			if tt.is != nil {
				require.ErrorIs(t, res.Err, tt.is)
				require.Contains(t, res.ErrorMessage, "no data returned")
			}
		})
	}
}

func TestFetchTransportTimeout(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		Return(nil, context.DeadlineExceeded).
		Times(1)
	client, err := alphavantage.New("k", alphavantage.WithHTTPClient(httpClient), alphavantage.WithName("av"))
	require.NoError(t, err)

	// Act
	res := client.Fetch(t.Context(), "IBM")

	// Assert
	require.False(t, res.Success)
	require.Equal(t, provider.KindTimeout, res.Kind)
	require.Equal(t, "av", res.ProviderName)
	require.True(t, errors.Is(res.Err, context.DeadlineExceeded))
}
