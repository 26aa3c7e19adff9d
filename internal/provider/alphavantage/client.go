package alphavantage

import (
	"errors"
	"net/http"
	"net/url"
)

const (
	baseURL     = "https://www.alphavantage.co"
	defaultName = "alphavantage"
)

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=alphavantage_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is an Alpha Vantage GLOBAL_QUOTE adapter.
type Client struct {
	// name is reported in every Result.
	name string
	// baseURL is the base URL for the API.
	baseURL string
	// httpClient is the HTTP client.
	httpClient HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header
	// query contains the api key and any additional query parameters.
	query url.Values
}

// Option is a configuration option for the Alpha Vantage client.
type Option func(*Client)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithName overrides the adapter name used in results and priority lists.
func WithName(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.name = name
		}
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) Option {
	return func(c *Client) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// New creates a new Alpha Vantage client. The key is required.
func New(key string, options ...Option) (*Client, error) {
	if key == "" {
		return nil, errors.New("alphavantage: api key is required")
	}
	var client = &Client{
		name:       defaultName,
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
		query:      url.Values{},
	}
	client.query.Set("apikey", key)
	for _, option := range options {
		option(client)
	}
	return client, nil
}

func (c *Client) Name() string { return c.name }
