// Package httpx provides the one tuned transport every adapter shares.
package httpx

import (
	"net"
	"net/http"
	"time"
)

const DefaultUserAgent = "quotewatch/1.0"

// Client is a small wrapper around http.Client with sane defaults.
// It satisfies provider.HTTPClient.
type Client struct {
	HTTP      *http.Client
	UserAgent string
	Headers   map[string]string
}

type Option func(*settings)

type settings struct {
	maxConnsPerHost int
	userAgent       string
	headers         map[string]string
}

// WithMaxConnsPerHost caps concurrent connections to one upstream.
func WithMaxConnsPerHost(n int) Option {
	return func(s *settings) { s.maxConnsPerHost = n }
}

func WithUserAgent(ua string) Option {
	return func(s *settings) { s.userAgent = ua }
}

// WithHeader adds a header sent on every request unless the request sets it.
func WithHeader(key, value string) Option {
	return func(s *settings) { s.headers[key] = value }
}

func New(timeout time.Duration, opts ...Option) *Client {
	s := settings{maxConnsPerHost: 20, userAgent: DefaultUserAgent, headers: map[string]string{}}
	for _, opt := range opts {
		opt(&s)
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 3 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   s.maxConnsPerHost,
		MaxConnsPerHost:       s.maxConnsPerHost,
		ForceAttemptHTTP2:     true,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   3 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 5 * time.Second,
	}
	return &Client{
		HTTP:      &http.Client{Timeout: timeout, Transport: transport},
		UserAgent: s.userAgent,
		Headers:   s.headers,
	}
}

// Std returns a plain *http.Client on the shared transport, for libraries
// that want one. Default headers are not applied.
func (c *Client) Std() *http.Client {
	return &http.Client{Timeout: c.HTTP.Timeout, Transport: c.HTTP.Transport}
}

// Do sends req with the default headers filled in. Cancellation follows
// req.Context().
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	for k, v := range c.Headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	return c.HTTP.Do(req)
}
