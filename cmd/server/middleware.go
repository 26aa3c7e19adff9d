package main

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// accessLog writes one line per request, skipping health checks.
func accessLog(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("query", r.URL.RawQuery).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("latency", time.Since(start)).
				Msg("http request")
		})
	}
}

// clientLimiter hands out one token bucket per client address. Idle buckets
// expire from the registry.
type clientLimiter struct {
	perSec float64
	burst  int
	reg    *gocache.Cache
}

func newClientLimiter(perSec float64, burst int) *clientLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &clientLimiter{perSec: perSec, burst: burst, reg: gocache.New(10*time.Minute, 5*time.Minute)}
}

func (c *clientLimiter) limiter(key string) *rate.Limiter {
	if v, ok := c.reg.Get(key); ok {
		return v.(*rate.Limiter)
	}
	l := rate.NewLimiter(rate.Limit(c.perSec), c.burst)
	// Add fails when another request won the race; use its limiter.
	if err := c.reg.Add(key, l, gocache.DefaultExpiration); err != nil {
		if v, ok := c.reg.Get(key); ok {
			return v.(*rate.Limiter)
		}
	}
	return l
}

func (c *clientLimiter) middleware(next http.Handler) http.Handler {
	if c == nil || c.perSec <= 0 {
		return next
	}
	retry := strconv.Itoa(max(1, int(float64(c.burst)/c.perSec)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !c.limiter(host).Allow() {
			w.Header().Set("Retry-After", retry)
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limitBody caps request body size to avoid memory abuse.
func limitBody(next http.Handler) http.Handler {
	const maxBody = 1 << 20 // 1MB
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && (r.Method == http.MethodPost || r.Method == http.MethodPut) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBody)
		}
		next.ServeHTTP(w, r)
	})
}
