package chain

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"quotewatch/internal/provider"
)

var (
	ErrAllFailed      = errors.New("all providers failed")
	ErrBudgetExceeded = errors.New("symbol budget exceeded")
	ErrNoAdapters     = errors.New("chain needs at least one adapter")
)

// Config bounds a single FetchQuote call.
type Config struct {
	// AdapterTimeout caps one attempt against one adapter.
	AdapterTimeout time.Duration
	// Budget caps the whole chain for one symbol, retries included.
	Budget time.Duration
	// Retries is the number of extra attempts on NetworkError or Timeout.
	Retries     int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func DefaultConfig() Config {
	return Config{
		AdapterTimeout: 4 * time.Second,
		Budget:         10 * time.Second,
		Retries:        1,
		BaseBackoff:    200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

func (c Config) validate() error {
	switch {
	case c.AdapterTimeout <= 0:
		return errors.New("adapter timeout must be positive")
	case c.Budget <= 0:
		return errors.New("symbol budget must be positive")
	case c.Retries < 0:
		return errors.New("retries must not be negative")
	case c.BaseBackoff < 0 || c.MaxBackoff < c.BaseBackoff:
		return errors.New("backoff must satisfy 0 <= base <= max")
	}
	return nil
}

// Chain tries adapters in priority order until one returns a valid quote.
// It holds no per-request state and is safe for concurrent use.
type Chain struct {
	cfg      Config
	adapters []provider.Adapter

	mu  sync.Mutex
	rng *rand.Rand
}

type Option func(*Chain)

// WithRand seeds backoff jitter, for reproducible runs.
func WithRand(r *rand.Rand) Option {
	return func(c *Chain) { c.rng = r }
}

func New(cfg Config, adapters []provider.Adapter, opts ...Option) (*Chain, error) {
	if len(adapters) == 0 {
		return nil, ErrNoAdapters
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("chain config: %w", err)
	}
	c := &Chain{
		cfg:      cfg,
		adapters: append([]provider.Adapter(nil), adapters...),
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Adapters returns the adapters in priority order.
func (c *Chain) Adapters() []provider.Adapter {
	return append([]provider.Adapter(nil), c.adapters...)
}

// Order arranges adapters by the names in priority (case-insensitive).
// Adapters missing from priority keep their relative order at the end.
func Order(adapters []provider.Adapter, priority []string) ([]provider.Adapter, error) {
	byName := make(map[string]provider.Adapter, len(adapters))
	for _, a := range adapters {
		byName[strings.ToLower(a.Name())] = a
	}
	seen := make(map[string]bool, len(adapters))
	out := make([]provider.Adapter, 0, len(adapters))
	for _, name := range priority {
		key := strings.ToLower(strings.TrimSpace(name))
		a, ok := byName[key]
		if !ok {
			return nil, fmt.Errorf("unknown provider %q in priority", name)
		}
		if seen[key] {
			return nil, fmt.Errorf("provider %q listed twice in priority", name)
		}
		seen[key] = true
		out = append(out, a)
	}
	for _, a := range adapters {
		if !seen[strings.ToLower(a.Name())] {
			out = append(out, a)
		}
	}
	return out, nil
}

// FetchQuote runs the chain for one symbol. The returned Result is a success
// from the first adapter that produced a valid quote, an aggregate
// KindUnavailable wrapping the last adapter's error, or an aggregate
// KindTimeout when the budget ran out.
func (c *Chain) FetchQuote(ctx context.Context, symbol string) provider.Result {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Budget)
	defer cancel()

	var last provider.Result
	for _, a := range c.adapters {
		for attempt := 0; ; attempt++ {
			if ctx.Err() != nil {
				return c.budgetExceeded(symbol, last, start)
			}

			res := c.attempt(ctx, a, symbol)
			logger := log.Debug().
				Str("symbol", symbol).
				Str("provider", a.Name()).
				Int("attempt", attempt).
				Dur("elapsed", res.Elapsed)
			if res.Success {
				logger.Msg("provider succeeded")
				res.Elapsed = time.Since(start)
				return res
			}
			logger.Str("kind", res.Kind.String()).Str("error", res.ErrorMessage).Msg("provider failed")
			last = res

			if ctx.Err() != nil {
				return c.budgetExceeded(symbol, last, start)
			}
			if !res.Kind.Retryable() || attempt >= c.cfg.Retries {
				break
			}
			if !c.sleep(ctx, c.backoff(attempt)) {
				return c.budgetExceeded(symbol, last, start)
			}
		}
	}

	return aggregate(last, symbol, provider.KindUnavailable,
		fmt.Errorf("%w: %w", ErrAllFailed, last.Err), start)
}

// aggregate reports a chain-level failure. ProviderName stays the last
// adapter tried; the message names it once, through the wrapped error.
func aggregate(last provider.Result, symbol string, kind provider.Kind, err error, start time.Time) provider.Result {
	perr := &provider.Error{Kind: kind, Symbol: symbol, Err: err}
	return provider.Result{
		ErrorMessage: perr.Error(),
		Kind:         kind,
		Err:          perr,
		ProviderName: last.ProviderName,
		Elapsed:      time.Since(start),
	}
}

// attempt runs one adapter under its own timeout and normalizes whatever it
// returns, including panics and successes without a valid quote.
func (c *Chain) attempt(ctx context.Context, a provider.Adapter, symbol string) (res provider.Result) {
	actx, cancel := context.WithTimeout(ctx, c.cfg.AdapterTimeout)
	defer cancel()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = provider.Failed(a.Name(), symbol, provider.KindBadResponse,
				fmt.Errorf("adapter panic: %v", r), time.Since(start))
		}
	}()

	res = a.Fetch(actx, symbol)
	if res.ProviderName == "" {
		res.ProviderName = a.Name()
	}
	if res.Elapsed == 0 {
		res.Elapsed = time.Since(start)
	}
	if !res.Success {
		if res.Kind == provider.KindNone {
			res.Kind = provider.KindBadResponse
		}
		if res.Err == nil {
			res.Err = &provider.Error{Kind: res.Kind, Provider: res.ProviderName, Symbol: symbol, Err: errors.New(res.ErrorMessage)}
		}
		if res.ErrorMessage == "" {
			res.ErrorMessage = res.Err.Error()
		}
		// An adapter that gave up because its own timeout fired is a Timeout,
		// whatever it reported.
		if actx.Err() != nil && ctx.Err() == nil && res.Kind != provider.KindTimeout {
			res = provider.Failed(res.ProviderName, symbol, provider.KindTimeout, res.Err, res.Elapsed)
		}
		res.Quote = nil
		return res
	}
	if res.Quote == nil {
		return provider.Failed(res.ProviderName, symbol, provider.KindBadResponse, provider.ErrNoData, res.Elapsed)
	}
	if err := res.Quote.Validate(); err != nil {
		return provider.Failed(res.ProviderName, symbol, provider.KindBadResponse, err, res.Elapsed)
	}
	res.ErrorMessage = ""
	res.Kind = provider.KindNone
	res.Err = nil
	return res
}

func (c *Chain) budgetExceeded(symbol string, last provider.Result, start time.Time) provider.Result {
	err := ErrBudgetExceeded
	if last.Err != nil {
		err = fmt.Errorf("%w: %w", ErrBudgetExceeded, last.Err)
	}
	return aggregate(last, symbol, provider.KindTimeout, err, start)
}

// backoff is base*2^attempt capped at max, plus up to half of that as jitter.
func (c *Chain) backoff(attempt int) time.Duration {
	d := c.cfg.BaseBackoff << attempt
	if d <= 0 || d > c.cfg.MaxBackoff {
		d = c.cfg.MaxBackoff
	}
	if d <= 0 {
		return 0
	}
	c.mu.Lock()
	jitter := time.Duration(c.rng.Int64N(int64(d)/2 + 1))
	c.mu.Unlock()
	if d+jitter > c.cfg.MaxBackoff {
		return c.cfg.MaxBackoff
	}
	return d + jitter
}

func (c *Chain) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
