// Package app assembles the quote engine from configuration. Both binaries
// share it so that the server and the CLI see the same provider chain.
package app

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"quotewatch/internal/aggregate"
	"quotewatch/internal/analysis"
	"quotewatch/internal/config"
	"quotewatch/internal/httpx"
	"quotewatch/internal/provider"
	"quotewatch/internal/provider/alphavantage"
	"quotewatch/internal/provider/cache"
	"quotewatch/internal/provider/chain"
	"quotewatch/internal/provider/finnhub"
	"quotewatch/internal/provider/ratelimit"
	"quotewatch/internal/provider/stooq"
	"quotewatch/internal/provider/yahoo"
	"quotewatch/internal/watchlist"
)

// App holds the wired components. Close releases pools and background work.
type App struct {
	Config   config.Config
	Adapters []provider.Adapter
	Chain    *chain.Chain
	Cache    cache.Store
	Service  *aggregate.Service
	Picker   *aggregate.Picker
	Repo     watchlist.Repository

	closers []func()
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Stats reports cache statistics when the backend tracks them.
func (a *App) Stats(ctx context.Context) (cache.Stats, bool) {
	r, ok := a.Cache.(cache.StatsReporter)
	if !ok {
		return cache.Stats{}, false
	}
	return r.Stats(ctx), true
}

// Option replaces parts of the default wiring, mostly for tests.
type Option func(*options)

type options struct {
	adapters []provider.Adapter
	repo     watchlist.Repository
}

// WithAdapters skips building adapters from config.
func WithAdapters(adapters ...provider.Adapter) Option {
	return func(o *options) { o.adapters = adapters }
}

// WithRepository skips connecting to the configured database.
func WithRepository(r watchlist.Repository) Option {
	return func(o *options) { o.repo = r }
}

func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	adapters := o.adapters
	if adapters == nil {
		adapters = BuildAdapters(cfg)
	}
	ordered, err := chain.Order(adapters, available(adapters, cfg.Quotes.Priority))
	if err != nil {
		return nil, err
	}
	a.Adapters = ordered
	a.Chain, err = chain.New(chain.Config{
		AdapterTimeout: cfg.Quotes.AdapterTimeout(),
		Budget:         cfg.Quotes.SymbolBudget(),
		Retries:        cfg.Quotes.RetryCount,
		BaseBackoff:    cfg.Quotes.RetryBackoff(),
		MaxBackoff:     cfg.Quotes.RetryMaxBackoff(),
	}, ordered)
	if err != nil {
		return nil, err
	}

	if err := a.openCache(ctx); err != nil {
		return nil, err
	}

	a.Repo = o.repo
	if a.Repo == nil {
		if a.Repo, err = a.openRepository(ctx); err != nil {
			return nil, err
		}
	}

	engine := analysis.New(analysis.Thresholds{
		Low:  decimal.NewFromFloat(cfg.Quotes.LowPriceThreshold),
		High: decimal.NewFromFloat(cfg.Quotes.HighPriceThreshold),
	})
	a.Service, err = aggregate.NewService(a.Cache, a.Chain, engine, aggregate.Config{
		Deadline:       cfg.Quotes.AggregateDeadline(),
		MaxConcurrency: cfg.Quotes.MaxConcurrency,
	})
	if err != nil {
		return nil, err
	}
	if a.Picker, err = aggregate.NewPicker(cfg.Quotes.RandomSeed, cfg.Quotes.Universe); err != nil {
		return nil, err
	}
	ok = true
	return a, nil
}

func (a *App) openCache(ctx context.Context) error {
	q := a.Config.Quotes
	switch q.CacheBackend {
	case "redis":
		client, err := cache.DialRedis(ctx, q.RedisURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		a.Cache = cache.NewRedis(client, q.CacheFreshness())
	default:
		m := cache.NewMemory(q.CacheFreshness(), cache.WithMaxItems(q.CacheMaxItems))
		if q.SweepIntervalSec > 0 {
			sweepCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			m.StartSweeper(sweepCtx, q.SweepInterval())
			a.closers = append(a.closers, cancel)
		}
		a.Cache = m
	}
	return nil
}

func (a *App) openRepository(ctx context.Context) (watchlist.Repository, error) {
	db := a.Config.Database
	if db.URL == "" {
		log.Warn().Msg("DATABASE_URL not set, watchlists are kept in memory")
		return watchlist.NewMemory(), nil
	}
	pool, err := watchlist.Connect(ctx, db.URL, db.MaxConns)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pool.Close)
	repo := watchlist.NewPostgres(pool)
	if err := repo.Migrate(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

// BuildAdapters creates every enabled adapter, rate limited as configured.
// Adapters that need a key and have none are skipped with a warning.
func BuildAdapters(cfg config.Config) []provider.Adapter {
	hc := httpx.New(cfg.Quotes.AdapterTimeout())
	var out []provider.Adapter
	add := func(p config.Provider, a provider.Adapter) {
		out = append(out, ratelimit.Wrap(a, p.MaxRequestsPerMinute, p.Burst, p.MinInterval()))
	}

	if av := cfg.AlphaVantage; av.Enabled {
		opts := []alphavantage.Option{alphavantage.WithHTTPClient(hc)}
		if av.BaseURL != "" {
			opts = append(opts, alphavantage.WithBaseURL(av.BaseURL))
		}
		c, err := alphavantage.New(av.APIKey, opts...)
		if err != nil {
			log.Warn().Err(err).Msg("alphavantage enabled but not usable; skipping")
		} else {
			add(av, c)
		}
	}
	if fh := cfg.Finnhub; fh.Enabled {
		if fh.APIKey == "" {
			log.Warn().Msg("finnhub enabled but FINNHUB_API_KEY not set; skipping")
		} else {
			add(fh, finnhub.New(finnhub.Config{BaseURL: fh.BaseURL, Token: fh.APIKey}, hc))
		}
	}
	if y := cfg.Yahoo; y.Enabled {
		add(y, yahoo.New(yahoo.Config{BaseURL: y.BaseURL}, hc.Std()))
	}
	if s := cfg.Stooq; s.Enabled {
		add(s, stooq.New(stooq.Config{BaseURL: s.BaseURL}, hc))
	}
	return out
}

// available drops priority names with no built adapter, such as a provider
// skipped for lack of a key.
func available(adapters []provider.Adapter, priority []string) []string {
	built := make(map[string]bool, len(adapters))
	for _, a := range adapters {
		built[strings.ToLower(a.Name())] = true
	}
	out := make([]string, 0, len(priority))
	for _, name := range priority {
		if built[strings.ToLower(strings.TrimSpace(name))] {
			out = append(out, name)
		}
	}
	return out
}
