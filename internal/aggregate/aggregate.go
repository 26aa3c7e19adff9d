// Package aggregate populates quotes for single symbols and whole watchlists:
// cache first, then the provider chain, with analysis attached to every
// quote it hands out.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"quotewatch/internal/provider"
	"quotewatch/internal/provider/cache"
	"quotewatch/internal/watchlist"
)

var ErrUnavailable = errors.New("quote unavailable")

// Fetcher is satisfied by *chain.Chain.
type Fetcher interface {
	FetchQuote(ctx context.Context, symbol string) provider.Result
}

// Analyzer is satisfied by *analysis.Engine.
type Analyzer interface {
	Analyze(q *provider.Quote) provider.Analysis
}

type Config struct {
	// Deadline bounds one PopulateQuotes call.
	Deadline time.Duration
	// MaxConcurrency caps symbols resolved at once; 0 means one per entry.
	MaxConcurrency int
}

type Service struct {
	cache    cache.Store
	fetcher  Fetcher
	analyzer Analyzer
	cfg      Config

	group   singleflight.Group
	mu      sync.Mutex
	flights map[string]*flight
}

// flight is the context a shared chain run executes under. It is cancelled
// once every caller waiting on the run has left.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func NewService(store cache.Store, fetcher Fetcher, analyzer Analyzer, cfg Config) (*Service, error) {
	switch {
	case store == nil || fetcher == nil || analyzer == nil:
		return nil, errors.New("aggregate: cache, fetcher and analyzer are required")
	case cfg.Deadline <= 0:
		return nil, errors.New("aggregate: deadline must be positive")
	case cfg.MaxConcurrency < 0:
		return nil, errors.New("aggregate: max concurrency must not be negative")
	}
	return &Service{
		cache:    store,
		fetcher:  fetcher,
		analyzer: analyzer,
		cfg:      cfg,
		flights:  make(map[string]*flight),
	}, nil
}

// GetQuote returns an analyzed quote for one symbol.
func (s *Service) GetQuote(ctx context.Context, symbol string) (*provider.Quote, error) {
	sym, err := provider.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	q, status, err := s.resolve(ctx, sym)
	log.Debug().Str("symbol", sym).Str("status", status.String()).Msg("get quote")
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, sym, err)
	}
	return &q, nil
}

// resolve is cache-then-chain for one normalized symbol. Concurrent misses on
// the same symbol share one chain run, which keeps going while any of its
// callers still waits and is cancelled when the last one gives up.
func (s *Service) resolve(ctx context.Context, sym string) (provider.Quote, Status, error) {
	if q, ok := s.cache.Get(ctx, sym); ok {
		return s.analyzed(q), CacheHit, nil
	}

	log.Debug().Str("symbol", sym).Str("status", ChainAttempt.String()).Msg("cache miss")
	runCtx, leave := s.join(ctx, sym)
	defer leave()
	ch := s.group.DoChan(sym, func() (any, error) {
		res := s.fetcher.FetchQuote(runCtx, sym)
		if !res.Success || res.Quote == nil {
			if res.Err != nil {
				return nil, res.Err
			}
			return nil, &provider.Error{Kind: provider.KindUnavailable, Symbol: sym, Err: errors.New(res.ErrorMessage)}
		}
		q := res.Quote.Clone()
		q.Analysis = nil
		s.cache.Put(runCtx, sym, q)
		return q, nil
	})

	select {
	case <-ctx.Done():
		return provider.Quote{}, Failed, &provider.Error{Kind: provider.KindTimeout, Symbol: sym, Err: ctx.Err()}
	case r := <-ch:
		if r.Err != nil {
			return provider.Quote{}, Failed, r.Err
		}
		return s.analyzed(r.Val.(provider.Quote)), Succeeded, nil
	}
}

// join registers a waiter on sym's flight and returns the flight context with
// the matching leave func. A new flight keeps the values of ctx but not its
// cancellation. The last leave cancels the run and makes the next miss on sym
// start a fresh one.
func (s *Service) join(ctx context.Context, sym string) (context.Context, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flights[sym]
	if !ok {
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: runCtx, cancel: cancel}
		s.flights[sym] = f
	}
	f.waiters++
	return f.ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		f.waiters--
		if f.waiters > 0 {
			return
		}
		f.cancel()
		delete(s.flights, sym)
		s.group.Forget(sym)
	}
}

func (s *Service) analyzed(q provider.Quote) provider.Quote {
	out := q.Clone()
	a := s.analyzer.Analyze(&out)
	out.Analysis = &a
	return out
}

type outcome struct {
	index   int
	status  Status
	quote   *provider.Quote
	message string
}

// PopulateQuotes fills entries[i].Quote for every symbol that resolves within
// the deadline and returns one "SYMBOL: reason" string per failure, in the
// order failures were observed. Failed entries are left untouched. Entries
// are only written by the calling goroutine, and never after return.
func (s *Service) PopulateQuotes(ctx context.Context, entries []watchlist.Entry) []string {
	if len(entries) == 0 {
		return nil
	}
	start := time.Now()
	batch := uuid.NewString()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Deadline)
	defer cancel()

	limit := s.cfg.MaxConcurrency
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}
	sem := semaphore.NewWeighted(int64(limit))

	results := make(chan outcome, len(entries))
	for i := range entries {
		sym := entries[i].Symbol
		go func() {
			if err := sem.Acquire(ctx, 1); err != nil {
				results <- s.failure(i, sym, &provider.Error{Kind: provider.KindTimeout, Symbol: sym, Err: err})
				return
			}
			defer sem.Release(1)
			results <- s.populateOne(ctx, i, sym)
		}()
	}

	states := make([]Status, len(entries))
	for i := range states {
		states[i] = Pending
	}
	var errs []string
	var ok int
	apply := func(o outcome) {
		states[o.index] = o.status
		log.Debug().
			Str("batch", batch).
			Str("symbol", entries[o.index].Symbol).
			Str("status", o.status.String()).
			Msg("populate")
		if o.quote == nil {
			errs = append(errs, o.message)
			return
		}
		entries[o.index].Quote = o.quote
		ok++
	}

	timedOut := false
	for received := 0; received < len(entries) && !timedOut; {
		select {
		case o := <-results:
			received++
			apply(o)
		case <-ctx.Done():
			timedOut = true
		}
	}
	if timedOut {
		// Keep whatever already finished, then report the rest.
	drain:
		for {
			select {
			case o := <-results:
				apply(o)
			default:
				break drain
			}
		}
		for i := range entries {
			if states[i].Terminal() {
				continue
			}
			log.Debug().
				Str("batch", batch).
				Str("symbol", entries[i].Symbol).
				Str("status", states[i].String()).
				Msg("abandoned at deadline")
			errs = append(errs, s.failure(i, entries[i].Symbol,
				&provider.Error{Kind: provider.KindTimeout, Symbol: entries[i].Symbol, Err: ctx.Err()}).message)
		}
	}

	log.Info().
		Str("batch", batch).
		Int("symbols", len(entries)).
		Int("succeeded", ok).
		Int("failed", len(errs)).
		Bool("timed_out", timedOut).
		Dur("elapsed", time.Since(start)).
		Msg("populate quotes")
	return errs
}

// PopulateWatchlist is the inbound name for PopulateQuotes.
func (s *Service) PopulateWatchlist(ctx context.Context, entries []watchlist.Entry) []string {
	return s.PopulateQuotes(ctx, entries)
}

func (s *Service) populateOne(ctx context.Context, i int, symbol string) outcome {
	sym, err := provider.NormalizeSymbol(symbol)
	if err != nil {
		return s.failure(i, symbol, err)
	}
	q, status, err := s.resolve(ctx, sym)
	if err != nil {
		return s.failure(i, symbol, err)
	}
	return outcome{index: i, status: status, quote: &q}
}

func (s *Service) failure(i int, symbol string, err error) outcome {
	return outcome{index: i, status: Failed, message: fmt.Sprintf("%s: %v", symbol, err)}
}
