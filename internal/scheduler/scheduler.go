// Package scheduler periodically refreshes saved watchlists and records the
// resulting prices as history.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"quotewatch/internal/watchlist"
)

// Populater is satisfied by *aggregate.Service.
type Populater interface {
	PopulateWatchlist(ctx context.Context, entries []watchlist.Entry) []string
}

// Summary describes one refresh of one owner's watchlist.
type Summary struct {
	Owner     string
	Symbols   int
	Populated int
	Failures  []string
	Elapsed   time.Duration
}

type Scheduler struct {
	repo   watchlist.Repository
	svc    Populater
	owners []string
	// RunTimeout bounds one full refresh across all owners.
	RunTimeout time.Duration
	now        func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

func New(repo watchlist.Repository, svc Populater, owners []string) *Scheduler {
	return &Scheduler{
		repo:       repo,
		svc:        svc,
		owners:     owners,
		RunTimeout: 5 * time.Minute,
		now:        time.Now,
	}
}

// Start schedules RunOnce on spec (standard five-field cron or @every).
// A stopped scheduler can be started again.
func (s *Scheduler) Start(spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler is already running")
	}
	c := cron.New()
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := c.AddFunc(spec, func() { s.tick(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	c.Start()
	s.cron, s.cancel = c, cancel
	s.running = true
	log.Info().Str("spec", spec).Strs("owners", s.owners).Msg("scheduler started")
	return nil
}

// Stop cancels an in-flight refresh and waits for it to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cancel()
	<-s.cron.Stop().Done()
	s.cron, s.cancel = nil, nil
	s.running = false
	log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) tick(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, s.RunTimeout)
	defer cancel()
	if _, err := s.RunOnce(ctx); err != nil {
		log.Error().Err(err).Msg("scheduled refresh")
	}
}

// RunOnce refreshes every owner in turn. An owner without a saved list is
// skipped; other errors are collected and the remaining owners still run.
func (s *Scheduler) RunOnce(ctx context.Context) ([]Summary, error) {
	var (
		out  []Summary
		errs []error
	)
	for _, owner := range s.owners {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		sum, err := s.refresh(ctx, owner)
		switch {
		case errors.Is(err, watchlist.ErrNotFound):
			log.Debug().Str("owner", owner).Msg("no watchlist, skipping")
			continue
		case err != nil:
			errs = append(errs, fmt.Errorf("%s: %w", owner, err))
			continue
		}
		out = append(out, sum)
		log.Info().
			Str("owner", owner).
			Int("symbols", sum.Symbols).
			Int("populated", sum.Populated).
			Int("failed", len(sum.Failures)).
			Dur("elapsed", sum.Elapsed).
			Msg("watchlist refreshed")
	}
	return out, errors.Join(errs...)
}

func (s *Scheduler) refresh(ctx context.Context, owner string) (Summary, error) {
	start := s.now()
	entries, err := s.repo.Load(ctx, owner)
	if err != nil {
		return Summary{}, err
	}
	log.Debug().Str("owner", owner).Strs("symbols", watchlist.Symbols(entries)).Msg("refreshing watchlist")
	failures := s.svc.PopulateWatchlist(ctx, entries)
	if err := s.repo.Save(ctx, owner, entries); err != nil {
		return Summary{}, fmt.Errorf("save: %w", err)
	}
	rows := watchlist.HistoryFromEntries(entries, s.now())
	if len(rows) > 0 {
		if err := s.repo.AppendHistory(ctx, rows); err != nil {
			return Summary{}, fmt.Errorf("append history: %w", err)
		}
	}
	return Summary{
		Owner:     owner,
		Symbols:   len(entries),
		Populated: len(rows),
		Failures:  failures,
		Elapsed:   s.now().Sub(start),
	}, nil
}
