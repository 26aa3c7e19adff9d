package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"

	"quotewatch/internal/provider"
)

const shardCount = 32

type shard struct {
	mu    sync.RWMutex
	items map[string]*slot
}

// slot holds one symbol's entry. Overwrites swap the pointer without touching
// the shard lock.
type slot struct {
	entry atomic.Pointer[Entry]
}

// Memory is an in-process Store. Each symbol has its own slot, and shard
// locks only guard the slot directories: reads and overwrites take a shared
// lock, so different symbols never wait on each other there. Adding a new
// symbol, trimming and sweeping take a shard's exclusive lock for the length
// of a map write.
type Memory struct {
	freshness time.Duration
	maxItems  int
	now       func() time.Time
	shards    [shardCount]*shard

	hits   atomic.Uint64
	misses atomic.Uint64
}

type MemoryOption func(*Memory)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// WithMaxItems caps each shard at roughly maxItems/shardCount entries.
// Stale entries go first, then arbitrary ones.
func WithMaxItems(maxItems int) MemoryOption {
	return func(m *Memory) { m.maxItems = maxItems }
}

// NewMemory returns a Memory cache. A freshness of zero or less disables hits.
func NewMemory(freshness time.Duration, opts ...MemoryOption) *Memory {
	m := &Memory{freshness: freshness, now: time.Now}
	for i := range m.shards {
		m.shards[i] = &shard{items: make(map[string]*slot)}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) shardFor(symbol string) *shard {
	return m.shards[xxhash.Sum64String(symbol)%shardCount]
}

func (m *Memory) lookup(symbol string) *slot {
	s := m.shardFor(symbol)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items[symbol]
}

func (m *Memory) Get(_ context.Context, symbol string) (provider.Quote, bool) {
	var e *Entry
	if sl := m.lookup(symbol); sl != nil {
		e = sl.entry.Load()
	}
	if e == nil || !e.fresh(m.now(), m.freshness) {
		m.misses.Add(1)
		return provider.Quote{}, false
	}
	m.hits.Add(1)
	return e.Quote.Clone(), true
}

// Put stores q. With no freshness window nothing could ever be served, so
// nothing is stored.
func (m *Memory) Put(_ context.Context, symbol string, q provider.Quote) {
	if m.freshness <= 0 {
		return
	}
	now := m.now()
	e := &Entry{Symbol: symbol, Quote: q.Clone(), CachedAt: now}
	if sl := m.lookup(symbol); sl != nil {
		sl.entry.Store(e)
		return
	}

	s := m.shardFor(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.items[symbol]
	if !ok {
		sl = &slot{}
		s.items[symbol] = sl
	}
	sl.entry.Store(e)
	if m.maxItems > 0 {
		m.trim(s, now)
	}
}

// trim runs with s.mu held. An overwrite racing with removal of its slot is
// dropped, which reads as a miss.
func (m *Memory) trim(s *shard, now time.Time) {
	limit := max(m.maxItems/shardCount, 1)
	if len(s.items) <= limit {
		return
	}
	for k, sl := range s.items {
		if e := sl.entry.Load(); e == nil || !e.fresh(now, m.freshness) {
			delete(s.items, k)
		}
	}
	for k := range s.items {
		if len(s.items) <= limit {
			break
		}
		delete(s.items, k)
	}
}

// Sweep deletes stale entries and returns how many were removed.
func (m *Memory) Sweep() int {
	now := m.now()
	removed := 0
	for _, s := range m.shards {
		s.mu.Lock()
		for k, sl := range s.items {
			if e := sl.entry.Load(); e == nil || !e.fresh(now, m.freshness) {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// StartSweeper calls Sweep every interval until ctx is done.
func (m *Memory) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := m.Sweep(); n > 0 {
					log.Debug().Int("removed", n).Msg("cache sweep")
				}
			}
		}
	}()
}

func (m *Memory) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}

func (m *Memory) Stats(context.Context) Stats {
	return newStats(m.Len(), m.hits.Load(), m.misses.Load())
}
