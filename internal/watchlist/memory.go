package watchlist

import (
	"context"
	"slices"
	"sync"
)

// Memory is a process-local Repository.
type Memory struct {
	mu      sync.RWMutex
	lists   map[string][]Entry
	history []HistoryRow
}

func NewMemory() *Memory {
	return &Memory{lists: make(map[string][]Entry)}
}

func (m *Memory) Load(_ context.Context, owner string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries, ok := m.lists[owner]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(entries), nil
}

func (m *Memory) Save(_ context.Context, owner string, entries []Entry) error {
	m.mu.Lock()
	m.lists[owner] = stripQuotes(entries)
	m.mu.Unlock()
	return nil
}

func (m *Memory) AppendHistory(_ context.Context, rows []HistoryRow) error {
	m.mu.Lock()
	m.history = append(m.history, rows...)
	m.mu.Unlock()
	return nil
}

// History returns the newest rows first.
func (m *Memory) History(_ context.Context, symbol string, limit int) ([]HistoryRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []HistoryRow
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].Symbol != symbol {
			continue
		}
		out = append(out, m.history[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
