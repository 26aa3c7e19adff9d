// Package watchlist holds a user's list of tracked symbols and the price
// history recorded each time the list is refreshed.
package watchlist

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"quotewatch/internal/provider"
)

var ErrNotFound = errors.New("watchlist not found")

// Entry is one tracked symbol. Quote is nil until populated and is never
// persisted.
type Entry struct {
	ID      uuid.UUID       `json:"id"`
	Symbol  string          `json:"symbol"`
	AddedAt time.Time       `json:"added_at"`
	Quote   *provider.Quote `json:"quote,omitempty"`
}

func NewEntry(symbol string, now time.Time) Entry {
	return Entry{ID: uuid.New(), Symbol: symbol, AddedAt: now.UTC()}
}

// NewEntries normalizes symbols into fresh entries, keeping input order.
func NewEntries(symbols []string, now time.Time) ([]Entry, error) {
	out := make([]Entry, 0, len(symbols))
	for _, s := range symbols {
		sym, err := provider.NormalizeSymbol(s)
		if err != nil {
			return nil, err
		}
		out = append(out, NewEntry(sym, now))
	}
	return out, nil
}

// Symbols lists entry symbols in order.
func Symbols(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Symbol
	}
	return out
}

// HistoryRow is one recorded price observation.
type HistoryRow struct {
	ID            uuid.UUID       `json:"id"`
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	Change        decimal.Decimal `json:"change"`
	PercentChange string          `json:"percent_change"`
	Provider      string          `json:"provider"`
	QuotedAt      time.Time       `json:"quoted_at"`
	RecordedAt    time.Time       `json:"recorded_at"`
}

// HistoryFromEntries builds one row per populated entry.
func HistoryFromEntries(entries []Entry, now time.Time) []HistoryRow {
	rows := make([]HistoryRow, 0, len(entries))
	for _, e := range entries {
		if e.Quote == nil {
			continue
		}
		rows = append(rows, HistoryRow{
			ID:            uuid.New(),
			Symbol:        e.Symbol,
			Price:         e.Quote.Price,
			Change:        e.Quote.Change,
			PercentChange: e.Quote.PercentChange,
			Provider:      e.Quote.Source,
			QuotedAt:      e.Quote.LastUpdated,
			RecordedAt:    now.UTC(),
		})
	}
	return rows
}

// Repository persists watchlists keyed by an opaque owner id.
type Repository interface {
	Load(ctx context.Context, owner string) ([]Entry, error)
	Save(ctx context.Context, owner string, entries []Entry) error
	AppendHistory(ctx context.Context, rows []HistoryRow) error
	History(ctx context.Context, symbol string, limit int) ([]HistoryRow, error)
}

func stripQuotes(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		e.Quote = nil
		out[i] = e
	}
	return out
}
