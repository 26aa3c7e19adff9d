package watchlist

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Schema creates the tables used by Postgres.
const Schema = `
CREATE TABLE IF NOT EXISTS watchlist_entries (
	id        uuid PRIMARY KEY,
	owner     text        NOT NULL,
	symbol    text        NOT NULL,
	added_at  timestamptz NOT NULL,
	position  integer     NOT NULL
);
CREATE INDEX IF NOT EXISTS watchlist_entries_owner_idx ON watchlist_entries (owner, position);

CREATE TABLE IF NOT EXISTS price_history (
	id             uuid PRIMARY KEY,
	symbol         text        NOT NULL,
	price          numeric     NOT NULL,
	change         numeric     NOT NULL,
	percent_change text        NOT NULL,
	provider       text        NOT NULL,
	quoted_at      timestamptz NOT NULL,
	recorded_at    timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS price_history_symbol_idx ON price_history (symbol, recorded_at DESC);
`

// Postgres is a Repository on a pgx pool.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

// Connect opens a pool and verifies it with a ping.
func Connect(ctx context.Context, url string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func (r *Postgres) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (r *Postgres) Load(ctx context.Context, owner string) ([]Entry, error) {
	query := `
		SELECT id::text, symbol, added_at
		FROM watchlist_entries
		WHERE owner = $1
		ORDER BY position
	`

	rows, err := r.db.Query(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("query watchlist: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			id string
			e  Entry
		)
		if err := rows.Scan(&id, &e.Symbol, &e.AddedAt); err != nil {
			return nil, fmt.Errorf("scan watchlist: %w", err)
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("scan watchlist id: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return entries, nil
}

// Save replaces the owner's list in one transaction.
func (r *Postgres) Save(ctx context.Context, owner string, entries []Entry) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM watchlist_entries WHERE owner = $1`, owner); err != nil {
		return fmt.Errorf("clear watchlist: %w", err)
	}

	b := &pgx.Batch{}
	for i, e := range entries {
		b.Queue(`
			INSERT INTO watchlist_entries (id, owner, symbol, added_at, position)
			VALUES ($1::text::uuid, $2, $3, $4, $5)
		`, e.ID.String(), owner, e.Symbol, e.AddedAt, i)
	}
	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("insert watchlist: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *Postgres) AppendHistory(ctx context.Context, rows []HistoryRow) error {
	if len(rows) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, h := range rows {
		b.Queue(`
			INSERT INTO price_history (id, symbol, price, change, percent_change, provider, quoted_at, recorded_at)
			VALUES ($1::text::uuid, $2, $3::text::numeric, $4::text::numeric, $5, $6, $7, $8)
		`, h.ID.String(), h.Symbol, h.Price.String(), h.Change.String(), h.PercentChange, h.Provider, h.QuotedAt, h.RecordedAt)
	}
	if err := r.db.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

func (r *Postgres) History(ctx context.Context, symbol string, limit int) ([]HistoryRow, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id::text, symbol, price::text, change::text, percent_change, provider, quoted_at, recorded_at
		FROM price_history
		WHERE symbol = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []HistoryRow
	for rows.Next() {
		var (
			id, price, change string
			h                 HistoryRow
		)
		if err := rows.Scan(&id, &h.Symbol, &price, &change, &h.PercentChange, &h.Provider, &h.QuotedAt, &h.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if h.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("scan history id: %w", err)
		}
		if h.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("scan history price: %w", err)
		}
		if h.Change, err = decimal.NewFromString(change); err != nil {
			return nil, fmt.Errorf("scan history change: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}
