package stooq

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"quotewatch/internal/provider"
)

const maxBody = 64 << 10

type Config struct {
	Name    string
	BaseURL string
	// Suffix is appended to bare tickers, e.g. ".us".
	Suffix   string
	Currency string
}

// Adapter reads the stooq light quote CSV for the last price, and the daily
// history CSV for the close of the session before it.
type Adapter struct {
	cfg Config
	hc  provider.HTTPClient
	loc *time.Location
}

func New(cfg Config, hc provider.HTTPClient) *Adapter {
	if cfg.Name == "" {
		cfg.Name = "stooq"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://stooq.com"
	}
	if cfg.Suffix == "" {
		cfg.Suffix = ".us"
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	loc, err := time.LoadLocation("Europe/Warsaw")
	if err != nil {
		loc = time.UTC
	}
	return &Adapter{cfg: cfg, hc: hc, loc: loc}
}

func (a *Adapter) Name() string { return a.cfg.Name }

// row is one data line: Symbol,Date,Time,Open,High,Low,Close,Volume,Name.
type row struct {
	Symbol string `validate:"required"`
	Date   string `validate:"required,datetime=2006-01-02"`
	Time   string `validate:"required,datetime=15:04:05"`
	Close  string `validate:"required,numeric"`
	Name   string
}

// historyDays is how far back the daily history is read. It spans long
// market closures.
const historyDays = 14

func (a *Adapter) ticker(symbol string) string {
	s := strings.ToLower(symbol)
	if strings.Contains(s, ".") || strings.HasPrefix(s, "^") {
		return s
	}
	return s + a.cfg.Suffix
}

func (a *Adapter) Fetch(ctx context.Context, symbol string) provider.Result {
	start := time.Now()
	fail := func(kind provider.Kind, err error) provider.Result {
		return provider.Failed(a.cfg.Name, symbol, kind, err, time.Since(start))
	}

	// h and e=csv are bare flags; url.Values would render them as h=.
	ticker := url.QueryEscape(a.ticker(symbol))
	body, kind, err := a.get(ctx, fmt.Sprintf("%s/q/l/?s=%s&f=sd2t2ohlcvn&h&e=csv", a.cfg.BaseURL, ticker))
	if err != nil {
		return fail(kind, err)
	}
	r, err := readRow(body)
	if err != nil {
		if errors.Is(err, provider.ErrNoData) {
			return fail(provider.KindNotFound, err)
		}
		return fail(provider.KindBadResponse, err)
	}
	if err := provider.CheckSchema(&r); err != nil {
		return fail(provider.KindBadResponse, err)
	}

	day, _ := time.Parse(time.DateOnly, r.Date)
	body, kind, err = a.get(ctx, fmt.Sprintf("%s/q/d/l/?s=%s&i=d&d1=%s&d2=%s", a.cfg.BaseURL, ticker,
		day.AddDate(0, 0, -historyDays).Format("20060102"), day.Format("20060102")))
	if err != nil {
		return fail(kind, fmt.Errorf("history: %w", err))
	}
	prevClose, err := readPreviousClose(body, r.Date)
	if err != nil {
		return fail(provider.KindBadResponse, fmt.Errorf("previous close: %w", err))
	}

	price, _ := decimal.NewFromString(r.Close)
	change := price.Sub(prevClose)
	pct := provider.PercentOf(change, prevClose)
	updated, err := time.ParseInLocation(time.DateTime, r.Date+" "+r.Time, a.loc)
	if err != nil {
		return fail(provider.KindBadResponse, err)
	}

	q := provider.Quote{
		Symbol:        symbol,
		Price:         price,
		Change:        change,
		PercentChange: provider.FormatPercent(pct),
		CompanyName:   r.Name,
		Currency:      a.cfg.Currency,
		Source:        a.cfg.Name,
		LastUpdated:   updated.UTC(),
	}
	if err := q.Validate(); err != nil {
		return fail(provider.KindBadResponse, err)
	}
	return provider.Succeeded(a.cfg.Name, q, time.Since(start))
}

// get returns the body of a 2xx response, capped at maxBody, or the failure
// kind for anything else.
func (a *Adapter) get(ctx context.Context, u string) ([]byte, provider.Kind, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, provider.KindBadResponse, fmt.Errorf("creating request: %w", err)
	}
	resp, err := a.hc.Do(req)
	if err != nil {
		return nil, provider.ClassifyTransport(err), err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, provider.ClassifyStatus(resp.StatusCode), fmt.Errorf("http %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, provider.ClassifyTransport(err), err
	}
	return body, provider.KindNone, nil
}

func readRow(body []byte) (row, error) {
	records, err := readCSV(body)
	if err != nil {
		return row{}, err
	}
	if len(records) < 2 {
		return row{}, provider.ErrNoData
	}
	rec := records[1]
	if len(rec) < 9 {
		return row{}, fmt.Errorf("decode csv: want 9 fields, got %d", len(rec))
	}
	for _, f := range rec[1:7] {
		if strings.EqualFold(strings.TrimSpace(f), "N/D") {
			return row{}, provider.ErrNoData
		}
	}
	return row{
		Symbol: rec[0],
		Date:   rec[1],
		Time:   rec[2],
		Close:  rec[6],
		Name:   strings.TrimSpace(rec[8]),
	}, nil
}

// readPreviousClose scans Date,Open,High,Low,Close,Volume rows for the latest
// session strictly before day.
func readPreviousClose(body []byte, day string) (decimal.Decimal, error) {
	records, err := readCSV(body)
	if err != nil {
		return decimal.Decimal{}, err
	}
	var (
		best string
		prev decimal.Decimal
	)
	for _, rec := range records {
		if len(rec) < 5 || rec[0] >= day || rec[0] <= best {
			continue
		}
		if _, err := time.Parse(time.DateOnly, rec[0]); err != nil {
			continue
		}
		c, err := decimal.NewFromString(strings.TrimSpace(rec[4]))
		if err != nil || !c.IsPositive() {
			continue
		}
		best, prev = rec[0], c
	}
	if best == "" {
		return decimal.Decimal{}, provider.ErrNoData
	}
	return prev, nil
}

func readCSV(body []byte) ([][]string, error) {
	cr := csv.NewReader(bytes.NewReader(body))
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("decode csv: %w", err)
	}
	return records, nil
}
