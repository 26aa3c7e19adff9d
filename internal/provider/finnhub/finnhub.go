package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"quotewatch/internal/provider"
)

const maxBody = 1 << 20

type Config struct {
	Name     string
	BaseURL  string
	Token    string
	Currency string
}

// Adapter fetches /api/v1/quote from Finnhub.
type Adapter struct {
	cfg Config
	hc  provider.HTTPClient
}

func New(cfg Config, hc provider.HTTPClient) *Adapter {
	if cfg.Name == "" {
		cfg.Name = "finnhub"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://finnhub.io"
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Adapter{cfg: cfg, hc: hc}
}

func (a *Adapter) Name() string { return a.cfg.Name }

// quote mirrors the Finnhub payload. d and dp are null for unknown symbols.
type quote struct {
	Current       *float64 `json:"c" validate:"required"`
	Change        *float64 `json:"d"`
	PercentChange *float64 `json:"dp"`
	High          float64  `json:"h"`
	Low           float64  `json:"l"`
	Open          float64  `json:"o"`
	PreviousClose float64  `json:"pc" validate:"gte=0"`
	Timestamp     int64    `json:"t" validate:"gte=0"`
}

func (a *Adapter) Fetch(ctx context.Context, symbol string) provider.Result {
	start := time.Now()
	fail := func(kind provider.Kind, err error) provider.Result {
		return provider.Failed(a.cfg.Name, symbol, kind, err, time.Since(start))
	}

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("token", a.cfg.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+"/api/v1/quote?"+q.Encode(), http.NoBody)
	if err != nil {
		return fail(provider.KindBadResponse, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.hc.Do(req)
	if err != nil {
		return fail(provider.ClassifyTransport(err), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fail(provider.ClassifyStatus(resp.StatusCode), fmt.Errorf("http %d: %s", resp.StatusCode, string(b)))
	}

	var raw quote
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&raw); err != nil {
		return fail(provider.KindBadResponse, fmt.Errorf("decode: %w", err))
	}
	if err := provider.CheckSchema(&raw); err != nil {
		return fail(provider.KindBadResponse, err)
	}
	// Finnhub answers unknown symbols with an all-zero body.
	if *raw.Current == 0 && raw.PreviousClose == 0 && raw.Timestamp == 0 {
		return fail(provider.KindNotFound, provider.ErrNoData)
	}

	price := decimal.NewFromFloat(*raw.Current)
	prev := decimal.NewFromFloat(raw.PreviousClose)
	change := price.Sub(prev)
	if raw.Change != nil {
		change = decimal.NewFromFloat(*raw.Change)
	}
	pct := provider.PercentOf(change, prev)
	if raw.PercentChange != nil {
		pct = decimal.NewFromFloat(*raw.PercentChange)
	}

	updated := time.Now().UTC()
	if raw.Timestamp > 0 {
		updated = time.Unix(raw.Timestamp, 0).UTC()
	}
	out := provider.Quote{
		Symbol:        symbol,
		Price:         price,
		Change:        provider.ReconcileChange(change, pct),
		PercentChange: provider.FormatPercent(pct),
		Currency:      a.cfg.Currency,
		Source:        a.cfg.Name,
		LastUpdated:   updated,
	}
	if err := out.Validate(); err != nil {
		return fail(provider.KindBadResponse, err)
	}
	return provider.Succeeded(a.cfg.Name, out, time.Since(start))
}
