package yahoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"quotewatch/internal/provider"
)

type Config struct {
	Name    string
	BaseURL string
	Timeout time.Duration
}

// Adapter reads the latest price from the v8 chart endpoint.
type Adapter struct {
	name   string
	client *resty.Client
}

// New builds an adapter on its own resty client. Pass hc to share a tuned
// transport; nil uses resty's default.
func New(cfg Config, hc *http.Client) *Adapter {
	if cfg.Name == "" {
		cfg.Name = "yahoo"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://query1.finance.yahoo.com"
	}
	client := resty.New()
	if hc != nil {
		client = resty.NewWithClient(hc)
	}
	client.
		SetBaseURL(cfg.BaseURL).
		SetHeaders(map[string]string{
			"Accept":     "application/json",
			"User-Agent": "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		})
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	return &Adapter{name: cfg.Name, client: client}
}

func (a *Adapter) Name() string { return a.name }

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta meta `json:"meta"`
		} `json:"result"`
		Error *chartError `json:"error"`
	} `json:"chart"`
}

type chartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type meta struct {
	Symbol             string   `json:"symbol"`
	Currency           string   `json:"currency"`
	LongName           string   `json:"longName"`
	ShortName          string   `json:"shortName"`
	RegularMarketPrice *float64 `json:"regularMarketPrice" validate:"required,gte=0"`
	ChartPreviousClose *float64 `json:"chartPreviousClose" validate:"required,gte=0"`
	RegularMarketTime  int64    `json:"regularMarketTime"`
}

func (a *Adapter) Fetch(ctx context.Context, symbol string) provider.Result {
	start := time.Now()
	fail := func(kind provider.Kind, err error) provider.Result {
		return provider.Failed(a.name, symbol, kind, err, time.Since(start))
	}

	resp, err := a.client.R().
		SetContext(ctx).
		SetPathParam("symbol", symbol).
		SetQueryParams(map[string]string{
			"range":    "1d",
			"interval": "1d",
		}).
		Get("/v8/finance/chart/{symbol}")
	if err != nil {
		return fail(provider.ClassifyTransport(err), err)
	}

	// Error bodies are not always JSON.
	var ok chartResponse
	decodeErr := json.Unmarshal(resp.Body(), &ok)

	if resp.IsError() {
		if decodeErr == nil && ok.Chart.Error != nil && strings.EqualFold(ok.Chart.Error.Code, "Not Found") {
			return fail(provider.KindNotFound, errors.New(ok.Chart.Error.Description))
		}
		return fail(provider.ClassifyStatus(resp.StatusCode()), fmt.Errorf("http %d", resp.StatusCode()))
	}
	if decodeErr != nil {
		return fail(provider.KindBadResponse, fmt.Errorf("decode chart: %w", decodeErr))
	}
	if ok.Chart.Error != nil {
		return fail(provider.KindNotFound, fmt.Errorf("%s: %s", ok.Chart.Error.Code, ok.Chart.Error.Description))
	}
	if len(ok.Chart.Result) == 0 {
		return fail(provider.KindNotFound, provider.ErrNoData)
	}

	m := ok.Chart.Result[0].Meta
	if err := provider.CheckSchema(&m); err != nil {
		return fail(provider.KindBadResponse, err)
	}

	price := decimal.NewFromFloat(*m.RegularMarketPrice)
	prev := decimal.NewFromFloat(*m.ChartPreviousClose)
	change := price.Sub(prev)
	pct := provider.PercentOf(change, prev)

	name := m.LongName
	if name == "" {
		name = m.ShortName
	}
	updated := time.Now().UTC()
	if m.RegularMarketTime > 0 {
		updated = time.Unix(m.RegularMarketTime, 0).UTC()
	}
	q := provider.Quote{
		Symbol:        symbol,
		Price:         price,
		Change:        change,
		PercentChange: provider.FormatPercent(pct),
		CompanyName:   name,
		Currency:      m.Currency,
		Source:        a.name,
		LastUpdated:   updated,
	}
	if err := q.Validate(); err != nil {
		return fail(provider.KindBadResponse, err)
	}
	return provider.Succeeded(a.name, q, time.Since(start))
}
