package alphavantage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"quotewatch/internal/provider"
)

const maxBody = 1 << 20

// globalQuote is the "Global Quote" object. Every value arrives as a string.
type globalQuote struct {
	Symbol           string `json:"01. symbol" validate:"required"`
	Price            string `json:"05. price" validate:"required,numeric"`
	LatestTradingDay string `json:"07. latest trading day" validate:"required,datetime=2006-01-02"`
	PreviousClose    string `json:"08. previous close" validate:"omitempty,numeric"`
	Change           string `json:"09. change" validate:"required,numeric"`
	ChangePercent    string `json:"10. change percent" validate:"required"`
}

type response struct {
	GlobalQuote  *globalQuote `json:"Global Quote"`
	Note         string       `json:"Note"`
	Information  string       `json:"Information"`
	ErrorMessage string       `json:"Error Message"`
}

// Fetch retrieves the latest quote for symbol.
func (c *Client) Fetch(ctx context.Context, symbol string) provider.Result {
	start := time.Now()
	fail := func(kind provider.Kind, err error) provider.Result {
		return provider.Failed(c.name, symbol, kind, err, time.Since(start))
	}

	query := maps.Clone(c.query)
	query.Set("function", "GLOBAL_QUOTE")
	query.Set("symbol", symbol)

	url := fmt.Sprintf("%s/query?%s", c.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fail(provider.KindBadResponse, fmt.Errorf("creating request: %w", err))
	}
	req.Header = c.header.Clone()

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fail(provider.ClassifyTransport(err), fmt.Errorf("performing request: %w", err))
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fail(provider.ClassifyStatus(res.StatusCode), fmt.Errorf("unexpected status code: %d", res.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		return fail(provider.ClassifyTransport(err), fmt.Errorf("reading body: %w", err))
	}

	var payload response
	if err := json.Unmarshal(body, &payload); err != nil {
		return fail(provider.KindBadResponse, fmt.Errorf("decoding global quote: %w", err))
	}

	// Alpha Vantage reports throttling with a 200 and a Note/Information field.
	switch {
	case payload.Note != "":
		return fail(provider.KindRateLimited, errors.New(payload.Note))
	case payload.Information != "":
		return fail(provider.KindRateLimited, errors.New(payload.Information))
	case payload.ErrorMessage != "":
		return fail(provider.KindNotFound, errors.New(payload.ErrorMessage))
	case payload.GlobalQuote == nil || payload.GlobalQuote.Symbol == "":
		return fail(provider.KindNotFound, provider.ErrNoData)
	}

	q, err := payload.GlobalQuote.quote(symbol)
	if err != nil {
		return fail(provider.KindBadResponse, err)
	}
	q.Source = c.name
	return provider.Succeeded(c.name, q, time.Since(start))
}

func (g *globalQuote) quote(symbol string) (provider.Quote, error) {
	if err := provider.CheckSchema(g); err != nil {
		return provider.Quote{}, fmt.Errorf("validating global quote: %w", err)
	}
	price, err := decimal.NewFromString(g.Price)
	if err != nil {
		return provider.Quote{}, fmt.Errorf("decoding price: %w", err)
	}
	change, err := decimal.NewFromString(g.Change)
	if err != nil {
		return provider.Quote{}, fmt.Errorf("decoding change: %w", err)
	}
	pct, err := provider.ParsePercent(g.ChangePercent)
	if err != nil {
		return provider.Quote{}, err
	}
	day, err := time.Parse(time.DateOnly, g.LatestTradingDay)
	if err != nil {
		return provider.Quote{}, fmt.Errorf("decoding trading day: %w", err)
	}

	q := provider.Quote{
		Symbol:        symbol,
		Price:         price,
		Change:        provider.ReconcileChange(change, pct),
		PercentChange: provider.FormatPercent(pct),
		Currency:      "USD",
		LastUpdated:   day,
	}
	if err := q.Validate(); err != nil {
		return provider.Quote{}, err
	}
	return q, nil
}
