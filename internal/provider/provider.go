package provider

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the normalized shape returned by all adapters.
// Price and Change are decimals to avoid float rounding; PercentChange keeps
// the "-6.00%" form and is validated with ParsePercent before it is trusted.
type Quote struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	Change        decimal.Decimal `json:"change"`
	PercentChange string          `json:"percent_change"`
	CompanyName   string          `json:"company_name,omitempty"`
	Currency      string          `json:"currency,omitempty"`
	Source        string          `json:"source"`
	LastUpdated   time.Time       `json:"last_updated"`
	Analysis      *Analysis       `json:"analysis,omitempty"`
}

// Analysis is attached by the recommendation engine, never by an adapter.
type Analysis struct {
	Analysis       string `json:"analysis"`
	Recommendation string `json:"recommendation"`
	Reasoning      string `json:"reasoning"`
}

// Clone returns a copy that shares nothing mutable with q.
func (q Quote) Clone() Quote {
	if q.Analysis != nil {
		a := *q.Analysis
		q.Analysis = &a
	}
	return q
}

// Validate reports whether q is fully populated and internally consistent.
func (q Quote) Validate() error {
	if q.Symbol == "" {
		return ErrInvalidSymbol
	}
	if q.Price.IsNegative() {
		return ErrNegativePrice
	}
	pct, err := ParsePercent(q.PercentChange)
	if err != nil {
		return err
	}
	if !q.Change.IsZero() && !pct.IsZero() && q.Change.Sign() != pct.Sign() {
		return ErrInconsistentChange
	}
	return nil
}

// Adapter fetches a single symbol from one external source.
//
//go:generate mockgen -package=chain_test -destination=chain/mock_adapter_test.go -source=provider.go Adapter
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, symbol string) Result
}

// Result is the outcome of one adapter attempt or of a whole chain run.
// Exactly one of Quote and ErrorMessage is set.
type Result struct {
	Success      bool
	Quote        *Quote
	ErrorMessage string
	Kind         Kind
	Err          error
	ProviderName string
	Elapsed      time.Duration
}

// Succeeded builds a successful Result around a copy of q.
func Succeeded(name string, q Quote, elapsed time.Duration) Result {
	c := q.Clone()
	return Result{
		Success:      true,
		Quote:        &c,
		ProviderName: name,
		Elapsed:      elapsed,
	}
}

// Failed builds a failed Result, wrapping err in an *Error of the given kind.
func Failed(name, symbol string, kind Kind, err error, elapsed time.Duration) Result {
	perr := &Error{Kind: kind, Provider: name, Symbol: symbol, Err: err}
	return Result{
		Success:      false,
		ErrorMessage: perr.Error(),
		Kind:         kind,
		Err:          perr,
		ProviderName: name,
		Elapsed:      elapsed,
	}
}
