// Package analysis turns a quote's daily move into a short recommendation.
// The rules are fixed and deterministic; nothing here does I/O.
package analysis

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"quotewatch/internal/provider"
)

const (
	StrongBuy       = "Strong Buy"
	ConsiderSelling = "Consider Selling"
	Hold            = "Hold"
)

// Unavailable is returned for a nil quote or an unparsable percent change.
var Unavailable = provider.Analysis{
	Analysis:       "Unable to generate analysis at this time.",
	Recommendation: Hold,
	Reasoning:      "Analysis service unavailable.",
}

var moveThreshold = decimal.NewFromInt(5)

// Thresholds bound the price tiers used for descriptive notes.
type Thresholds struct {
	Low  decimal.Decimal
	High decimal.Decimal
}

func DefaultThresholds() Thresholds {
	return Thresholds{Low: decimal.NewFromInt(5), High: decimal.NewFromInt(500)}
}

// Engine applies the rule table with configurable price tiers.
type Engine struct {
	Thresholds Thresholds
}

func New(t Thresholds) *Engine { return &Engine{Thresholds: t} }

var defaultEngine = New(DefaultThresholds())

// Analyze runs the default engine.
func Analyze(q *provider.Quote) provider.Analysis { return defaultEngine.Analyze(q) }

// Analyze never fails: bad input yields Unavailable.
func (e *Engine) Analyze(q *provider.Quote) provider.Analysis {
	if q == nil {
		return Unavailable
	}
	pct, err := provider.ParsePercent(q.PercentChange)
	if err != nil {
		return Unavailable
	}

	sym := q.Symbol
	if sym == "" {
		sym = "This stock"
	}
	move := provider.FormatPercent(pct)

	var a provider.Analysis
	switch {
	case pct.LessThanOrEqual(moveThreshold.Neg()):
		a = provider.Analysis{
			Analysis:       fmt.Sprintf("%s is down %s today, a significant decline.", sym, strings.TrimPrefix(move, "-")),
			Recommendation: StrongBuy,
			Reasoning:      fmt.Sprintf("A drop of %s may indicate an oversold condition and a potential buying opportunity.", move),
		}
	case pct.GreaterThanOrEqual(moveThreshold):
		a = provider.Analysis{
			Analysis:       fmt.Sprintf("%s is up %s today, a strong rally.", sym, move),
			Recommendation: ConsiderSelling,
			Reasoning:      fmt.Sprintf("A gain of %s may be a good point to take some profits.", move),
		}
	default:
		a = provider.Analysis{
			Analysis:       fmt.Sprintf("%s moved %s today, within its normal range.", sym, move),
			Recommendation: Hold,
			Reasoning:      "The price movement is moderate and does not signal a clear entry or exit point.",
		}
	}
	if note := e.tierNote(q.Price); note != "" {
		a.Analysis += " " + note
	}
	return a
}

func (e *Engine) tierNote(price decimal.Decimal) string {
	switch {
	case price.IsZero():
		return "No trading price is available; the stock may be halted or delisted."
	case price.LessThan(e.Thresholds.Low):
		return fmt.Sprintf("At $%s this is a Penny Stock, which tends to be volatile.", price.StringFixed(2))
	case price.GreaterThan(e.Thresholds.High):
		return fmt.Sprintf("At $%s this is a High-priced stock.", price.StringFixed(2))
	default:
		return ""
	}
}
