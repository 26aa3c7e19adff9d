package provider

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9^][A-Z0-9.\-=^]{0,19}$`)

var hundred = decimal.NewFromInt(100)

// schema is shared by all adapters; validator caches struct metadata and is
// safe for concurrent use.
var schema = validator.New(validator.WithRequiredStructEnabled())

// NormalizeSymbol trims and upper-cases s and rejects anything that cannot be
// a ticker.
func NormalizeSymbol(s string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(s))
	if !symbolPattern.MatchString(sym) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, s)
	}
	return sym, nil
}

// ParsePercent parses "-6.00%", "6", " +0.10 % " and similar forms.
func ParsePercent(s string) (decimal.Decimal, error) {
	v := strings.TrimSpace(s)
	v = strings.TrimSpace(strings.TrimSuffix(v, "%"))
	v = strings.TrimPrefix(v, "+")
	if v == "" {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrMalformedPercent, s)
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrMalformedPercent, s)
	}
	return d, nil
}

// FormatPercent renders d as "-6.00%".
func FormatPercent(d decimal.Decimal) string {
	return d.StringFixed(2) + "%"
}

// PercentOf returns change/base*100, or zero when base is zero.
func PercentOf(change, base decimal.Decimal) decimal.Decimal {
	if base.IsZero() {
		return decimal.Zero
	}
	return change.Div(base).Mul(hundred)
}

// ReconcileChange flips the sign of change when it disagrees with pct.
// Some sources report the absolute delta unsigned.
func ReconcileChange(change, pct decimal.Decimal) decimal.Decimal {
	if change.IsZero() || pct.IsZero() || change.Sign() == pct.Sign() {
		return change
	}
	return change.Neg()
}

// CheckSchema validates a decoded provider payload against its struct tags.
func CheckSchema(v any) error {
	return schema.Struct(v)
}
