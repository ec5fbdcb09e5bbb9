// Package fx converts peer payment amounts between home currencies using a
// snapshot of exchange rates quoted against a common base.
package fx

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pennywise/pennywise/internal/apperr"
)

// RatePlaces is the precision at which a cross rate is fixed before it is
// applied and stored alongside a transaction.
const RatePlaces = 10

// Rates is an exchange-rate table quoted against Base.
type Rates struct {
	Base      string                     `json:"base"`
	Timestamp int64                      `json:"timestamp"`
	Rates     map[string]decimal.Decimal `json:"rates"`
}

// Provider returns the latest rate snapshot.
type Provider interface {
	Latest(ctx context.Context) (Rates, error)
}

// Conversion is the outcome of converting a payer amount.
type Conversion struct {
	From   string
	To     string
	Rate   decimal.Decimal
	Amount int64
	// Cross is false when both currencies match and no rate applies.
	Cross bool
}

// CrossRate returns rates[to] / rates[from] fixed to RatePlaces.
func (r Rates) CrossRate(from, to string) (decimal.Decimal, error) {
	from, to = normalize(from), normalize(to)
	fromRate, ok := r.Rates[from]
	if !ok || !fromRate.IsPositive() {
		return decimal.Zero, apperr.Validation(fmt.Sprintf("unsupported currency %q", from))
	}
	toRate, ok := r.Rates[to]
	if !ok || !toRate.IsPositive() {
		return decimal.Zero, apperr.Validation(fmt.Sprintf("unsupported currency %q", to))
	}
	return toRate.DivRound(fromRate, RatePlaces), nil
}

// ApplyRate converts minor units with rate, rounding half away from zero.
func ApplyRate(amount int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(rate).Round(0).IntPart()
}

// Convert converts amount (minor units of from) into minor units of to.
func Convert(amount int64, from, to string, rates Rates) (Conversion, error) {
	from, to = normalize(from), normalize(to)
	if amount <= 0 {
		return Conversion{}, apperr.Validation("amount must be positive")
	}
	if from == to {
		return Conversion{From: from, To: to, Rate: decimal.NewFromInt(1), Amount: amount}, nil
	}
	rate, err := rates.CrossRate(from, to)
	if err != nil {
		return Conversion{}, err
	}
	converted := ApplyRate(amount, rate)
	if converted <= 0 {
		return Conversion{}, apperr.Validation("amount is too small to convert")
	}
	return Conversion{From: from, To: to, Rate: rate, Amount: converted, Cross: true}, nil
}

// Converter fetches rates only when a conversion actually crosses currencies.
type Converter struct {
	provider Provider
}

// NewConverter wraps a rate provider.
func NewConverter(provider Provider) *Converter {
	return &Converter{provider: provider}
}

// Convert converts amount between currencies using the provider's latest snapshot.
func (c *Converter) Convert(ctx context.Context, amount int64, from, to string) (Conversion, error) {
	if normalize(from) == normalize(to) {
		return Convert(amount, from, to, Rates{})
	}
	rates, err := c.provider.Latest(ctx)
	if err != nil {
		return Conversion{}, err
	}
	return Convert(amount, from, to, rates)
}

// StaticProvider serves a fixed snapshot. Useful in development and tests.
type StaticProvider struct {
	Snapshot Rates
	Err      error
}

// Latest returns the configured snapshot or error.
func (p StaticProvider) Latest(context.Context) (Rates, error) {
	if p.Err != nil {
		return Rates{}, p.Err
	}
	return p.Snapshot, nil
}

// DefaultRates is a small USD based table used when no rates API is configured.
func DefaultRates() Rates {
	return Rates{
		Base: "USD",
		Rates: map[string]decimal.Decimal{
			"USD": decimal.NewFromInt(1),
			"EUR": decimal.RequireFromString("0.92"),
			"GBP": decimal.RequireFromString("0.79"),
			"HKD": decimal.RequireFromString("7.8"),
			"JPY": decimal.RequireFromString("149.5"),
			"CAD": decimal.RequireFromString("1.36"),
			"AUD": decimal.RequireFromString("1.52"),
			"CNY": decimal.RequireFromString("7.24"),
		},
	}
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
