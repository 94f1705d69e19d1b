// Package money centralizes fixed-point monetary arithmetic. All amounts are
// decimals at currency-minor-unit scale (2 places); rounding happens once, at
// the point of computation, with round-half-up.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the currency minor-unit scale applied to every stored amount.
const Scale = 2

var hundred = decimal.NewFromInt(100)

// Round normalizes an amount to the canonical scale using round-half-up.
// Amounts handled by the engine are non-negative, for which shopspring's
// half-away-from-zero rounding is exactly round-half-up.
func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(Scale)
}

// Percent returns pct percent of amount, rounded to scale.
func Percent(amount decimal.Decimal, pct decimal.Decimal) decimal.Decimal {
	return Round(amount.Mul(pct).Div(hundred))
}

// BasisPoints returns bps/10000 of amount, rounded to scale. Used for
// platform fees.
func BasisPoints(amount decimal.Decimal, bps int64) decimal.Decimal {
	if bps <= 0 {
		return decimal.Zero
	}
	return Round(amount.Mul(decimal.NewFromInt(bps)).Div(decimal.NewFromInt(10000)))
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Parse converts raw input into a non-negative scaled amount.
func Parse(value string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("amount %q must not be negative", value)
	}
	if amount.Exponent() < -Scale {
		return decimal.Zero, fmt.Errorf("amount %q exceeds %d decimal places", value, Scale)
	}
	return Round(amount), nil
}

// IsPositive reports whether the amount is strictly greater than zero.
func IsPositive(amount decimal.Decimal) bool {
	return amount.IsPositive()
}
