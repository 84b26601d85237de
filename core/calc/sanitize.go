// Package calc implements the pricing calculators: row totals, the
// forward pricing engine, and its algebraic inverse for direct pricing.
//
// All functions are pure. Invalid numeric input never produces an error;
// it is clamped to its valid domain before any arithmetic happens.
package calc

import (
	"math"

	"github.com/shopspring/decimal"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// SanitizeAmount clamps a quantity or unit price: negative, NaN and
// infinite values become 0.
func SanitizeAmount(v float64) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v)
}

// SanitizePercentage clamps an overhead percentage to [0, +inf)
func SanitizePercentage(v float64) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v)
}

// SanitizeWaste clamps a waste percentage to [0, 100]
func SanitizeWaste(v float64) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return decimal.Zero
	}
	if v > 100 {
		return hundred
	}
	return decimal.NewFromFloat(v)
}
