package calc

import (
	"github.com/shopspring/decimal"

	"tender-cost/core/determinism"
	"tender-cost/core/model"
)

// impliedBase solves the aggregation formula for the base subtotal:
//
//	base = total / (1 + (admin% + op% + profit%) / 100)
//
// The base is left at full precision. Rounding it here would stack with
// the per-component rounding in DirectBreakdown and push the recomputed
// total more than a cent off the target. When the percentage sum is
// degenerate (zero or negative) the whole total is the base.
func impliedBase(total decimal.Decimal, pct model.PercentageSet) decimal.Decimal {
	sum := pct.Sum()
	if !sum.IsPositive() {
		return total
	}
	return total.Div(one.Add(determinism.Percent(sum)))
}

// Reverse inverts the forward aggregation formula for direct pricing:
// given the target total and the percentage set to honor, it returns
// the percentages the direct item will carry and the unrounded implied
// cost subtotal. DirectBreakdown turns the pair back into a full
// breakdown whose total equals the target exactly.
func Reverse(targetTotal decimal.Decimal, pct model.PercentageSet) (model.PercentageSet, decimal.Decimal) {
	if !pct.Sum().IsPositive() {
		return model.ZeroPercentages(), targetTotal
	}
	return pct, impliedBase(targetTotal, pct)
}
