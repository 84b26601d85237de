package calc

import (
	"github.com/shopspring/decimal"

	"tender-cost/core/determinism"
	"tender-cost/core/model"
)

// EffectivePercentages resolves the overhead rates for an item: the
// item-level override when present, otherwise the tender defaults.
func EffectivePercentages(pd *model.PricingData, defaults model.PercentageSet) model.PercentageSet {
	if pd != nil && pd.AdditionalPercentages != nil {
		return *pd.AdditionalPercentages
	}
	return defaults
}

// Subtotal sums all row totals across the four sections
func Subtotal(pd *model.PricingData) decimal.Decimal {
	sum := decimal.Zero
	if pd == nil {
		return sum
	}
	for _, kind := range model.RowKinds {
		for _, row := range pd.Rows(kind) {
			sum = sum.Add(row.Total)
		}
	}
	return sum
}

// Aggregate applies the authoritative overhead formula to a cost
// subtotal:
//
//	administrative = subtotal * admin% / 100
//	operational    = subtotal * op% / 100
//	profit         = subtotal * profit% / 100
//	total          = subtotal + administrative + operational + profit
//	unitPrice      = total / quantity  (total itself when quantity is 0)
//
// Component amounts are rounded to cents. Identical inputs always
// produce identical outputs; the no-op detector depends on that.
func Aggregate(subtotal, quantity decimal.Decimal, pct model.PercentageSet) model.Breakdown {
	admin := determinism.Round2(subtotal.Mul(determinism.Percent(pct.Administrative)))
	op := determinism.Round2(subtotal.Mul(determinism.Percent(pct.Operational)))
	profit := determinism.Round2(subtotal.Mul(determinism.Percent(pct.Profit)))
	total := subtotal.Add(admin).Add(op).Add(profit)

	unitPrice := total
	if quantity.IsPositive() {
		unitPrice = determinism.Round2(total.Div(quantity))
	}

	return model.Breakdown{
		Subtotal:       subtotal,
		Administrative: admin,
		Operational:    op,
		Profit:         profit,
		Total:          total,
		UnitPrice:      unitPrice,
	}
}

// DirectBreakdown decomposes a fixed target total into the aggregation
// formula's components. The overhead amounts are computed from the
// unrounded implied base and the subtotal absorbs the rounding residue,
// so Total always equals the target exactly.
func DirectBreakdown(target, quantity decimal.Decimal, pct model.PercentageSet) model.Breakdown {
	base := impliedBase(target, pct)
	admin := determinism.Round2(base.Mul(determinism.Percent(pct.Administrative)))
	op := determinism.Round2(base.Mul(determinism.Percent(pct.Operational)))
	profit := determinism.Round2(base.Mul(determinism.Percent(pct.Profit)))
	subtotal := target.Sub(admin).Sub(op).Sub(profit)

	unitPrice := target
	if quantity.IsPositive() {
		unitPrice = determinism.Round2(target.Div(quantity))
	}

	return model.Breakdown{
		Subtotal:       subtotal,
		Administrative: admin,
		Operational:    op,
		Profit:         profit,
		Total:          target,
		UnitPrice:      unitPrice,
	}
}

// Forward computes the full breakdown for one line item.
//
// Detailed mode derives the subtotal from the item's cost rows. Direct
// mode decomposes the entered unit price times quantity through
// DirectBreakdown with the derived percentages; the recomputed total
// reproduces unitPrice x quantity exactly.
func Forward(pd *model.PricingData, quantity decimal.Decimal, defaults model.PercentageSet) model.Breakdown {
	pct := EffectivePercentages(pd, defaults)

	if pd != nil && pd.Method == model.MethodDirect {
		if pd.DerivedPercentages != nil {
			pct = *pd.DerivedPercentages
		}
		target := pd.DirectUnitPrice.Mul(quantity)
		return DirectBreakdown(target, quantity, pct)
	}

	return Aggregate(Subtotal(pd), quantity, pct)
}
