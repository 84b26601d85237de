// Package boq rolls the per-item pricing state up into the persisted
// bill-of-quantities snapshot: one BOQItem per quantity item plus the
// tender-wide totals with VAT.
package boq

import (
	"github.com/shopspring/decimal"

	"tender-cost/core/calc"
	"tender-cost/core/determinism"
	"tender-cost/core/model"
	"tender-cost/core/state"
)

// Build recomputes every line item through the forward engine and sums
// the results into BOQTotals. It is pure: identical snapshots produce
// identical output.
func Build(snap state.Snapshot) ([]model.BOQItem, model.BOQTotals) {
	items := make([]model.BOQItem, 0, len(snap.Items))

	baseSubtotal := decimal.Zero
	totalValue := decimal.Zero
	profit := decimal.Zero
	admin := decimal.Zero
	operational := decimal.Zero

	for _, qi := range snap.Items {
		pd := snap.Pricing[qi.ID]
		bd := calc.Forward(pd, qi.Quantity, snap.Defaults)

		items = append(items, model.BOQItem{
			ID:          qi.ID,
			Description: qi.Description,
			Unit:        qi.Unit,
			Quantity:    qi.Quantity,
			UnitPrice:   bd.UnitPrice,
			TotalPrice:  bd.Total,
			Breakdown:   itemBreakdown(pd, bd),
			Estimated:   pd.Clone(),
		})

		baseSubtotal = baseSubtotal.Add(bd.Subtotal)
		totalValue = totalValue.Add(bd.Total)
		profit = profit.Add(bd.Profit)
		admin = admin.Add(bd.Administrative)
		operational = operational.Add(bd.Operational)
	}

	vatRate := model.VAT()
	vatAmount := determinism.Round2(totalValue.Mul(vatRate))
	adminOperational := admin.Add(operational)

	totals := model.BOQTotals{
		TotalValue:   totalValue,
		BaseSubtotal: baseSubtotal,
		VATRate:      vatRate,
		VATAmount:    vatAmount,
		TotalWithVAT: totalValue.Add(vatAmount),

		Profit:           profit,
		Administrative:   admin,
		Operational:      operational,
		AdminOperational: adminOperational,

		ProfitPercentage:           ratio(profit, baseSubtotal),
		AdministrativePercentage:   ratio(admin, baseSubtotal),
		OperationalPercentage:      ratio(operational, baseSubtotal),
		AdminOperationalPercentage: ratio(adminOperational, totalValue),
	}

	return items, totals
}

// itemBreakdown decomposes one item's cost by section. A direct-mode
// item has no rows; its implied base subtotal is carried under the
// materials component so tender-wide base sums stay consistent.
func itemBreakdown(pd *model.PricingData, bd model.Breakdown) model.CostBreakdown {
	out := model.CostBreakdown{
		Materials:      decimal.Zero,
		Labor:          decimal.Zero,
		Equipment:      decimal.Zero,
		Subcontractors: decimal.Zero,
		Administrative: bd.Administrative,
		Operational:    bd.Operational,
		Profit:         bd.Profit,
	}

	if pd != nil && pd.Method == model.MethodDirect {
		out.Materials = bd.Subtotal
		return out
	}

	if pd == nil {
		return out
	}
	for _, kind := range model.RowKinds {
		sum := decimal.Zero
		for _, row := range pd.Rows(kind) {
			sum = sum.Add(row.Total)
		}
		switch kind {
		case model.RowMaterial:
			out.Materials = sum
		case model.RowLabor:
			out.Labor = sum
		case model.RowEquipment:
			out.Equipment = sum
		case model.RowSubcontractor:
			out.Subcontractors = sum
		}
	}
	return out
}

// ratio returns amount/denominator as a percentage, 0 when the
// denominator is not positive
func ratio(amount, denominator decimal.Decimal) decimal.Decimal {
	if !denominator.IsPositive() {
		return decimal.Zero
	}
	return amount.Div(denominator).Mul(decimal.NewFromInt(100)).Round(4)
}
