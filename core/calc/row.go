package calc

import (
	"github.com/shopspring/decimal"

	"tender-cost/core/determinism"
	"tender-cost/core/model"
)

// RowTotal computes a cost row's total: quantity x unit price x waste
// multiplier, rounded half-up to cents. Only material rows with waste
// enabled carry a multiplier other than 1.
func RowTotal(row model.CostRow) decimal.Decimal {
	mult := one
	switch row.Kind {
	case model.RowMaterial:
		if row.HasWaste {
			mult = one.Add(determinism.Percent(row.WastePercentage))
		}
	case model.RowLabor, model.RowEquipment, model.RowSubcontractor:
		// multiplier stays 1
	}
	return determinism.Round2(row.Quantity.Mul(row.UnitPrice).Mul(mult))
}

// RecalculateRow refreshes the derived Total field in place
func RecalculateRow(row *model.CostRow) {
	row.Total = RowTotal(*row)
}
