package model

import (
	"github.com/shopspring/decimal"
)

// VATRate is the fixed value-added tax rate applied to the tender total.
// Not configurable.
const VATRate = "0.15"

// VAT returns the VAT rate as a decimal
func VAT() decimal.Decimal {
	d, _ := decimal.NewFromString(VATRate)
	return d
}

// CostBreakdown is the persisted per-item cost decomposition
type CostBreakdown struct {
	Materials      decimal.Decimal `json:"materials"`
	Labor          decimal.Decimal `json:"labor"`
	Equipment      decimal.Decimal `json:"equipment"`
	Subcontractors decimal.Decimal `json:"subcontractors"`
	Administrative decimal.Decimal `json:"administrative"`
	Operational    decimal.Decimal `json:"operational"`
	Profit         decimal.Decimal `json:"profit"`
}

// BOQItem is the persisted snapshot of one priced line item.
// Estimated carries a copy of the live pricing data for traceability.
type BOQItem struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Unit        string          `json:"unit"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	Breakdown   CostBreakdown   `json:"breakdown"`
	Estimated   *PricingData    `json:"estimated,omitempty"`
}

// BOQTotals is the persisted tender-wide rollup
type BOQTotals struct {
	TotalValue   decimal.Decimal `json:"total_value"`
	BaseSubtotal decimal.Decimal `json:"base_subtotal"`
	VATRate      decimal.Decimal `json:"vat_rate"`
	VATAmount    decimal.Decimal `json:"vat_amount"`
	TotalWithVAT decimal.Decimal `json:"total_with_vat"`

	Profit           decimal.Decimal `json:"profit"`
	Administrative   decimal.Decimal `json:"administrative"`
	Operational      decimal.Decimal `json:"operational"`
	AdminOperational decimal.Decimal `json:"admin_operational"`

	// Cost-relative ratios (percent of BaseSubtotal)
	ProfitPercentage         decimal.Decimal `json:"profit_percentage"`
	AdministrativePercentage decimal.Decimal `json:"administrative_percentage"`
	OperationalPercentage    decimal.Decimal `json:"operational_percentage"`

	// Combined admin+operational ratio (percent of TotalValue)
	AdminOperationalPercentage decimal.Decimal `json:"admin_operational_percentage"`
}
