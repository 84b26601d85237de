package model

import (
	"github.com/shopspring/decimal"
)

// PricingMethod selects how a line item's price is entered
type PricingMethod string

const (
	// MethodDetailed prices bottom-up from itemized cost rows
	MethodDetailed PricingMethod = "detailed"

	// MethodDirect enters a single unit price top-down; the overhead
	// breakdown is back-derived from it
	MethodDirect PricingMethod = "direct"
)

// PricingData is the working pricing state of one BOQ line item.
// It is created lazily on first edit and mutated only through the
// state store's row and mode operations.
type PricingData struct {
	Materials      []CostRow `json:"materials"`
	Labor          []CostRow `json:"labor"`
	Equipment      []CostRow `json:"equipment"`
	Subcontractors []CostRow `json:"subcontractors"`

	// AdditionalPercentages overrides the tender defaults when set
	AdditionalPercentages *PercentageSet `json:"additional_percentages,omitempty"`

	Method PricingMethod `json:"pricing_method"`

	// DirectUnitPrice and DerivedPercentages are meaningful only when
	// Method is MethodDirect
	DirectUnitPrice    decimal.Decimal `json:"direct_unit_price"`
	DerivedPercentages *PercentageSet  `json:"derived_percentages,omitempty"`

	TechnicalNotes string `json:"technical_notes,omitempty"`
	Completed      bool   `json:"completed"`
}

// NewPricingData returns an empty detailed-mode pricing state
func NewPricingData() *PricingData {
	return &PricingData{
		Materials:       []CostRow{},
		Labor:           []CostRow{},
		Equipment:       []CostRow{},
		Subcontractors:  []CostRow{},
		Method:          MethodDetailed,
		DirectUnitPrice: decimal.Zero,
	}
}

// Rows returns the section slice for a kind. The switch is exhaustive;
// an invalid kind returns nil.
func (p *PricingData) Rows(kind RowKind) []CostRow {
	switch kind {
	case RowMaterial:
		return p.Materials
	case RowLabor:
		return p.Labor
	case RowEquipment:
		return p.Equipment
	case RowSubcontractor:
		return p.Subcontractors
	default:
		return nil
	}
}

// SetRows replaces the section slice for a kind
func (p *PricingData) SetRows(kind RowKind, rows []CostRow) {
	switch kind {
	case RowMaterial:
		p.Materials = rows
	case RowLabor:
		p.Labor = rows
	case RowEquipment:
		p.Equipment = rows
	case RowSubcontractor:
		p.Subcontractors = rows
	}
}

// ClearRows empties all four sections (direct mode keeps no rows)
func (p *PricingData) ClearRows() {
	p.Materials = []CostRow{}
	p.Labor = []CostRow{}
	p.Equipment = []CostRow{}
	p.Subcontractors = []CostRow{}
}

// RowCount returns the total number of rows across all sections
func (p *PricingData) RowCount() int {
	return len(p.Materials) + len(p.Labor) + len(p.Equipment) + len(p.Subcontractors)
}

// Clone returns a deep copy; snapshots handed to the persistence
// coordinator must not alias the working state
func (p *PricingData) Clone() *PricingData {
	if p == nil {
		return nil
	}
	out := *p
	out.Materials = append([]CostRow(nil), p.Materials...)
	out.Labor = append([]CostRow(nil), p.Labor...)
	out.Equipment = append([]CostRow(nil), p.Equipment...)
	out.Subcontractors = append([]CostRow(nil), p.Subcontractors...)
	if p.AdditionalPercentages != nil {
		cp := *p.AdditionalPercentages
		out.AdditionalPercentages = &cp
	}
	if p.DerivedPercentages != nil {
		cp := *p.DerivedPercentages
		out.DerivedPercentages = &cp
	}
	return &out
}

// QuantityItem is the upstream quantity-table entry a line item prices.
// It is read-only to the pricing engine.
type QuantityItem struct {
	ID          string          `json:"id"`
	ItemNumber  string          `json:"item_number"`
	Description string          `json:"description"`
	Unit        string          `json:"unit"`
	Quantity    decimal.Decimal `json:"quantity"`
}

// Breakdown is the forward engine's output for one line item
type Breakdown struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	Administrative decimal.Decimal `json:"administrative"`
	Operational    decimal.Decimal `json:"operational"`
	Profit         decimal.Decimal `json:"profit"`
	Total          decimal.Decimal `json:"total"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
}
