// Package model provides the core domain model for tender pricing:
// cost rows, per-item pricing data, and the persisted BOQ snapshot types.
package model

import (
	"github.com/shopspring/decimal"
)

// RowKind discriminates the four cost row sections of a line item.
// Every switch over RowKind must be exhaustive.
type RowKind string

const (
	RowMaterial      RowKind = "material"
	RowLabor         RowKind = "labor"
	RowEquipment     RowKind = "equipment"
	RowSubcontractor RowKind = "subcontractor"
)

// RowKinds lists all kinds in canonical section order
var RowKinds = []RowKind{RowMaterial, RowLabor, RowEquipment, RowSubcontractor}

// Valid reports whether the kind is one of the four sections
func (k RowKind) Valid() bool {
	switch k {
	case RowMaterial, RowLabor, RowEquipment, RowSubcontractor:
		return true
	default:
		return false
	}
}

// CostRow is one granular cost line inside a section of a line item.
// Total is always derived from the other fields, never authored directly.
// HasWaste and WastePercentage are meaningful only for material rows;
// the calculator treats the waste multiplier as 1 for every other kind.
type CostRow struct {
	ID          string          `json:"id"`
	Kind        RowKind         `json:"kind"`
	Description string          `json:"description"`
	Unit        string          `json:"unit"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Total       decimal.Decimal `json:"total"`

	HasWaste        bool            `json:"has_waste,omitempty"`
	WastePercentage decimal.Decimal `json:"waste_percentage"`
}

// PercentageSet holds the overhead rates applied against a row subtotal.
// Each rate is a non-negative percentage (15 means 15%).
type PercentageSet struct {
	Administrative decimal.Decimal `json:"administrative"`
	Operational    decimal.Decimal `json:"operational"`
	Profit         decimal.Decimal `json:"profit"`
}

// Sum returns administrative + operational + profit
func (p PercentageSet) Sum() decimal.Decimal {
	return p.Administrative.Add(p.Operational).Add(p.Profit)
}

// IsZero reports whether all three rates are zero
func (p PercentageSet) IsZero() bool {
	return p.Sum().IsZero()
}

// ZeroPercentages returns an all-zero percentage set
func ZeroPercentages() PercentageSet {
	return PercentageSet{
		Administrative: decimal.Zero,
		Operational:    decimal.Zero,
		Profit:         decimal.Zero,
	}
}
