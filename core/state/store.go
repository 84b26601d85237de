// Package state implements the per-tender pricing state store. All
// mutation of working pricing data goes through it: row operations,
// overhead overrides and pricing-mode switches. Each mutation
// recalculates the affected row and item synchronously, emits an audit
// event, and pokes the persistence coordinator.
//
// A store is owned by a single goroutine (run-to-completion event
// processing); it does no locking of its own apart from the atomic
// dirty flag, which the persistence goroutine clears.
package state

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tender-cost/audit"
	"tender-cost/core/calc"
	"tender-cost/core/determinism"
	"tender-cost/core/model"
	"tender-cost/internal/errors"
)

// RowField names an editable cost row field
type RowField string

const (
	FieldDescription     RowField = "description"
	FieldUnit            RowField = "unit"
	FieldQuantity        RowField = "quantity"
	FieldUnitPrice       RowField = "unit_price"
	FieldHasWaste        RowField = "has_waste"
	FieldWastePercentage RowField = "waste_percentage"
)

// Snapshot is a deep, detached copy of the store's state, handed to
// the persistence coordinator and the BOQ aggregator. It deliberately
// carries no timestamps so that equal states hash equal.
type Snapshot struct {
	TenderID  string                        `json:"tender_id"`
	ProjectID string                        `json:"project_id,omitempty"`
	Items     []model.QuantityItem          `json:"items"`
	Pricing   map[string]*model.PricingData `json:"pricing"`
	Defaults  model.PercentageSet           `json:"defaults"`
}

// Store holds the working pricing state of one tender
type Store struct {
	tenderID  string
	projectID string
	items     []model.QuantityItem
	byID      map[string]model.QuantityItem
	pricing   *determinism.StableMap[string, *model.PricingData]
	defaults  model.PercentageSet
	sink      audit.Sink
	onMutate  func()

	// dirty is atomic: the persistence goroutine clears it after a
	// successful write while the owner goroutine keeps mutating
	dirty atomic.Bool
}

// New creates a store for a tender and its quantity items. The sink
// may be nil; audit then degrades to a no-op.
func New(tenderID, projectID string, items []model.QuantityItem, defaults model.PercentageSet, sink audit.Sink) *Store {
	if sink == nil {
		sink = audit.NopSink{}
	}
	s := &Store{
		tenderID:  tenderID,
		projectID: projectID,
		items:     append([]model.QuantityItem(nil), items...),
		byID:      make(map[string]model.QuantityItem, len(items)),
		pricing:   determinism.NewStableMap[string, *model.PricingData](),
		defaults:  defaults,
		sink:      sink,
	}
	for _, it := range items {
		s.byID[it.ID] = it
	}
	return s
}

// SetOnMutate registers the coordinator callback invoked after every
// successful mutation
func (s *Store) SetOnMutate(fn func()) {
	s.onMutate = fn
}

// TenderID returns the owning tender id
func (s *Store) TenderID() string {
	return s.tenderID
}

// Defaults returns the tender-wide default percentages
func (s *Store) Defaults() model.PercentageSet {
	return s.defaults
}

// SetDefaults replaces the tender-wide default percentages
func (s *Store) SetDefaults(p model.PercentageSet) {
	s.defaults = p
	s.markDirty()
	s.emit(audit.ActionRowUpdate, audit.LevelInfo, audit.StatusOK, map[string]interface{}{
		"scope": "default-percentages",
	})
}

// QuantityItems returns the upstream quantity table
func (s *Store) QuantityItems() []model.QuantityItem {
	return append([]model.QuantityItem(nil), s.items...)
}

// Pricing returns the live pricing data for an item, if any edits exist
func (s *Store) Pricing(itemID string) (*model.PricingData, bool) {
	return s.pricing.Get(itemID)
}

// Dirty reports whether unpersisted mutations exist
func (s *Store) Dirty() bool {
	return s.dirty.Load()
}

// ClearDirty is called after a successful persistence cycle
func (s *Store) ClearDirty() {
	s.dirty.Store(false)
}

// Load replaces the working pricing state from a persisted snapshot
// (warm-up on open, or an explicit refresh). It is not a mutation:
// no audit row events, no coordinator poke.
func (s *Store) Load(pricing map[string]*model.PricingData, defaults model.PercentageSet) {
	s.pricing = determinism.NewStableMap[string, *model.PricingData]()
	determinism.RangeMapSorted(pricing, func(id string, pd *model.PricingData) bool {
		s.pricing.Set(id, pd.Clone())
		return true
	})
	s.defaults = defaults
	s.dirty.Store(false)
}

// AddRow appends a zero-valued row to a section. Material and
// subcontractor rows are seeded with the item quantity, the rest with 1.
// Direct-priced items carry no rows; adding one is rejected until the
// item is switched back to detailed.
func (s *Store) AddRow(itemID string, kind model.RowKind) (model.CostRow, error) {
	if !kind.Valid() {
		return model.CostRow{}, errors.Newf(errors.TypeInput, "invalid row kind: %s", kind)
	}
	pd, item, err := s.ensure(itemID)
	if err != nil {
		return model.CostRow{}, err
	}
	if pd.Method == model.MethodDirect {
		s.emit(audit.ActionRowAdd, audit.LevelWarning, audit.StatusRejected, map[string]interface{}{
			"item_id": itemID,
			"section": string(kind),
			"reason":  "direct-priced item",
		})
		return model.CostRow{}, errors.Input("direct-priced items carry no cost rows; switch back to detailed first")
	}

	seed := decimal.NewFromInt(1)
	switch kind {
	case model.RowMaterial, model.RowSubcontractor:
		seed = item.Quantity
	case model.RowLabor, model.RowEquipment:
		// seeded with 1
	}

	row := model.CostRow{
		ID:              uuid.New().String(),
		Kind:            kind,
		Quantity:        seed,
		UnitPrice:       decimal.Zero,
		WastePercentage: decimal.Zero,
	}
	calc.RecalculateRow(&row)

	pd.SetRows(kind, append(pd.Rows(kind), row))
	s.markDirty()
	s.emit(audit.ActionRowAdd, audit.LevelInfo, audit.StatusOK, map[string]interface{}{
		"item_id": itemID,
		"section": string(kind),
		"row_id":  row.ID,
	})
	return row, nil
}

// UpdateRow sanitizes and applies one field edit, then recalculates the
// row total. A failure while applying leaves the row at its pre-update
// value and surfaces as a non-fatal ROW_UPDATE_ERROR.
func (s *Store) UpdateRow(itemID string, kind model.RowKind, rowID string, field RowField, value interface{}) error {
	pd, _, err := s.ensure(itemID)
	if err != nil {
		return err
	}

	rows := pd.Rows(kind)
	idx := -1
	for i := range rows {
		if rows[i].ID == rowID {
			idx = i
			break
		}
	}
	if idx < 0 {
		err := errors.NotFound("row", rowID)
		s.emit(audit.ActionRowUpdate, audit.LevelWarning, audit.StatusRejected, map[string]interface{}{
			"item_id": itemID,
			"section": string(kind),
			"row_id":  rowID,
		})
		return err
	}

	// Work on a copy; the live row is only replaced on success.
	updated := rows[idx]
	if applyErr := s.applyField(&updated, field, value); applyErr != nil {
		s.emit(audit.ActionRowUpdate, audit.LevelError, audit.StatusFailed, map[string]interface{}{
			"item_id": itemID,
			"row_id":  rowID,
			"field":   string(field),
			"error":   applyErr.Error(),
		})
		return applyErr
	}
	calc.RecalculateRow(&updated)
	rows[idx] = updated

	s.markDirty()
	s.emit(audit.ActionRowUpdate, audit.LevelInfo, audit.StatusOK, map[string]interface{}{
		"item_id": itemID,
		"section": string(kind),
		"row_id":  rowID,
		"field":   string(field),
	})
	return nil
}

// DeleteRow removes a row from a section and recalculates the item
func (s *Store) DeleteRow(itemID string, kind model.RowKind, rowID string) error {
	pd, _, err := s.ensure(itemID)
	if err != nil {
		return err
	}

	rows := pd.Rows(kind)
	for i := range rows {
		if rows[i].ID == rowID {
			pd.SetRows(kind, append(rows[:i:i], rows[i+1:]...))
			s.markDirty()
			s.emit(audit.ActionRowDelete, audit.LevelInfo, audit.StatusOK, map[string]interface{}{
				"item_id": itemID,
				"section": string(kind),
				"row_id":  rowID,
			})
			return nil
		}
	}

	s.emit(audit.ActionRowDelete, audit.LevelWarning, audit.StatusRejected, map[string]interface{}{
		"item_id": itemID,
		"section": string(kind),
		"row_id":  rowID,
	})
	return errors.NotFound("row", rowID)
}

// SwitchToDirect converts an item to direct pricing. Non-positive (or
// non-finite) unit price or quantity rejects the switch without any
// mutation. The implied overhead breakdown is back-derived so that a
// forward recompute reproduces unitPrice x quantity within tolerance.
func (s *Store) SwitchToDirect(itemID string, unitPrice, quantity float64) error {
	up := calc.SanitizeAmount(unitPrice)
	qty := calc.SanitizeAmount(quantity)
	if !up.IsPositive() || !qty.IsPositive() {
		s.emit(audit.ActionSwitchDirect, audit.LevelWarning, audit.StatusRejected, map[string]interface{}{
			"item_id":    itemID,
			"unit_price": unitPrice,
			"quantity":   quantity,
		})
		return errors.Input("direct pricing requires positive unit price and quantity")
	}

	pd, _, err := s.ensure(itemID)
	if err != nil {
		return err
	}

	pct := calc.EffectivePercentages(pd, s.defaults)
	derived, _ := calc.Reverse(up.Mul(qty), pct)

	pd.ClearRows()
	pd.Method = model.MethodDirect
	pd.DirectUnitPrice = up
	pd.DerivedPercentages = &derived
	pd.Completed = true

	s.markDirty()
	s.emit(audit.ActionSwitchDirect, audit.LevelInfo, audit.StatusOK, map[string]interface{}{
		"item_id":    itemID,
		"unit_price": up.String(),
		"quantity":   qty.String(),
	})
	return nil
}

// SwitchToDetailed converts an item back to bottom-up pricing. The
// direct fields are cleared and the item starts again from empty rows.
func (s *Store) SwitchToDetailed(itemID string) error {
	pd, _, err := s.ensure(itemID)
	if err != nil {
		return err
	}

	pd.Method = model.MethodDetailed
	pd.DirectUnitPrice = decimal.Zero
	pd.DerivedPercentages = nil
	pd.Completed = false

	s.markDirty()
	s.emit(audit.ActionSwitchDetailed, audit.LevelInfo, audit.StatusOK, map[string]interface{}{
		"item_id": itemID,
	})
	return nil
}

// SetItemPercentages sets or clears the per-item overhead override
func (s *Store) SetItemPercentages(itemID string, pct *model.PercentageSet) error {
	pd, _, err := s.ensure(itemID)
	if err != nil {
		return err
	}
	pd.AdditionalPercentages = pct
	s.markDirty()
	s.emit(audit.ActionRowUpdate, audit.LevelInfo, audit.StatusOK, map[string]interface{}{
		"item_id": itemID,
		"scope":   "item-percentages",
	})
	return nil
}

// SetTechnicalNotes updates the item's technical notes
func (s *Store) SetTechnicalNotes(itemID, notes string) error {
	pd, _, err := s.ensure(itemID)
	if err != nil {
		return err
	}
	pd.TechnicalNotes = notes
	s.markDirty()
	return nil
}

// SetCompleted flags a detailed item as priced. Direct items are always
// completed; clearing the flag on one is ignored.
func (s *Store) SetCompleted(itemID string, completed bool) error {
	pd, _, err := s.ensure(itemID)
	if err != nil {
		return err
	}
	if pd.Method == model.MethodDirect {
		pd.Completed = true
		return nil
	}
	pd.Completed = completed
	s.markDirty()
	return nil
}

// Breakdown runs the forward engine for one item against its current
// working state
func (s *Store) Breakdown(itemID string) (model.Breakdown, error) {
	item, ok := s.byID[itemID]
	if !ok {
		return model.Breakdown{}, errors.NotFound("quantity item", itemID)
	}
	pd, _ := s.pricing.Get(itemID)
	return calc.Forward(pd, item.Quantity, s.defaults), nil
}

// Snapshot returns a deep, detached copy of the current state
func (s *Store) Snapshot() Snapshot {
	pricing := make(map[string]*model.PricingData, s.pricing.Len())
	s.pricing.Range(func(id string, pd *model.PricingData) bool {
		pricing[id] = pd.Clone()
		return true
	})
	return Snapshot{
		TenderID:  s.tenderID,
		ProjectID: s.projectID,
		Items:     s.QuantityItems(),
		Pricing:   pricing,
		Defaults:  s.defaults,
	}
}

// ensure returns the pricing data for an item, creating it lazily on
// first edit
func (s *Store) ensure(itemID string) (*model.PricingData, model.QuantityItem, error) {
	item, ok := s.byID[itemID]
	if !ok {
		return nil, model.QuantityItem{}, errors.NotFound("quantity item", itemID)
	}
	pd, ok := s.pricing.Get(itemID)
	if !ok {
		pd = model.NewPricingData()
		s.pricing.Set(itemID, pd)
	}
	return pd, item, nil
}

// applyField coerces and applies one field edit. Out-of-domain numbers
// are clamped, never rejected; a panic from unexpected input is
// recovered into a ROW_UPDATE_ERROR.
func (s *Store) applyField(row *model.CostRow, field RowField, value interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.RowUpdate(fmt.Sprintf("panic applying field %s", field), fmt.Errorf("%v", r))
		}
	}()

	switch field {
	case FieldDescription:
		row.Description = toString(value)
	case FieldUnit:
		row.Unit = toString(value)
	case FieldQuantity:
		row.Quantity = calc.SanitizeAmount(toFloat(value))
	case FieldUnitPrice:
		row.UnitPrice = calc.SanitizeAmount(toFloat(value))
	case FieldHasWaste:
		row.HasWaste = toBool(value)
	case FieldWastePercentage:
		row.WastePercentage = calc.SanitizeWaste(toFloat(value))
		if row.WastePercentage.IsPositive() {
			row.HasWaste = true
		}
	default:
		return errors.Newf(errors.TypeInput, "unknown row field: %s", field)
	}

	// Waste is a material-only concept, and disabling it zeroes the rate.
	if row.Kind != model.RowMaterial {
		row.HasWaste = false
	}
	if !row.HasWaste {
		row.WastePercentage = decimal.Zero
	}
	return nil
}

func (s *Store) markDirty() {
	s.dirty.Store(true)
	if s.onMutate != nil {
		s.onMutate()
	}
}

func (s *Store) emit(action string, level audit.Level, status string, metadata map[string]interface{}) {
	s.sink.Record(audit.Event{
		Category:  audit.CategoryTenderPricing,
		Action:    action,
		Key:       s.tenderID,
		Level:     level,
		Status:    status,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
	})
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case decimal.Decimal:
		f, _ := n.Float64()
		return f
	case string:
		var f float64
		if _, err := fmt.Sscanf(n, "%g", &f); err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func toBool(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true" || b == "1"
	default:
		return false
	}
}
