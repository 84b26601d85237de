// Package state - state store tests: lazy creation, row operations,
// waste coupling, mode switches and audit emission.
package state

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"

	"tender-cost/audit"
	"tender-cost/core/model"
	"tender-cost/internal/errors"
)

func testItems() []model.QuantityItem {
	return []model.QuantityItem{
		{ID: "item-1", ItemNumber: "1.1", Description: "Excavation", Unit: "m3", Quantity: decimal.NewFromInt(10)},
		{ID: "item-2", ItemNumber: "1.2", Description: "Concrete", Unit: "m3", Quantity: decimal.NewFromInt(3)},
	}
}

func testDefaults() model.PercentageSet {
	return model.PercentageSet{
		Administrative: decimal.NewFromInt(5),
		Operational:    decimal.NewFromInt(5),
		Profit:         decimal.NewFromInt(15),
	}
}

func newTestStore(sink audit.Sink) *Store {
	return New("tender-1", "project-1", testItems(), testDefaults(), sink)
}

func TestPricingCreatedLazily(t *testing.T) {
	s := newTestStore(nil)

	if _, ok := s.Pricing("item-1"); ok {
		t.Fatal("pricing must not exist before the first edit")
	}
	if _, err := s.AddRow("item-1", model.RowMaterial); err != nil {
		t.Fatalf("AddRow failed: %v", err)
	}
	pd, ok := s.Pricing("item-1")
	if !ok {
		t.Fatal("pricing must exist after the first edit")
	}
	if pd.Method != model.MethodDetailed || pd.Completed {
		t.Errorf("fresh pricing must be detailed and not completed: %+v", pd)
	}
}

func TestAddRowSeedsQuantity(t *testing.T) {
	s := newTestStore(nil)

	mat, _ := s.AddRow("item-1", model.RowMaterial)
	if mat.Quantity.StringFixed(0) != "10" {
		t.Errorf("material row must seed the item quantity, got %s", mat.Quantity)
	}
	sub, _ := s.AddRow("item-1", model.RowSubcontractor)
	if sub.Quantity.StringFixed(0) != "10" {
		t.Errorf("subcontractor row must seed the item quantity, got %s", sub.Quantity)
	}
	lab, _ := s.AddRow("item-1", model.RowLabor)
	if lab.Quantity.StringFixed(0) != "1" {
		t.Errorf("labor row must seed 1, got %s", lab.Quantity)
	}
	if !mat.Total.IsZero() {
		t.Errorf("new row total must be 0, got %s", mat.Total)
	}
}

func TestAddRowUnknownItemRejected(t *testing.T) {
	s := newTestStore(nil)
	if _, err := s.AddRow("nope", model.RowMaterial); !errors.IsType(err, errors.TypeNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestUpdateRowRecalculates(t *testing.T) {
	s := newTestStore(nil)
	row, _ := s.AddRow("item-1", model.RowMaterial)

	must(t, s.UpdateRow("item-1", model.RowMaterial, row.ID, FieldUnitPrice, 5.0))
	must(t, s.UpdateRow("item-1", model.RowMaterial, row.ID, FieldHasWaste, true))
	must(t, s.UpdateRow("item-1", model.RowMaterial, row.ID, FieldWastePercentage, 10.0))

	pd, _ := s.Pricing("item-1")
	got := pd.Materials[0]
	if got.Total.StringFixed(2) != "55.00" {
		t.Errorf("expected 55.00 (10 x 5 x 1.10), got %s", got.Total.StringFixed(2))
	}

	bd, err := s.Breakdown("item-1")
	if err != nil {
		t.Fatalf("Breakdown failed: %v", err)
	}
	if bd.Subtotal.StringFixed(2) != "55.00" {
		t.Errorf("item subtotal must follow the row, got %s", bd.Subtotal.StringFixed(2))
	}
}

func TestUpdateRowClampsInvalidNumbers(t *testing.T) {
	s := newTestStore(nil)
	row, _ := s.AddRow("item-1", model.RowLabor)

	must(t, s.UpdateRow("item-1", model.RowLabor, row.ID, FieldQuantity, -7.0))
	must(t, s.UpdateRow("item-1", model.RowLabor, row.ID, FieldUnitPrice, -1.0))

	pd, _ := s.Pricing("item-1")
	got := pd.Labor[0]
	if !got.Quantity.IsZero() || !got.UnitPrice.IsZero() {
		t.Errorf("negative inputs must clamp to 0: qty=%s price=%s", got.Quantity, got.UnitPrice)
	}
}

func TestDisablingWasteZeroesPercentage(t *testing.T) {
	s := newTestStore(nil)
	row, _ := s.AddRow("item-1", model.RowMaterial)

	must(t, s.UpdateRow("item-1", model.RowMaterial, row.ID, FieldWastePercentage, 25.0))
	pd, _ := s.Pricing("item-1")
	if !pd.Materials[0].HasWaste {
		t.Fatal("positive waste percentage must enable the waste flag")
	}

	must(t, s.UpdateRow("item-1", model.RowMaterial, row.ID, FieldHasWaste, false))
	pd, _ = s.Pricing("item-1")
	got := pd.Materials[0]
	if got.HasWaste || !got.WastePercentage.IsZero() {
		t.Errorf("disabling waste must zero the percentage: %+v", got)
	}
}

func TestWasteClampedToHundred(t *testing.T) {
	s := newTestStore(nil)
	row, _ := s.AddRow("item-1", model.RowMaterial)

	must(t, s.UpdateRow("item-1", model.RowMaterial, row.ID, FieldWastePercentage, 250.0))
	pd, _ := s.Pricing("item-1")
	if pd.Materials[0].WastePercentage.StringFixed(0) != "100" {
		t.Errorf("waste must clamp to 100, got %s", pd.Materials[0].WastePercentage)
	}
}

func TestUpdateRowUnknownFieldLeavesRowUntouched(t *testing.T) {
	s := newTestStore(nil)
	row, _ := s.AddRow("item-1", model.RowMaterial)
	must(t, s.UpdateRow("item-1", model.RowMaterial, row.ID, FieldUnitPrice, 5.0))

	err := s.UpdateRow("item-1", model.RowMaterial, row.ID, RowField("bogus"), 1.0)
	if err == nil {
		t.Fatal("unknown field must be rejected")
	}

	pd, _ := s.Pricing("item-1")
	if pd.Materials[0].UnitPrice.StringFixed(2) != "5.00" {
		t.Errorf("row must keep its pre-update value, got %s", pd.Materials[0].UnitPrice)
	}
}

func TestUpdateRowIdempotent(t *testing.T) {
	s := newTestStore(nil)
	row, _ := s.AddRow("item-1", model.RowMaterial)

	must(t, s.UpdateRow("item-1", model.RowMaterial, row.ID, FieldUnitPrice, 5.0))
	first, _ := json.Marshal(s.Snapshot())

	must(t, s.UpdateRow("item-1", model.RowMaterial, row.ID, FieldUnitPrice, 5.0))
	second, _ := json.Marshal(s.Snapshot())

	if string(first) != string(second) {
		t.Error("applying the same sanitized value twice must yield identical state")
	}
}

func TestDeleteRow(t *testing.T) {
	s := newTestStore(nil)
	row, _ := s.AddRow("item-1", model.RowEquipment)

	must(t, s.DeleteRow("item-1", model.RowEquipment, row.ID))
	pd, _ := s.Pricing("item-1")
	if len(pd.Equipment) != 0 {
		t.Errorf("row must be gone, have %d", len(pd.Equipment))
	}

	if err := s.DeleteRow("item-1", model.RowEquipment, row.ID); !errors.IsType(err, errors.TypeNotFound) {
		t.Errorf("deleting a missing row must be NOT_FOUND, got %v", err)
	}
}

func TestSwitchToDirectRejectsNonPositive(t *testing.T) {
	s := newTestStore(nil)

	cases := []struct{ price, qty float64 }{
		{0, 3}, {-5, 3}, {200, 0}, {200, -1},
	}
	for _, tc := range cases {
		if err := s.SwitchToDirect("item-2", tc.price, tc.qty); !errors.IsType(err, errors.TypeInput) {
			t.Errorf("price=%v qty=%v: expected INPUT_ERROR, got %v", tc.price, tc.qty, err)
		}
	}
	if _, ok := s.Pricing("item-2"); ok {
		t.Error("a rejected switch must not create pricing state")
	}
}

func TestSwitchToDirectRoundTrip(t *testing.T) {
	s := newTestStore(nil)
	// Seed some detailed rows to prove they are cleared.
	row, _ := s.AddRow("item-2", model.RowMaterial)
	must(t, s.UpdateRow("item-2", model.RowMaterial, row.ID, FieldUnitPrice, 99.0))

	must(t, s.SwitchToDirect("item-2", 200, 3))

	pd, _ := s.Pricing("item-2")
	if pd.Method != model.MethodDirect {
		t.Fatalf("expected direct method, got %s", pd.Method)
	}
	if pd.RowCount() != 0 {
		t.Errorf("direct mode must clear all rows, have %d", pd.RowCount())
	}
	if !pd.Completed {
		t.Error("direct mode forces completed")
	}
	if pd.DerivedPercentages == nil {
		t.Fatal("direct mode must carry derived percentages")
	}

	bd, err := s.Breakdown("item-2")
	if err != nil {
		t.Fatalf("Breakdown failed: %v", err)
	}
	target := decimal.NewFromInt(600)
	if bd.Total.Sub(target).Abs().GreaterThan(decimal.NewFromFloat(0.01)) {
		t.Errorf("forward recompute must reproduce 600 +-0.01, got %s", bd.Total)
	}
	t.Logf("direct round trip: total=%s", bd.Total.StringFixed(2))
}

func TestSwitchToDirectBoundaryAmountExact(t *testing.T) {
	s := newTestStore(nil)
	// 12.62 sits on a rounding boundary for 5/5/15 overhead.
	must(t, s.SwitchToDirect("item-2", 12.62, 3))

	bd, err := s.Breakdown("item-2")
	if err != nil {
		t.Fatalf("Breakdown failed: %v", err)
	}
	target := decimal.NewFromFloat(12.62).Mul(decimal.NewFromInt(3))
	if !bd.Total.Equal(target) {
		t.Errorf("forward recompute must reproduce %s exactly, got %s", target, bd.Total)
	}
	if bd.UnitPrice.StringFixed(2) != "12.62" {
		t.Errorf("unit price must survive the round trip, got %s", bd.UnitPrice)
	}
}

func TestAddRowRejectedOnDirectItem(t *testing.T) {
	sink := audit.NewMemorySink()
	s := newTestStore(sink)
	must(t, s.SwitchToDirect("item-2", 200, 3))

	if _, err := s.AddRow("item-2", model.RowMaterial); !errors.IsType(err, errors.TypeInput) {
		t.Fatalf("expected INPUT_ERROR, got %v", err)
	}
	pd, _ := s.Pricing("item-2")
	if pd.RowCount() != 0 {
		t.Errorf("direct item must stay row-free, have %d", pd.RowCount())
	}
	if pd.Method != model.MethodDirect {
		t.Errorf("rejection must not change the method, got %s", pd.Method)
	}

	rejected := false
	for _, e := range sink.ByAction(audit.ActionRowAdd) {
		if e.Status == audit.StatusRejected {
			rejected = true
		}
	}
	if !rejected {
		t.Error("rejection must be audited")
	}

	// Switching back re-opens row editing.
	must(t, s.SwitchToDetailed("item-2"))
	if _, err := s.AddRow("item-2", model.RowMaterial); err != nil {
		t.Errorf("AddRow after switching back failed: %v", err)
	}
}

func TestSwitchToDetailedClearsDirectFields(t *testing.T) {
	s := newTestStore(nil)
	must(t, s.SwitchToDirect("item-2", 200, 3))
	must(t, s.SwitchToDetailed("item-2"))

	pd, _ := s.Pricing("item-2")
	if pd.Method != model.MethodDetailed {
		t.Errorf("expected detailed method, got %s", pd.Method)
	}
	if !pd.DirectUnitPrice.IsZero() || pd.DerivedPercentages != nil {
		t.Error("direct fields must be cleared")
	}
	if pd.Completed {
		t.Error("switching back must clear completed")
	}
}

func TestCompletedPinnedForDirectItems(t *testing.T) {
	s := newTestStore(nil)
	must(t, s.SwitchToDirect("item-2", 200, 3))
	must(t, s.SetCompleted("item-2", false))

	pd, _ := s.Pricing("item-2")
	if !pd.Completed {
		t.Error("direct items stay completed")
	}
}

func TestItemPercentageOverride(t *testing.T) {
	s := newTestStore(nil)
	row, _ := s.AddRow("item-1", model.RowLabor)
	must(t, s.UpdateRow("item-1", model.RowLabor, row.ID, FieldQuantity, 1.0))
	must(t, s.UpdateRow("item-1", model.RowLabor, row.ID, FieldUnitPrice, 1000.0))

	override := model.PercentageSet{
		Administrative: decimal.NewFromInt(10),
		Operational:    decimal.Zero,
		Profit:         decimal.Zero,
	}
	must(t, s.SetItemPercentages("item-1", &override))

	bd, _ := s.Breakdown("item-1")
	if bd.Total.StringFixed(2) != "1100.00" {
		t.Errorf("override must win over defaults, got %s", bd.Total.StringFixed(2))
	}
}

func TestMutationsPokeCoordinator(t *testing.T) {
	s := newTestStore(nil)
	pokes := 0
	s.SetOnMutate(func() { pokes++ })

	row, _ := s.AddRow("item-1", model.RowMaterial)
	must(t, s.UpdateRow("item-1", model.RowMaterial, row.ID, FieldUnitPrice, 5.0))
	must(t, s.DeleteRow("item-1", model.RowMaterial, row.ID))

	if pokes != 3 {
		t.Errorf("expected 3 coordinator pokes, got %d", pokes)
	}
	if !s.Dirty() {
		t.Error("store must be dirty after mutations")
	}
}

func TestAuditTrailEmitted(t *testing.T) {
	sink := audit.NewMemorySink()
	s := newTestStore(sink)

	row, _ := s.AddRow("item-1", model.RowMaterial)
	must(t, s.UpdateRow("item-1", model.RowMaterial, row.ID, FieldUnitPrice, 5.0))
	_ = s.UpdateRow("item-1", model.RowMaterial, "missing", FieldUnitPrice, 5.0)
	must(t, s.SwitchToDirect("item-2", 200, 3))

	if n := len(sink.ByAction(audit.ActionRowAdd)); n != 1 {
		t.Errorf("expected 1 row-add event, got %d", n)
	}
	if n := len(sink.ByAction(audit.ActionRowUpdate)); n != 2 {
		t.Errorf("expected 2 row-update events (one ok, one rejected), got %d", n)
	}
	if n := len(sink.ByAction(audit.ActionSwitchDirect)); n != 1 {
		t.Errorf("expected 1 switch-direct event, got %d", n)
	}
	for _, e := range sink.Events() {
		if e.Category != audit.CategoryTenderPricing {
			t.Errorf("wrong category: %s", e.Category)
		}
		if e.Key != "tender-1" {
			t.Errorf("wrong key: %s", e.Key)
		}
	}
}

func TestSnapshotDetached(t *testing.T) {
	s := newTestStore(nil)
	row, _ := s.AddRow("item-1", model.RowMaterial)

	snap := s.Snapshot()
	must(t, s.UpdateRow("item-1", model.RowMaterial, row.ID, FieldUnitPrice, 42.0))

	if !snap.Pricing["item-1"].Materials[0].UnitPrice.IsZero() {
		t.Error("snapshot must not alias live state")
	}
	if snap.TenderID != "tender-1" || snap.ProjectID != "project-1" {
		t.Errorf("snapshot identity wrong: %s/%s", snap.TenderID, snap.ProjectID)
	}
}

func TestLoadReplacesState(t *testing.T) {
	s := newTestStore(nil)
	_, _ = s.AddRow("item-1", model.RowMaterial)

	replacement := map[string]*model.PricingData{
		"item-2": model.NewPricingData(),
	}
	s.Load(replacement, testDefaults())

	if _, ok := s.Pricing("item-1"); ok {
		t.Error("load must replace prior state")
	}
	if _, ok := s.Pricing("item-2"); !ok {
		t.Error("loaded state missing")
	}
	if s.Dirty() {
		t.Error("load is not a mutation")
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
