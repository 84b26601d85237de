// Package persist - coordinator tests: debounce coalescing, no-op
// suppression, retry on failure, and event publication.
package persist

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tender-cost/adapters/storage"
	"tender-cost/audit"
	"tender-cost/core/calc"
	"tender-cost/core/events"
	"tender-cost/core/model"
	"tender-cost/core/state"
	"tender-cost/internal/errors"
)

// countingStore wraps the memory store and counts (optionally fails)
// pricing writes.
type countingStore struct {
	storage.Store

	mu        sync.Mutex
	saves     int
	failSaves int
}

func newCountingStore() *countingStore {
	return &countingStore{Store: storage.NewMemoryStore()}
}

func (c *countingStore) SaveTenderPricing(ctx context.Context, record *storage.PricingRecord) error {
	c.mu.Lock()
	c.saves++
	fail := c.failSaves > 0
	if fail {
		c.failSaves--
	}
	c.mu.Unlock()

	if fail {
		return errors.Persistence("injected failure", nil)
	}
	return c.Store.SaveTenderPricing(ctx, record)
}

func (c *countingStore) saveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saves
}

func testOptions() Options {
	return Options{
		Window:       30 * time.Millisecond,
		WriteTimeout: time.Second,
		MaxRetries:   0,
		RetryBackoff: time.Millisecond,
	}
}

func snapWithPrice(price int64) state.Snapshot {
	pd := model.NewPricingData()
	row := model.CostRow{
		ID:        "r1",
		Kind:      model.RowLabor,
		Quantity:  decimal.NewFromInt(1),
		UnitPrice: decimal.NewFromInt(price),
	}
	calc.RecalculateRow(&row)
	pd.Labor = append(pd.Labor, row)

	return state.Snapshot{
		TenderID: "tender-1",
		Items:    []model.QuantityItem{{ID: "item-1", Quantity: decimal.NewFromInt(1)}},
		Pricing:  map[string]*model.PricingData{"item-1": pd},
		Defaults: model.ZeroPercentages(),
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDebounceCoalescesRapidEdits(t *testing.T) {
	store := newCountingStore()
	c := New(store, nil, nil, testOptions())
	defer c.Stop()

	c.Mutated(snapWithPrice(100))
	time.Sleep(10 * time.Millisecond)
	c.Mutated(snapWithPrice(200))

	waitFor(t, time.Second, func() bool { return store.saveCount() == 1 })
	time.Sleep(60 * time.Millisecond)
	if got := store.saveCount(); got != 1 {
		t.Fatalf("expected exactly 1 write, got %d", got)
	}

	// The persisted state must reflect the second edit.
	rec, err := store.GetTenderPricing(context.Background(), "tender-1")
	if err != nil {
		t.Fatalf("GetTenderPricing failed: %v", err)
	}
	got := rec.Pricing["item-1"].Labor[0].UnitPrice
	if got.StringFixed(0) != "200" {
		t.Errorf("persisted state must be the latest, got price %s", got)
	}
}

func TestNoopWriteSuppressed(t *testing.T) {
	store := newCountingStore()
	sink := audit.NewMemorySink()
	c := New(store, nil, sink, testOptions())
	defer c.Stop()

	c.Mutated(snapWithPrice(100))
	if err := c.Flush(); err != nil {
		t.Fatalf("first flush failed: %v", err)
	}

	// Structurally identical snapshot: the write must be skipped.
	c.Mutated(snapWithPrice(100))
	if err := c.Flush(); err != nil {
		t.Fatalf("second flush failed: %v", err)
	}

	if got := store.saveCount(); got != 1 {
		t.Errorf("expected 1 write, got %d", got)
	}
	if n := len(sink.ByAction(audit.ActionPersistNoop)); n != 1 {
		t.Errorf("expected 1 persist-noop audit event, got %d", n)
	}
	if n := len(sink.ByAction(audit.ActionPersist)); n != 1 {
		t.Errorf("expected 1 persist audit event, got %d", n)
	}
}

func TestRealChangeAfterNoopStillWrites(t *testing.T) {
	store := newCountingStore()
	c := New(store, nil, nil, testOptions())
	defer c.Stop()

	c.Mutated(snapWithPrice(100))
	_ = c.Flush()
	c.Mutated(snapWithPrice(100))
	_ = c.Flush()
	c.Mutated(snapWithPrice(300))
	_ = c.Flush()

	if got := store.saveCount(); got != 2 {
		t.Errorf("expected 2 writes (second edit is real), got %d", got)
	}
}

func TestFailedWriteRetriesThenGivesUp(t *testing.T) {
	store := newCountingStore()
	store.failSaves = 10 // more failures than attempts
	sink := audit.NewMemorySink()

	opts := testOptions()
	opts.MaxRetries = 2
	c := New(store, nil, sink, opts)
	defer c.Stop()

	c.Mutated(snapWithPrice(100))
	if err := c.Flush(); err == nil {
		t.Fatal("flush must surface the persistence failure")
	}

	if got := store.saveCount(); got != 3 {
		t.Errorf("expected 3 attempts (1 + 2 retries), got %d", got)
	}
	if n := len(sink.ByAction(audit.ActionPersistRetry)); n != 2 {
		t.Errorf("expected 2 retry audit events, got %d", n)
	}

	failed := false
	for _, e := range sink.ByAction(audit.ActionPersist) {
		if e.Status == audit.StatusFailed && e.Level == audit.LevelError {
			failed = true
		}
	}
	if !failed {
		t.Error("final failure must be audited at error level")
	}
}

func TestNextCycleRecoversAfterFailure(t *testing.T) {
	store := newCountingStore()
	store.failSaves = 1
	c := New(store, nil, nil, testOptions())
	defer c.Stop()

	c.Mutated(snapWithPrice(100))
	if err := c.Flush(); err == nil {
		t.Fatal("first flush must fail")
	}

	// The next mutation's cycle is the only retry path.
	c.Mutated(snapWithPrice(100))
	if err := c.Flush(); err != nil {
		t.Fatalf("recovery flush failed: %v", err)
	}

	if _, err := store.GetTenderPricing(context.Background(), "tender-1"); err != nil {
		t.Errorf("state must be persisted after recovery: %v", err)
	}
}

func TestTransientFailureRecoveredByRetry(t *testing.T) {
	store := newCountingStore()
	store.failSaves = 1
	opts := testOptions()
	opts.MaxRetries = 2
	c := New(store, nil, nil, opts)
	defer c.Stop()

	c.Mutated(snapWithPrice(100))
	if err := c.Flush(); err != nil {
		t.Fatalf("retry should have absorbed the transient failure: %v", err)
	}
	if got := store.saveCount(); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
}

func TestEventsPublishedOnPersist(t *testing.T) {
	store := newCountingStore()
	dispatcher := events.NewDispatcher()

	var mu sync.Mutex
	var pricingEvents []events.PricingDataUpdated
	var boqEvents []events.BOQUpdated
	dispatcher.Subscribe(events.TopicPricingDataUpdated, func(payload interface{}) {
		mu.Lock()
		defer mu.Unlock()
		pricingEvents = append(pricingEvents, payload.(events.PricingDataUpdated))
	})
	dispatcher.Subscribe(events.TopicBOQUpdated, func(payload interface{}) {
		mu.Lock()
		defer mu.Unlock()
		boqEvents = append(boqEvents, payload.(events.BOQUpdated))
	})

	opts := testOptions()
	opts.Source = "test"
	c := New(store, dispatcher, nil, opts)
	defer c.Stop()

	c.Mutated(snapWithPrice(100))
	if err := c.Flush(); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(pricingEvents) != 1 || len(boqEvents) != 1 {
		t.Fatalf("expected 1 event per topic, got %d/%d", len(pricingEvents), len(boqEvents))
	}
	if pricingEvents[0].TenderID != "tender-1" || pricingEvents[0].Source != "test" {
		t.Errorf("bad pricing event: %+v", pricingEvents[0])
	}
	if len(pricingEvents[0].Items) != 1 || pricingEvents[0].Items[0].ID != "item-1" {
		t.Errorf("pricing event must carry the quantity table, got %+v", pricingEvents[0].Items)
	}
	if boqEvents[0].TotalValue.StringFixed(2) != "100.00" {
		t.Errorf("bad BOQ event total: %s", boqEvents[0].TotalValue)
	}
	if boqEvents[0].ItemsCount != 1 {
		t.Errorf("bad BOQ event items count: %d", boqEvents[0].ItemsCount)
	}
}

func TestStopCancelsPendingWrite(t *testing.T) {
	store := newCountingStore()
	c := New(store, nil, nil, testOptions())

	c.Mutated(snapWithPrice(100))
	c.Stop()

	time.Sleep(60 * time.Millisecond)
	if got := store.saveCount(); got != 0 {
		t.Errorf("stop must cancel the pending write, got %d", got)
	}
}
