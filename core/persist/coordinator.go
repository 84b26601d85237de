// Package persist implements the debounced persistence coordinator.
// Rapid successive mutations of one tender coalesce into a single
// trailing-edge write; structurally identical snapshots are suppressed
// entirely. Writes are fire-and-forget: a mutation is never blocked on
// repository I/O, and a failed write leaves in-memory state untouched.
package persist

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"tender-cost/adapters/storage"
	"tender-cost/audit"
	"tender-cost/core/boq"
	"tender-cost/core/determinism"
	"tender-cost/core/events"
	"tender-cost/core/state"
	"tender-cost/internal/errors"
	"tender-cost/internal/logging"
)

// Options tune the coordinator
type Options struct {
	// Window is the trailing-edge debounce delay after the last edit
	Window time.Duration

	// WriteTimeout bounds each repository write attempt
	WriteTimeout time.Duration

	// MaxRetries is how many times a failed write is retried before
	// giving up until the next debounce cycle
	MaxRetries int

	// RetryBackoff is the base delay between retries (grows linearly)
	RetryBackoff time.Duration

	// Source tags the published domain events
	Source string
}

// DefaultOptions returns the production defaults
func DefaultOptions() Options {
	return Options{
		Window:       2 * time.Second,
		WriteTimeout: 5 * time.Second,
		MaxRetries:   2,
		RetryBackoff: 250 * time.Millisecond,
		Source:       "pricing-engine",
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Window <= 0 {
		o.Window = d.Window
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = d.MaxRetries
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = d.RetryBackoff
	}
	if o.Source == "" {
		o.Source = d.Source
	}
	return o
}

// Coordinator batches state-store mutations for one tender into
// debounced snapshot writes
type Coordinator struct {
	opts       Options
	store      storage.Store
	dispatcher *events.Dispatcher
	sink       audit.Sink

	mu          sync.Mutex
	timer       *time.Timer
	pending     *state.Snapshot
	gen         uint64
	stopped     bool
	onPersisted func()

	// writeMu serializes persist runs (timer goroutine vs Flush)
	writeMu  sync.Mutex
	lastHash determinism.ContentHash

	inflight sync.WaitGroup
}

// New creates a coordinator. The dispatcher and sink may be nil.
func New(store storage.Store, dispatcher *events.Dispatcher, sink audit.Sink, opts Options) *Coordinator {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Coordinator{
		opts:       opts.withDefaults(),
		store:      store,
		dispatcher: dispatcher,
		sink:       sink,
	}
}

// SetOnPersisted registers a callback invoked after every successful
// persistence cycle (written or suppressed as a no-op) for which no
// newer mutation is pending. The host wires the state store's dirty
// flag through it. Set before the first mutation.
func (c *Coordinator) SetOnPersisted(fn func()) {
	c.mu.Lock()
	c.onPersisted = fn
	c.mu.Unlock()
}

// Mutated records the post-mutation snapshot and (re)schedules the
// trailing-edge timer. The snapshot is captured synchronously on the
// mutating goroutine, so the write at expiry always reflects the most
// recent state (last-write-wins coalescing).
func (c *Coordinator) Mutated(snap state.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}

	c.pending = &snap
	if c.timer != nil && c.timer.Stop() {
		// cancelled a scheduled fire that will never run
		c.inflight.Done()
	}
	c.gen++
	gen := c.gen
	c.inflight.Add(1)
	c.timer = time.AfterFunc(c.opts.Window, func() { c.fire(gen) })
}

func (c *Coordinator) fire(gen uint64) {
	defer c.inflight.Done()

	c.mu.Lock()
	if gen != c.gen {
		// superseded by a newer mutation; its own timer owns the write
		c.mu.Unlock()
		return
	}
	snap := c.pending
	c.pending = nil
	c.timer = nil
	c.mu.Unlock()

	if snap == nil {
		return
	}
	_ = c.persist(*snap)
}

// Flush cancels the pending timer and persists any outstanding snapshot
// synchronously. Used at shutdown and by tests.
func (c *Coordinator) Flush() error {
	c.mu.Lock()
	snap := c.pending
	c.pending = nil
	c.gen++
	if c.timer != nil {
		if c.timer.Stop() {
			c.inflight.Done()
		}
		c.timer = nil
	}
	c.mu.Unlock()

	if snap == nil {
		return nil
	}
	return c.persist(*snap)
}

// Stop cancels any pending write and waits for an in-flight one
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.pending = nil
	c.gen++
	if c.timer != nil {
		if c.timer.Stop() {
			c.inflight.Done()
		}
		c.timer = nil
	}
	c.mu.Unlock()

	c.inflight.Wait()
}

func (c *Coordinator) persist(snap state.Snapshot) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	hash, hashOK := c.hashSnapshot(snap)
	if hashOK && !c.lastHash.IsZero() && hash == c.lastHash {
		c.emit(audit.ActionPersistNoop, audit.LevelInfo, audit.StatusSkipped, snap.TenderID, map[string]interface{}{
			"hash": hash.String(),
		})
		logging.Debug("skipping no-op persistence",
			zap.String("tender_id", snap.TenderID),
			zap.String("hash", hash.String()))
		c.notifyPersisted()
		return nil
	}

	items, totals := boq.Build(snap)

	pricingRecord := &storage.PricingRecord{
		TenderID:           snap.TenderID,
		Pricing:            snap.Pricing,
		DefaultPercentages: snap.Defaults,
		LastUpdated:        time.Now().UTC(),
	}
	boqRecord := &storage.BOQRecord{
		TenderID:    snap.TenderID,
		ProjectID:   snap.ProjectID,
		Items:       items,
		TotalValue:  totals.TotalValue,
		Totals:      totals,
		LastUpdated: time.Now().UTC(),
	}

	if err := c.writeWithRetry(snap.TenderID, pricingRecord, boqRecord); err != nil {
		c.emit(audit.ActionPersist, audit.LevelError, audit.StatusFailed, snap.TenderID, map[string]interface{}{
			"error": err.Error(),
		})
		logging.Error("persistence failed",
			zap.String("tender_id", snap.TenderID),
			zap.Error(err))
		return err
	}

	if hashOK {
		c.lastHash = hash
	}
	c.emit(audit.ActionPersist, audit.LevelInfo, audit.StatusOK, snap.TenderID, map[string]interface{}{
		"items_count": len(items),
		"total_value": totals.TotalValue.String(),
	})

	if c.dispatcher != nil {
		c.dispatcher.Publish(events.TopicPricingDataUpdated, events.PricingDataUpdated{
			TenderID:  snap.TenderID,
			Items:     snap.Items,
			Timestamp: time.Now().UTC(),
			Source:    c.opts.Source,
		})
		c.dispatcher.Publish(events.TopicBOQUpdated, events.BOQUpdated{
			TenderID:   snap.TenderID,
			TotalValue: totals.TotalValue,
			ItemsCount: len(items),
		})
	}
	c.notifyPersisted()
	return nil
}

// notifyPersisted fires the persisted callback unless a newer mutation
// arrived while the write was in flight; that mutation's own cycle will
// report instead.
func (c *Coordinator) notifyPersisted() {
	c.mu.Lock()
	fn := c.onPersisted
	if c.pending != nil {
		fn = nil
	}
	c.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// hashSnapshot computes the structural hash used for no-op detection.
// A serialization failure is treated conservatively as "not equal" so a
// real change is never silently dropped.
func (c *Coordinator) hashSnapshot(snap state.Snapshot) (determinism.ContentHash, bool) {
	data, err := json.Marshal(snap)
	if err != nil {
		cerr := errors.Comparison("failed to hash snapshot", err)
		c.emit(audit.ActionPersist, audit.LevelWarning, audit.StatusFailed, snap.TenderID, map[string]interface{}{
			"stage": "snapshot-hash",
			"error": cerr.Error(),
		})
		logging.Warn("snapshot hash failed, forcing write",
			zap.String("tender_id", snap.TenderID),
			zap.Error(cerr))
		return determinism.ContentHash{}, false
	}
	return determinism.ComputeHash(data), true
}

func (c *Coordinator) writeWithRetry(tenderID string, pricing *storage.PricingRecord, boqRec *storage.BOQRecord) error {
	attempts := c.opts.MaxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = c.writeOnce(pricing, boqRec)
		if lastErr == nil {
			return nil
		}
		if attempt < attempts {
			c.emit(audit.ActionPersistRetry, audit.LevelWarning, audit.StatusFailed, tenderID, map[string]interface{}{
				"attempt": attempt,
				"error":   lastErr.Error(),
			})
			time.Sleep(c.opts.RetryBackoff * time.Duration(attempt))
		}
	}
	return lastErr
}

func (c *Coordinator) writeOnce(pricing *storage.PricingRecord, boqRec *storage.BOQRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.WriteTimeout)
	defer cancel()

	if err := c.store.SaveTenderPricing(ctx, pricing); err != nil {
		return err
	}
	return c.store.CreateOrUpdateBOQ(ctx, boqRec)
}

func (c *Coordinator) emit(action string, level audit.Level, status, tenderID string, metadata map[string]interface{}) {
	c.sink.Record(audit.Event{
		Category:  audit.CategoryTenderPricing,
		Action:    action,
		Key:       tenderID,
		Level:     level,
		Status:    status,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
	})
}
