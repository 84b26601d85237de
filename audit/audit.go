// Package audit records structured events for every pricing mutation
// and persistence outcome. Sinks are fire-and-forget: recording never
// returns an error and never blocks the mutation that produced the event.
package audit

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"tender-cost/internal/logging"
)

// CategoryTenderPricing tags every event emitted by the pricing engine
const CategoryTenderPricing = "tender-pricing"

// Level is the severity of an audit event
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Actions emitted by the engine
const (
	ActionRowAdd         = "row-add"
	ActionRowUpdate      = "row-update"
	ActionRowDelete      = "row-delete"
	ActionSwitchDirect   = "switch-direct"
	ActionSwitchDetailed = "switch-detailed"
	ActionPersist        = "persist"
	ActionPersistNoop    = "persist-noop"
	ActionPersistRetry   = "persist-retry"
	ActionWarmup         = "warmup"
)

// Statuses attached to events
const (
	StatusOK       = "ok"
	StatusSkipped  = "skipped"
	StatusRejected = "rejected"
	StatusFailed   = "failed"
)

// Event is one audit trail entry
type Event struct {
	Category  string                 `json:"category"`
	Action    string                 `json:"action"`
	Key       string                 `json:"key"`
	Level     Level                  `json:"level"`
	Status    string                 `json:"status"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Sink receives audit events. Implementations must not fail the caller;
// an unavailable sink degrades to dropped events, never to a blocked
// mutation.
type Sink interface {
	Record(event Event)
}

// ZapSink writes audit events through the structured logger
type ZapSink struct {
	log *zap.Logger
}

// NewZapSink creates a sink backed by the given logger; nil uses the
// global logger.
func NewZapSink(log *zap.Logger) *ZapSink {
	if log == nil {
		log = logging.Logger
	}
	return &ZapSink{log: log}
}

func (s *ZapSink) Record(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	fields := []zap.Field{
		zap.String("category", event.Category),
		zap.String("action", event.Action),
		zap.String("key", event.Key),
		zap.String("status", event.Status),
		zap.Any("metadata", event.Metadata),
	}
	switch event.Level {
	case LevelError:
		s.log.Error("audit", fields...)
	case LevelWarning:
		s.log.Warn("audit", fields...)
	default:
		s.log.Info("audit", fields...)
	}
}

// NopSink discards all events
type NopSink struct{}

func (NopSink) Record(Event) {}

// MemorySink captures events in memory. Tests and the CLI's --audit
// flag use it to inspect the trail after the fact. Safe for use from
// the persistence goroutine.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink creates an empty capture sink
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Record(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

// Events returns the captured events in emission order
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// ByAction filters captured events by action
func (s *MemorySink) ByAction(action string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// Reset clears the captured events
func (s *MemorySink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}
