// Package events provides the process-wide domain event dispatcher.
// The host constructs one dispatcher and hands it to the components
// that publish; nothing self-registers against a global.
package events

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tender-cost/core/model"
	"tender-cost/internal/logging"

	"go.uber.org/zap"
)

// Topics published by the pricing engine
const (
	TopicPricingDataUpdated = "pricingDataUpdated"
	TopicBOQUpdated         = "boqUpdated"
)

// PricingDataUpdated is published after a pricing snapshot is
// persisted. Items is the quantity table of the persisted snapshot.
type PricingDataUpdated struct {
	TenderID  string               `json:"tender_id"`
	Items     []model.QuantityItem `json:"items"`
	Timestamp time.Time            `json:"timestamp"`
	Source    string               `json:"source"`
}

// BOQUpdated is published after the BOQ rollup is persisted
type BOQUpdated struct {
	TenderID   string          `json:"tender_id"`
	TotalValue decimal.Decimal `json:"total_value"`
	ItemsCount int             `json:"items_count"`
}

// Handler receives a published payload
type Handler func(payload interface{})

// Dispatcher is a synchronous fire-and-forget pub/sub. A panicking
// handler is recovered and logged; it never propagates to the publisher.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string][]Handler),
	}
}

// Subscribe registers a handler for a topic
func (d *Dispatcher) Subscribe(topic string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[topic] = append(d.handlers[topic], handler)
}

// Publish delivers a payload to every subscriber of the topic
func (d *Dispatcher) Publish(topic string, payload interface{}) {
	d.mu.RLock()
	handlers := append([]Handler(nil), d.handlers[topic]...)
	d.mu.RUnlock()

	for _, h := range handlers {
		d.deliver(topic, h, payload)
	}
}

func (d *Dispatcher) deliver(topic string, h Handler, payload interface{}) {
	defer func() {
		if r := recover(); r != nil {
			logging.Warn("event handler panicked",
				zap.String("topic", topic),
				zap.Any("panic", r))
		}
	}()
	h(payload)
}
