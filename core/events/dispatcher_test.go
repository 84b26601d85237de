package events

import (
	"testing"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	d := NewDispatcher()

	var first, second []interface{}
	d.Subscribe(TopicPricingDataUpdated, func(p interface{}) { first = append(first, p) })
	d.Subscribe(TopicPricingDataUpdated, func(p interface{}) { second = append(second, p) })

	d.Publish(TopicPricingDataUpdated, PricingDataUpdated{TenderID: "t-1"})

	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("both subscribers must receive the event, got %d/%d", len(first), len(second))
	}
	if first[0].(PricingDataUpdated).TenderID != "t-1" {
		t.Errorf("wrong payload: %+v", first[0])
	}
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	d := NewDispatcher()
	d.Publish(TopicBOQUpdated, BOQUpdated{TenderID: "t-1"})
}

func TestTopicsAreIsolated(t *testing.T) {
	d := NewDispatcher()

	var got int
	d.Subscribe(TopicBOQUpdated, func(interface{}) { got++ })
	d.Publish(TopicPricingDataUpdated, PricingDataUpdated{})

	if got != 0 {
		t.Errorf("handler received an event from another topic")
	}
}

func TestPanickingHandlerDoesNotStopDelivery(t *testing.T) {
	d := NewDispatcher()

	var delivered bool
	d.Subscribe(TopicBOQUpdated, func(interface{}) { panic("boom") })
	d.Subscribe(TopicBOQUpdated, func(interface{}) { delivered = true })

	d.Publish(TopicBOQUpdated, BOQUpdated{TenderID: "t-1"})

	if !delivered {
		t.Error("a panicking handler must not block later subscribers")
	}
}
