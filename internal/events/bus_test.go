package events

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	bus := New()
	ch := bus.Subscribe(4)
	defer bus.Unsubscribe(ch)

	bus.Publish(Event{
		Timestamp: time.Now(),
		Source:    SourceAgent,
		Kind:      KindRequestStart,
		Data:      map[string]any{"request_id": "r1"},
	})

	select {
	case e := <-ch:
		if e.Source != SourceAgent || e.Kind != KindRequestStart {
			t.Errorf("got %s/%s, want agent/request_start", e.Source, e.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	bus := New()
	ch := bus.Subscribe(1)
	defer bus.Unsubscribe(ch)

	done := make(chan struct{})
	go func() {
		// Second publish would block on an unbuffered send; it must drop instead.
		bus.Publish(Event{Source: SourceScheduler, Kind: KindTaskFired})
		bus.Publish(Event{Source: SourceScheduler, Kind: KindTaskFired})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on full subscriber")
	}
}

func TestNilBusIsNoOp(t *testing.T) {
	var bus *Bus
	bus.Publish(Event{Source: SourceAgent, Kind: KindLLMCall})
	if got := bus.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount on nil bus = %d, want 0", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New()
	ch := bus.Subscribe(1)
	bus.Unsubscribe(ch)

	if _, open := <-ch; open {
		t.Error("channel still open after Unsubscribe")
	}
	if got := bus.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount = %d, want 0", got)
	}

	// Double unsubscribe is a no-op.
	bus.Unsubscribe(ch)
}
