package events

import (
	"errors"
	"testing"
	"time"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestSubscribeReceivesOnlyItsType(t *testing.T) {
	bus := NewEventBus()
	closed := make(chan Event, 4)
	bus.Subscribe(EventPositionClosed, func(e Event) { closed <- e })

	bus.PublishStopTrailed("BTCUSDT", 98, 99)
	bus.PublishPositionClosed("BTCUSDT", "long", "stop", 2, 100, 99, 1.5, 2.8)

	e := receive(t, closed)
	if e.Type != EventPositionClosed {
		t.Fatalf("Expected %s, got %s", EventPositionClosed, e.Type)
	}
	if e.Data["exit_reason"] != "stop" || e.Data["levels"] != 2 {
		t.Errorf("unexpected data %v", e.Data)
	}
	if e.Timestamp.IsZero() {
		t.Error("Expected timestamp to be set")
	}
	select {
	case extra := <-closed:
		t.Errorf("unexpected extra event %s", extra.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := NewEventBus()
	all := make(chan Event, 4)
	bus.SubscribeAll(func(e Event) { all <- e })

	bus.PublishExecutionFailed("ETHUSDT", "open", errors.New("rejected"))
	bus.PublishCircuitBreaker("open", "consecutive losses")

	seen := map[EventType]bool{}
	for i := 0; i < 2; i++ {
		e := receive(t, all)
		seen[e.Type] = true
		if e.Type == EventExecutionFailed && e.Data["error"] != "rejected" {
			t.Errorf("Expected error text, got %v", e.Data["error"])
		}
	}
	if !seen[EventExecutionFailed] || !seen[EventCircuitBreaker] {
		t.Errorf("missing events: %v", seen)
	}
}

func TestPublishKeepsTimestamp(t *testing.T) {
	bus := NewEventBus()
	ch := make(chan Event, 1)
	bus.Subscribe(EventEngineStarted, func(e Event) { ch <- e })

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bus.Publish(Event{Type: EventEngineStarted, Timestamp: at})
	if e := receive(t, ch); !e.Timestamp.Equal(at) {
		t.Errorf("Expected %v, got %v", at, e.Timestamp)
	}
}
