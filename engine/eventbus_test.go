package engine

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestFailingSubscriberDoesNotAffectOthers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	var delivered atomic.Int32
	bus.Subscribe(func(Event) error { return errors.New("boom") })
	bus.Subscribe(func(Event) error { panic("handler bug") })
	bus.Subscribe(func(Event) error {
		delivered.Add(1)
		return nil
	})

	bus.Emit(Event{Type: EventMoverStatus})
	bus.Emit(Event{Type: EventMoverStatus})
	waitUntil(t, time.Second, func() bool { return delivered.Load() == 2 })
}

func TestSlowSubscriberDoesNotBlockEmit(t *testing.T) {
	bus := NewEventBus()
	release := make(chan struct{})
	bus.Subscribe(func(Event) error {
		<-release
		return nil
	})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Emit(Event{Type: EventMoverStatus})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a slow subscriber")
	}
	close(release)
	bus.Close()
}

func TestPerSubscriberOrder(t *testing.T) {
	bus := NewEventBus()
	var mu sync.Mutex
	var got []int
	bus.Subscribe(func(evt Event) error {
		mu.Lock()
		got = append(got, evt.Payload.(int))
		mu.Unlock()
		return nil
	})
	for i := 0; i < 50; i++ {
		bus.Emit(Event{Type: EventStageChanged, Payload: i})
	}
	bus.Close()

	if len(got) != 50 {
		t.Fatalf("delivered %d events, want 50", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("event %d delivered out of order: %v", i, got)
		}
	}
}

func TestSubscribeTypesFilters(t *testing.T) {
	bus := NewEventBus()
	var mu sync.Mutex
	var types []EventType
	bus.SubscribeTypes(func(evt Event) error {
		mu.Lock()
		types = append(types, evt.Type)
		mu.Unlock()
		return nil
	}, EventTaskStarted, EventTaskCompleted)

	bus.Emit(Event{Type: EventMoverStatus})
	bus.Emit(Event{Type: EventTaskStarted})
	bus.Emit(Event{Type: EventStageChanged})
	bus.Emit(Event{Type: EventTaskCompleted})
	bus.Close()

	if len(types) != 2 || types[0] != EventTaskStarted || types[1] != EventTaskCompleted {
		t.Errorf("types = %v", types)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	var n atomic.Int32
	id := bus.Subscribe(func(Event) error {
		n.Add(1)
		return nil
	})
	bus.Emit(Event{Type: EventMoverStatus})
	waitUntil(t, time.Second, func() bool { return n.Load() == 1 })

	bus.Unsubscribe(id)
	bus.Emit(Event{Type: EventMoverStatus})
	time.Sleep(30 * time.Millisecond)
	if n.Load() != 1 {
		t.Errorf("delivered %d events after unsubscribe, want 1", n.Load())
	}
}

func TestEmitStampsTimestamp(t *testing.T) {
	bus := NewEventBus()
	var ts time.Time
	bus.Subscribe(func(evt Event) error {
		ts = evt.Timestamp
		return nil
	})
	bus.Emit(Event{Type: EventMoverStatus})
	bus.Close()
	if ts.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestEventTypeString(t *testing.T) {
	if EventControllerItemReached.String() != "controller-item-reached" {
		t.Errorf("got %q", EventControllerItemReached.String())
	}
	if EventType(999).String() != "unknown" {
		t.Errorf("got %q", EventType(999).String())
	}
}
