package engine

import (
	"log"
	"runtime/debug"
	"sync"
	"time"
)

// SubscriberID uniquely identifies an EventBus subscriber.
type SubscriberID uint64

// SubscriberFunc is a callback invoked when an event is delivered. A returned
// error is logged and otherwise ignored.
type SubscriberFunc func(Event) error

// subscriber owns an unbounded mailbox drained by one goroutine, so a slow
// handler only delays its own events.
type subscriber struct {
	id     SubscriberID
	fn     SubscriberFunc
	filter map[EventType]struct{}

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool
	done   chan struct{}
}

func newSubscriber(id SubscriberID, fn SubscriberFunc, filter map[EventType]struct{}) *subscriber {
	s := &subscriber{id: id, fn: fn, filter: filter, done: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	go s.run()
	return s
}

func (s *subscriber) wants(t EventType) bool {
	if s.filter == nil {
		return true
	}
	_, ok := s.filter[t]
	return ok
}

func (s *subscriber) push(evt Event) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, evt)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

// close stops the worker once the mailbox is drained.
func (s *subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *subscriber) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		evt := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.deliver(evt)
	}
}

func (s *subscriber) deliver(evt Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("eventbus: subscriber %d panicked on %s: %v\n%s", s.id, evt.Type, r, debug.Stack())
		}
	}()
	if err := s.fn(evt); err != nil {
		log.Printf("eventbus: subscriber %d failed on %s: %v", s.id, evt.Type, err)
	}
}

// EventBus provides asynchronous, typed event dispatch. Emit never blocks on
// a handler; each subscriber sees events in emit order.
type EventBus struct {
	mu          sync.RWMutex
	subscribers []*subscriber
	nextID      SubscriberID
	closed      bool
}

// NewEventBus creates a new EventBus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers a callback for all event types.
func (eb *EventBus) Subscribe(fn SubscriberFunc) SubscriberID {
	return eb.add(fn, nil)
}

// SubscribeTypes registers a callback only for the given event types.
func (eb *EventBus) SubscribeTypes(fn SubscriberFunc, types ...EventType) SubscriberID {
	filter := make(map[EventType]struct{}, len(types))
	for _, t := range types {
		filter[t] = struct{}{}
	}
	return eb.add(fn, filter)
}

func (eb *EventBus) add(fn SubscriberFunc, filter map[EventType]struct{}) SubscriberID {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eb.nextID
	if eb.closed {
		return id
	}
	eb.subscribers = append(eb.subscribers, newSubscriber(id, fn, filter))
	return id
}

// Unsubscribe removes a subscriber by ID. Events already queued for it are
// still delivered.
func (eb *EventBus) Unsubscribe(id SubscriberID) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for i, s := range eb.subscribers {
		if s.id == id {
			eb.subscribers = append(eb.subscribers[:i], eb.subscribers[i+1:]...)
			s.close()
			return
		}
	}
}

// Emit queues an event for every matching subscriber and returns immediately.
func (eb *EventBus) Emit(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	for _, s := range eb.subscribers {
		if s.wants(evt.Type) {
			s.push(evt)
		}
	}
}

// Close stops accepting subscribers, drains every mailbox and waits for the
// workers to exit.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	subs := eb.subscribers
	eb.subscribers = nil
	eb.closed = true
	eb.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
	for _, s := range subs {
		<-s.done
	}
}
