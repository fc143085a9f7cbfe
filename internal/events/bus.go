package events

import (
	"sync"
	"time"
)

// Bus fans events out to subscribers. Publishing never blocks: a
// subscriber whose channel is full loses the event, which keeps slow
// dashboard consumers from stalling the dispatch thread.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*subscription
}

type subscription struct {
	ch    chan *Event
	types map[EventType]bool // nil means all types
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscription)}
}

// Subscribe registers a subscriber for the given event types (all types
// when none are named) and returns the delivery channel plus an
// unsubscribe function. The buffer bounds how far the subscriber may lag.
func (b *Bus) Subscribe(buffer int, types ...EventType) (<-chan *Event, func()) {
	if buffer <= 0 {
		buffer = 100
	}
	sub := &subscription{ch: make(chan *Event, buffer)}
	if len(types) > 0 {
		sub.types = make(map[EventType]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
		b.mu.Unlock()
	}
	return sub.ch, unsubscribe
}

// Publish delivers an event to every matching subscriber without blocking.
func (b *Bus) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.types != nil && !sub.types[event.Type] {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Subscriber is lagging, drop.
		}
	}
}
