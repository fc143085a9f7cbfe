package strategy

import (
	"sync"

	"github.com/alimogh/trdk/internal/position"
)

// List is the ordered collection of a strategy's active positions. The
// strategy holds each position here from creation until it completes, at
// which point the dispatcher retires it. Reads may come from the dashboard
// goroutines, so access is synchronized.
type List struct {
	mu    sync.RWMutex
	items []*position.Position
}

// NewList creates an empty position list.
func NewList() *List {
	return &List{}
}

// Add appends a position in creation order.
func (l *List) Add(p *position.Position) {
	l.mu.Lock()
	l.items = append(l.items, p)
	l.mu.Unlock()
}

// Count returns the number of active positions.
func (l *List) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Slice returns a copy of the active positions in creation order.
func (l *List) Slice() []*position.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*position.Position, len(l.items))
	copy(out, l.items)
	return out
}

// Find returns the active position with the given id, nil when absent.
func (l *List) Find(id string) *position.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, p := range l.items {
		if p.ID() == id {
			return p
		}
	}
	return nil
}

// RetireCompleted removes and returns every completed position. A
// position never silently disappears while it still has active quantity.
func (l *List) RetireCompleted() []*position.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	var retired []*position.Position
	active := l.items[:0]
	for _, p := range l.items {
		if p.IsCompleted() {
			retired = append(retired, p)
		} else {
			active = append(active, p)
		}
	}
	l.items = active
	return retired
}
