package events

import (
	"sync"
)

// Broadcaster fans out logged events to live subscribers (websocket
// tailers, dashboards).
type Broadcaster interface {
	Publish(ev Event)
	// Subscribe returns a receive channel and a cancel function that
	// must be called when the subscriber goes away.
	Subscribe() (<-chan Event, func())
	Close() error
}

// MemoryBroadcaster is the in-process default. Slow subscribers drop
// events rather than stalling the logger.
type MemoryBroadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewMemoryBroadcaster creates an in-process broadcaster.
func NewMemoryBroadcaster() *MemoryBroadcaster {
	return &MemoryBroadcaster{subs: make(map[int]chan Event)}
}

// Publish delivers ev to every subscriber without blocking.
func (b *MemoryBroadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is not keeping up; drop rather than stall.
		}
	}
}

// Subscribe registers a new subscriber.
func (b *MemoryBroadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 64)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Close drops all subscribers.
func (b *MemoryBroadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	return nil
}
