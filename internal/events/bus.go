// Package events fans notifications out from the engine to observers such as
// the websocket hub.
package events

import (
	"sync"
	"sync/atomic"

	"NoiseMonitorAPI/internal/models"
)

const evictAttempts = 3

// Publisher is the narrow view components need to emit events.
type Publisher interface {
	Publish(event models.Event)
}

// Bus delivers each published event to every current subscriber. Slow
// subscribers lose events instead of blocking the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]chan models.Event
	nextID      int
	buffer      int
	dropped     atomic.Uint64
	closed      bool
}

func NewBus(buffer int) *Bus {
	if buffer < 1 {
		buffer = 64
	}
	return &Bus{
		subscribers: make(map[int]chan models.Event),
		buffer:      buffer,
	}
}

// Subscribe returns a receive channel and a function that unsubscribes and
// closes it.
func (b *Bus) Subscribe() (<-chan models.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan models.Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(sub)
			}
		})
	}
}

// Publish never blocks. A full subscriber loses the event, except for
// areas_changed, which evicts the oldest queued event instead.
func (b *Bus) Publish(event models.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
			continue
		default:
		}

		if event.Type == models.EventAreasChanged {
			b.deliverSnapshot(ch, event)
			continue
		}
		b.dropped.Add(1)
	}
}

func (b *Bus) deliverSnapshot(ch chan models.Event, event models.Event) {
	for attempt := 0; attempt < evictAttempts; attempt++ {
		select {
		case <-ch:
			b.dropped.Add(1)
		default:
		}
		select {
		case ch <- event:
			return
		default:
		}
	}
	b.dropped.Add(1)
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel; later subscriptions receive a closed channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}

// Discard is a Publisher that drops everything.
type Discard struct{}

func (Discard) Publish(models.Event) {}
