package queue

import (
	"sync"

	"github.com/ramiqadoumi/go-audit-jobs/internal/domain"
)

// Listener receives lifecycle events. It is called synchronously from the
// worker and must not block.
type Listener func(domain.Event)

// EventBus fans lifecycle events out to subscribers.
type EventBus struct {
	mu        sync.RWMutex
	next      int
	listeners map[int]Listener
}

func NewEventBus() *EventBus {
	return &EventBus{listeners: make(map[int]Listener)}
}

// Subscribe registers l and returns a function that removes it.
func (b *EventBus) Subscribe(l Listener) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.listeners[id] = l
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

// Channel subscribes a buffered channel. Events are dropped when it is full.
func (b *EventBus) Channel(size int) (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, size)
	unsubscribe := b.Subscribe(func(e domain.Event) {
		select {
		case ch <- e:
		default:
		}
	})
	return ch, unsubscribe
}

// Publish delivers e to every current subscriber.
func (b *EventBus) Publish(e domain.Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, l := range b.listeners {
		l(e)
	}
}
