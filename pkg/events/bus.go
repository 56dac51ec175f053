// Package events is the in-process broadcast channel between the engine and
// the UI collaborator. Publishing never blocks: a subscriber that cannot
// keep up loses events instead of slowing the engine down.
package events

import (
	"log/slog"
	"sync"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 256

// Event is any of the payload structs in this package.
type Event interface {
	EventName() string
}

// Bus broadcasts events to named subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	closed      bool
	logger      *slog.Logger
}

func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string]chan Event),
		logger:      slog.Default(),
	}
}

// Subscribe registers a named subscriber and returns its channel. An
// existing subscriber with the same name is replaced and its channel closed.
func (b *Bus) Subscribe(name string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.subscribers[name]; ok {
		close(old)
	}
	ch := make(chan Event, DefaultBuffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers[name] = ch
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[name]; ok {
		close(ch)
		delete(b.subscribers, name)
	}
}

// Publish delivers the event to every subscriber whose buffer has room.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for name, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropping event for slow subscriber", "subscriber", name, "event", event.EventName())
		}
	}
}

// Close closes every subscriber channel; further publishes are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for name, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, name)
	}
}
