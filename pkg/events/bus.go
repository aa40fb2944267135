package events

import (
	"fmt"
	"log/slog"
	"sync"
)

const busLogPrefix = "events:bus"

// Listener receives bus events.
type Listener interface {
	Handle(event string, payload Payload)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(event string, payload Payload)

// Handle calls the function.
func (f ListenerFunc) Handle(event string, payload Payload) {
	f(event, payload)
}

type subscription struct {
	id       uint64
	listener Listener
}

// Bus is an ordered listener registry. Publish invokes every listener
// synchronously in subscription order. Each invocation is isolated: a listener
// that panics is logged, does not prevent the remaining listeners from running,
// and stays subscribed for future events.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscription
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a listener and returns a function that removes it.
// Listeners persist until removed, across dispatcher re-initializations.
func (b *Bus) Subscribe(l Listener) (cancel func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, listener: l})
	b.mu.Unlock()

	return func() { b.unsubscribe(id) }
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish invokes every registered listener in subscription order. The
// listener list is snapshotted first, so a Subscribe during Publish does not
// corrupt iteration.
func (b *Bus) Publish(event string, payload Payload) {
	b.mu.Lock()
	snapshot := make([]subscription, len(b.subs))
	copy(snapshot, b.subs)
	b.mu.Unlock()

	for _, sub := range snapshot {
		notify(sub.listener, event, payload)
	}
}

func notify(l Listener, event string, payload Payload) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error(fmt.Sprintf("%s - listener panicked on %s: %v", busLogPrefix, event, rec))
		}
	}()
	l.Handle(event, payload)
}
