package bridge

import "sync"

// EventArgs is the empty payload carried by lifecycle events.
type EventArgs struct{}

// Handler receives an event with its sender.
type Handler[T any] func(sender T, e EventArgs)

// Subscription identifies a registered handler.
type Subscription uint64

type subscriber[T any] struct {
	handler Handler[T]
	id      Subscription
}

// Event is a multicast event. The zero value is ready to use.
type Event[T any] struct {
	subs []subscriber[T]
	mu   sync.RWMutex
	next Subscription
}

// Subscribe registers h and returns an id for Unsubscribe.
func (e *Event[T]) Subscribe(h Handler[T]) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	e.subs = append(e.subs, subscriber[T]{id: e.next, handler: h})
	return e.next
}

// Unsubscribe removes a handler. Returns false if id is unknown.
func (e *Event[T]) Unsubscribe(id Subscription) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, s := range e.subs {
		if s.id == id {
			e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Emit calls every handler in registration order on the calling goroutine.
func (e *Event[T]) Emit(sender T) {
	e.mu.RLock()
	subs := e.subs
	e.mu.RUnlock()

	for _, s := range subs {
		s.handler(sender, EventArgs{})
	}
}
