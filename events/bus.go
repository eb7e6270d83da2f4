// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package events

import "sync"

// Bus is a process-wide publish/subscribe registry. The zero value is
// not usable; call NewBus.
//
// Bus is safe for concurrent use. Callbacks run synchronously on the
// publishing goroutine, outside the bus lock, so a callback may itself
// publish or subscribe; callbacks must not block for long, since they
// delay the publisher.
type Bus struct {
	mu          sync.RWMutex
	nextToken   uint64
	subscribers map[uint64]func(Event)
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[uint64]func(Event))}
}

// Subscription is the handle returned by Subscribe. Close removes the
// callback from the bus; it is idempotent and safe to call
// concurrently with Publish (an in-flight fan-out that already copied
// the callback list may still invoke it one last time).
type Subscription struct {
	bus   *Bus
	token uint64
	once  sync.Once
}

// Close unsubscribes the callback.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		delete(s.bus.subscribers, s.token)
	})
}

// Subscribe registers callback for every published event. The caller
// owns the returned Subscription and must Close it when done.
func (b *Bus) Subscribe(callback func(Event)) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextToken++
	token := b.nextToken
	b.subscribers[token] = callback
	return &Subscription{bus: b, token: token}
}

// Publish delivers event to every current subscriber. Never blocks on
// bus state and never fails; with no subscribers it is a no-op.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	callbacks := make([]func(Event), 0, len(b.subscribers))
	for _, callback := range b.subscribers {
		callbacks = append(callbacks, callback)
	}
	b.mu.RUnlock()

	for _, callback := range callbacks {
		callback(event)
	}
}

// On subscribes to a single event kind. Events of other kinds are
// filtered out before callback runs.
func On[T Event](b *Bus, callback func(T)) *Subscription {
	return b.Subscribe(func(event Event) {
		if typed, ok := event.(T); ok {
			callback(typed)
		}
	})
}
