// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"sync"
	"testing"

	"github.com/parsec-cloud/go-parsec/lib/ref"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus()

	var got1, got2 []Event
	sub1 := bus.Subscribe(func(e Event) { got1 = append(got1, e) })
	defer sub1.Close()
	sub2 := bus.Subscribe(func(e Event) { got2 = append(got2, e) })
	defer sub2.Close()

	bus.Publish(EventOffline{})
	bus.Publish(EventWorkspaceBootstrapped{Realm: ref.NewRealmID()})

	if len(got1) != 2 || len(got2) != 2 {
		t.Fatalf("subscriber deliveries = %d, %d; want 2, 2", len(got1), len(got2))
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	bus := NewBus()

	count := 0
	sub := bus.Subscribe(func(Event) { count++ })
	bus.Publish(EventOffline{})
	sub.Close()
	sub.Close() // idempotent
	bus.Publish(EventOffline{})

	if count != 1 {
		t.Errorf("deliveries after Close = %d, want 1", count)
	}
}

func TestOnFiltersByVariant(t *testing.T) {
	bus := NewBus()

	var ballparks int
	sub := On(bus, func(EventTimestampOutOfBallpark) { ballparks++ })
	defer sub.Close()

	bus.Publish(EventOffline{})
	bus.Publish(EventTimestampOutOfBallpark{})
	bus.Publish(EventOffline{})

	if ballparks != 1 {
		t.Errorf("filtered deliveries = %d, want 1", ballparks)
	}
}

func TestPublishWithNoSubscribersIsNoOp(t *testing.T) {
	bus := NewBus()
	bus.Publish(EventOffline{}) // must not panic or block
}

func TestCallbackMaySubscribe(t *testing.T) {
	bus := NewBus()

	var nested *Subscription
	sub := bus.Subscribe(func(Event) {
		if nested == nil {
			nested = bus.Subscribe(func(Event) {})
		}
	})
	defer sub.Close()

	bus.Publish(EventOffline{}) // must not deadlock
	if nested == nil {
		t.Fatal("nested subscribe did not run")
	}
	nested.Close()
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	bus := NewBus()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Publish(EventOffline{})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Subscribe(func(Event) {}).Close()
			}
		}()
	}
	wg.Wait()
}
