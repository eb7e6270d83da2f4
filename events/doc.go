// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

// Package events provides the process-wide event bus.
//
// Components publish facts ("certificates updated", "clock out of
// ballpark", "sync finished") without knowing who listens; the host
// application subscribes to drive UI warnings and monitoring. The bus
// is fire-and-forget: publishing never blocks and never fails, and a
// publisher never learns whether anyone listened.
//
// Event is a closed sum type — one struct per event kind, all defined
// in this package. Subscribers either receive every event and switch
// on the concrete type, or use the generic On helper to receive a
// single kind:
//
//	sub := events.On(bus, func(e events.EventTimestampOutOfBallpark) {
//	    warnUser(e.ClientTimestamp, e.ServerTimestamp)
//	})
//	defer sub.Close()
//
// Subscriptions are removed by Close on the returned handle (opaque
// token registry, no reliance on callback pointer identity).
package events
