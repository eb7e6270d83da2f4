// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction.
//
// Certificate timestamps, merge decisions, and retry protocols all
// depend on the current time, and all of them must be testable
// deterministically. Production code injects Real(); tests inject
// Fake() and advance it explicitly.
//
// Every function that would otherwise call time.Now, time.After,
// time.NewTicker, or time.Sleep accepts a Clock parameter or lives on
// a struct with a Clock field.
//
// # FakeClock synchronization
//
// When a goroutine calls Sleep, After, or NewTicker on a FakeClock, it
// registers a pending waiter. Tests use WaitForTimers to block until a
// given number of waiters are registered before calling Advance,
// removing the race between waiter registration and time advancement.
package clock
