// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport defines the client's view of the authenticated
// server API.
//
// Each server command is one Client method. Replies are tagged
// unions: an interface per command with one struct per server
// outcome, which callers switch over exhaustively — an unrecognized
// variant is an internal error, never silently ignored. Conditions
// the server signals across many commands (retry with a greater
// timestamp, clock out of ballpark) are shared structs that satisfy
// every relevant reply interface.
//
// Connection-level failures are not reply variants: every method
// returns ErrOffline (possibly wrapped) when the server is
// unreachable.
package transport
