// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"time"

	"github.com/parsec-cloud/go-parsec/lib/dtime"
	"github.com/parsec-cloud/go-parsec/lib/ref"
)

// Event is the closed sum of everything the client can announce on the
// bus. Each variant is a plain struct carrying its payload fields
// directly.
type Event interface {
	isEvent()
}

// EventCertificatesUpdated announces that new certificates were
// validated and appended to the local ledger. Carries the new
// per-topic watermarks so subscribers can tell what moved.
type EventCertificatesUpdated struct {
	// Common is the timestamp of the newest common-topic certificate.
	Common dtime.Time
	// Sequester is the timestamp of the newest sequester-topic
	// certificate (zero when the organization has no sequester).
	Sequester dtime.Time
	// Shamir is the timestamp of the newest shamir-topic certificate.
	Shamir dtime.Time
	// Realms maps each realm to its newest certificate timestamp.
	Realms map[ref.RealmID]dtime.Time
}

// EventInvalidCertificate announces that the server provided a
// certificate that failed trust validation. This is never discarded
// silently: it may indicate server malice or a serious bug.
type EventInvalidCertificate struct {
	// Error is the validation failure, a *trustchain.InvalidCertificateError.
	Error error
}

// EventTimestampOutOfBallpark announces that the server rejected an
// operation because this client's clock is too far from the server's.
// The host application should warn the user to fix their clock; the
// triggering operation has already failed and is not retried.
type EventTimestampOutOfBallpark struct {
	ServerTimestamp dtime.Time
	ClientTimestamp dtime.Time
	// BallparkClientEarlyOffset is how far ahead of the server the
	// client clock may run.
	BallparkClientEarlyOffset time.Duration
	// BallparkClientLateOffset is how far behind the server the
	// client clock may run.
	BallparkClientLateOffset time.Duration
}

// EventOffline announces that a server round-trip failed with a
// connection error. Purely informational; operations surface their
// own offline errors to callers.
type EventOffline struct{}

// EventEntryInboundSyncDone announces that an entry finished an
// inbound sync that changed its local manifest.
type EventEntryInboundSyncDone struct {
	Realm ref.RealmID
	Entry ref.EntryID
}

// EventEntryOutboundSyncDone announces that an entry's local changes
// were accepted by the server.
type EventEntryOutboundSyncDone struct {
	Realm   ref.RealmID
	Entry   ref.EntryID
	Version uint32
}

// EventEntryConflictResolved announces that concurrent edits to a
// file were resolved by materializing the local version as a new
// conflict-named sibling entry.
type EventEntryConflictResolved struct {
	Realm    ref.RealmID
	Entry    ref.EntryID
	CopiedAs ref.EntryID
}

// EventWorkspaceBootstrapped announces that a workspace's realm
// finished its creation protocol (realm created, initial key rotation
// done, initial name set).
type EventWorkspaceBootstrapped struct {
	Realm ref.RealmID
}

func (EventCertificatesUpdated) isEvent()    {}
func (EventInvalidCertificate) isEvent()     {}
func (EventTimestampOutOfBallpark) isEvent() {}
func (EventOffline) isEvent()                {}
func (EventEntryInboundSyncDone) isEvent()   {}
func (EventEntryOutboundSyncDone) isEvent()  {}
func (EventEntryConflictResolved) isEvent()  {}
func (EventWorkspaceBootstrapped) isEvent()  {}
