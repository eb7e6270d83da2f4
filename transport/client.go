// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"time"

	"github.com/parsec-cloud/go-parsec/certif"
	"github.com/parsec-cloud/go-parsec/lib/dtime"
	"github.com/parsec-cloud/go-parsec/lib/ref"
)

// ErrOffline is the uniform "server unreachable" error. Safe to retry
// later; never retried automatically below this layer.
var ErrOffline = errors.New("transport: server unreachable")

// Client is the authenticated server API, one method per command.
type Client interface {
	// CertificateGet returns all certificates newer than the given
	// per-topic watermarks, in server stream order per topic.
	CertificateGet(ctx context.Context, since certif.PerTopicLastTimestamps) (CertificateGetReply, error)

	// VlobRead fetches one versioned blob.
	VlobRead(ctx context.Context, request VlobReadRequest) (VlobReadReply, error)

	// VlobCreate uploads version 1 of a new vlob.
	VlobCreate(ctx context.Context, request VlobCreateRequest) (VlobWriteReply, error)

	// VlobUpdate uploads the next version of an existing vlob.
	VlobUpdate(ctx context.Context, request VlobUpdateRequest) (VlobWriteReply, error)

	// RealmCreate registers a realm from its founding self-signed
	// role certificate.
	RealmCreate(ctx context.Context, signedRoleCertificate []byte) (RealmWriteReply, error)

	// RealmRotateKey publishes a key rotation certificate together
	// with the new keys bundle and its per-participant accesses.
	RealmRotateKey(ctx context.Context, request RealmRotateKeyRequest) (RealmWriteReply, error)

	// RealmRename publishes a realm name certificate.
	RealmRename(ctx context.Context, request RealmRenameRequest) (RealmWriteReply, error)

	// RealmGetKeysBundle fetches the encrypted keys bundle for a key
	// index, along with the access blob sealed to the calling user.
	RealmGetKeysBundle(ctx context.Context, realm ref.RealmID, keyIndex uint64) (KeysBundleReply, error)

	// DeviceCreate registers a new device certificate (full and
	// redacted forms).
	DeviceCreate(ctx context.Context, request DeviceCreateRequest) (DeviceCreateReply, error)

	// ShamirRecoverySetup atomically submits a recovery brief with
	// all its share certificates and the ciphered recovery payload.
	ShamirRecoverySetup(ctx context.Context, request ShamirRecoverySetupRequest) (ShamirRecoverySetupReply, error)

	// ShamirRecoveryDelete publishes a recovery deletion certificate.
	ShamirRecoveryDelete(ctx context.Context, signedDeletion []byte) (ShamirRecoveryDeleteReply, error)
}

// RequireGreaterTimestamp is the server's "timestamp slot taken"
// signal: retry the operation with a timestamp strictly greater than
// StrictlyGreaterThan.
type RequireGreaterTimestamp struct {
	StrictlyGreaterThan dtime.Time
}

// TimestampOutOfBallpark is the server's clock-drift rejection. Never
// retried automatically; surfaced to the user.
type TimestampOutOfBallpark struct {
	ServerTimestamp           dtime.Time
	ClientTimestamp           dtime.Time
	BallparkClientEarlyOffset time.Duration
	BallparkClientLateOffset  time.Duration
}

// RequirePollingCertificates is the server's "your certificate view
// is stale" signal: poll up to the given watermarks, then retry.
type RequirePollingCertificates struct {
	LastTimestamps certif.PerTopicLastTimestamps
}

// CertificateGetReply variants.
type CertificateGetReply interface{ isCertificateGetReply() }

// CertificatesOK carries the new certificates, per topic, each in
// stream order.
type CertificatesOK struct {
	Common    [][]byte
	Sequester [][]byte
	Shamir    [][]byte
	Realms    map[ref.RealmID][][]byte
}

func (CertificatesOK) isCertificateGetReply() {}

// VlobReadRequest fetches one vlob, at AtVersion or (when zero) the
// latest.
type VlobReadRequest struct {
	Realm     ref.RealmID
	Vlob      ref.VlobID
	AtVersion uint32
}

// VlobReadReply variants.
type VlobReadReply interface{ isVlobReadReply() }

// VlobReadOK carries the encrypted blob plus the certificate
// watermarks the client must reach before trusting it.
type VlobReadOK struct {
	Blob      []byte
	KeyIndex  uint64
	Author    ref.DeviceID
	Version   uint32
	Timestamp dtime.Time

	// The client must know every certificate up to these timestamps
	// before validating the blob's author and key.
	NeededCommonCertificateTimestamp dtime.Time
	NeededRealmCertificateTimestamp  dtime.Time
}

// VlobReadNotFound: no such vlob (or version).
type VlobReadNotFound struct{}

// VlobReadNotAllowed: the calling user has no role in the realm.
type VlobReadNotAllowed struct{}

func (VlobReadOK) isVlobReadReply() {}
func (VlobReadNotFound) isVlobReadReply() {}
func (VlobReadNotAllowed) isVlobReadReply() {}

// VlobCreateRequest uploads version 1 of a vlob.
type VlobCreateRequest struct {
	Realm     ref.RealmID
	Vlob      ref.VlobID
	KeyIndex  uint64
	Timestamp dtime.Time
	Blob      []byte
}

// VlobUpdateRequest uploads version Version of an existing vlob;
// rejected with VlobWriteBadVersion unless Version is exactly the
// server's current version plus one.
type VlobUpdateRequest struct {
	Realm     ref.RealmID
	Vlob      ref.VlobID
	KeyIndex  uint64
	Version   uint32
	Timestamp dtime.Time
	Blob      []byte
}

// VlobWriteReply variants (shared by create and update).
type VlobWriteReply interface{ isVlobWriteReply() }

// VlobWriteOK: accepted.
type VlobWriteOK struct{}

// VlobWriteBadVersion: the vlob moved concurrently (update) or
// already exists (create). The documented recovery is inbound sync
// then retry.
type VlobWriteBadVersion struct{}

// VlobWriteNotAllowed: the calling user cannot write to the realm.
type VlobWriteNotAllowed struct{}

func (VlobWriteOK) isVlobWriteReply() {}
func (VlobWriteBadVersion) isVlobWriteReply() {}
func (VlobWriteNotAllowed) isVlobWriteReply() {}
func (RequireGreaterTimestamp) isVlobWriteReply() {}
func (TimestampOutOfBallpark) isVlobWriteReply() {}
func (RequirePollingCertificates) isVlobWriteReply() {}

// RealmRotateKeyRequest publishes a key rotation: the signed
// certificate, the new encrypted keys bundle, and one sealed access
// blob per current realm member.
type RealmRotateKeyRequest struct {
	SignedRotation       []byte
	Bundle               []byte
	PerParticipantAccess map[ref.UserID][]byte
}

// RealmRenameRequest publishes a realm name certificate.
// InitialNameOrFail makes the rename conditional on the realm never
// having been named, for bootstrap idempotence.
type RealmRenameRequest struct {
	SignedName        []byte
	InitialNameOrFail bool
}

// RealmWriteReply variants (realm create / rotate key / rename).
type RealmWriteReply interface{ isRealmWriteReply() }

// RealmWriteOK: accepted.
type RealmWriteOK struct{}

// RealmWriteAlreadyExists: the realm already exists (create), or the
// realm already has a name and InitialNameOrFail was set (rename).
type RealmWriteAlreadyExists struct{}

// RealmWriteBadKeyIndex: the rotation's key index does not follow the
// server's current one; poll realm certificates and retry.
type RealmWriteBadKeyIndex struct {
	LastRealmCertificateTimestamp dtime.Time
}

// RealmWriteNotAllowed: insufficient realm role.
type RealmWriteNotAllowed struct{}

func (RealmWriteOK) isRealmWriteReply() {}
func (RealmWriteAlreadyExists) isRealmWriteReply() {}
func (RealmWriteBadKeyIndex) isRealmWriteReply() {}
func (RealmWriteNotAllowed) isRealmWriteReply() {}
func (RequireGreaterTimestamp) isRealmWriteReply() {}
func (TimestampOutOfBallpark) isRealmWriteReply() {}
func (RequirePollingCertificates) isRealmWriteReply() {}

// KeysBundleReply variants.
type KeysBundleReply interface{ isKeysBundleReply() }

// KeysBundleOK carries the encrypted bundle and the access blob
// sealed to the calling user's public key.
type KeysBundleOK struct {
	Bundle       []byte
	BundleAccess []byte
}

// KeysBundleNotAllowed: no realm role, or no access for this user at
// the requested key index.
type KeysBundleNotAllowed struct{}

// KeysBundleBadKeyIndex: the requested key index has not been rotated
// to yet.
type KeysBundleBadKeyIndex struct{}

func (KeysBundleOK) isKeysBundleReply() {}
func (KeysBundleNotAllowed) isKeysBundleReply() {}
func (KeysBundleBadKeyIndex) isKeysBundleReply() {}

// DeviceCreateRequest registers a device: the full certificate plus
// its redacted form served to outsiders.
type DeviceCreateRequest struct {
	SignedDevice         []byte
	RedactedSignedDevice []byte
}

// DeviceCreateReply variants.
type DeviceCreateReply interface{ isDeviceCreateReply() }

// DeviceCreateOK: accepted.
type DeviceCreateOK struct{}

// DeviceCreateAlreadyExists: the device id is taken.
type DeviceCreateAlreadyExists struct{}

func (DeviceCreateOK) isDeviceCreateReply() {}
func (DeviceCreateAlreadyExists) isDeviceCreateReply() {}
func (RequireGreaterTimestamp) isDeviceCreateReply() {}
func (TimestampOutOfBallpark) isDeviceCreateReply() {}

// ShamirRecoverySetupRequest atomically submits a recovery setup: the
// brief, one share certificate per recipient, and the recovery
// device's keyfile ciphered with the shared secret.
type ShamirRecoverySetupRequest struct {
	SignedBrief  []byte
	SignedShares [][]byte
	CipheredData []byte
}

// ShamirRecoverySetupReply variants.
type ShamirRecoverySetupReply interface{ isShamirRecoverySetupReply() }

// ShamirSetupOK: accepted.
type ShamirSetupOK struct{}

// ShamirSetupAlreadyExists: the server knows an active setup the
// client does not; poll the shamir topic and re-validate.
type ShamirSetupAlreadyExists struct {
	LastShamirCertificateTimestamp dtime.Time
}

// ShamirSetupRevokedRecipient: a listed recipient was revoked; poll
// the common topic and re-validate.
type ShamirSetupRevokedRecipient struct {
	LastCommonCertificateTimestamp dtime.Time
}

func (ShamirSetupOK) isShamirRecoverySetupReply() {}
func (ShamirSetupAlreadyExists) isShamirRecoverySetupReply() {}
func (ShamirSetupRevokedRecipient) isShamirRecoverySetupReply() {}
func (RequireGreaterTimestamp) isShamirRecoverySetupReply() {}
func (TimestampOutOfBallpark) isShamirRecoverySetupReply() {}

// ShamirRecoveryDeleteReply variants.
type ShamirRecoveryDeleteReply interface{ isShamirRecoveryDeleteReply() }

// ShamirDeleteOK: accepted.
type ShamirDeleteOK struct{}

// ShamirDeleteNotFound: no setup matches the deletion's reference.
type ShamirDeleteNotFound struct{}

// ShamirDeleteAlreadyDeleted: the setup is already deleted; treat as
// success after polling.
type ShamirDeleteAlreadyDeleted struct{}

func (ShamirDeleteOK) isShamirRecoveryDeleteReply() {}
func (ShamirDeleteNotFound) isShamirRecoveryDeleteReply() {}
func (ShamirDeleteAlreadyDeleted) isShamirRecoveryDeleteReply() {}
func (RequireGreaterTimestamp) isShamirRecoveryDeleteReply() {}
func (TimestampOutOfBallpark) isShamirRecoveryDeleteReply() {}
