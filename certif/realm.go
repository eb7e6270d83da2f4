// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package certif

import (
	"github.com/parsec-cloud/go-parsec/lib/dtime"
	"github.com/parsec-cloud/go-parsec/lib/ref"
)

// RealmRole is a user's permission level within one realm.
type RealmRole string

const (
	// RealmRoleOwner can do everything, including granting Owner.
	RealmRoleOwner RealmRole = "OWNER"
	// RealmRoleManager can share the realm (up to Contributor).
	RealmRoleManager RealmRole = "MANAGER"
	// RealmRoleContributor can read and write content.
	RealmRoleContributor RealmRole = "CONTRIBUTOR"
	// RealmRoleReader can only read content.
	RealmRoleReader RealmRole = "READER"
)

// Valid reports whether the role is one of the known values.
func (r RealmRole) Valid() bool {
	switch r {
	case RealmRoleOwner, RealmRoleManager, RealmRoleContributor, RealmRoleReader:
		return true
	}
	return false
}

// CanAdministrate reports whether the role may grant or revoke roles.
func (r RealmRole) CanAdministrate() bool {
	return r == RealmRoleOwner || r == RealmRoleManager
}

// CanWrite reports whether the role may modify realm content.
func (r RealmRole) CanWrite() bool {
	return r == RealmRoleOwner || r == RealmRoleManager || r == RealmRoleContributor
}

// RealmRoleCertificate grants, changes, or (with a nil Role) revokes
// a user's role in a realm. The first role certificate of a realm is
// self-signed by the creating user's device and establishes them as
// Owner.
type RealmRoleCertificate struct {
	CertificateBase
	RealmID ref.RealmID `cbor:"realm_id"`
	UserID  ref.UserID  `cbor:"user_id"`
	// Role is nil when the user's access is removed.
	Role *RealmRole `cbor:"role,omitempty"`
}

func (*RealmRoleCertificate) kindTag() string { return kindRealmRole }

// Topic implements Certificate.
func (c *RealmRoleCertificate) Topic() Topic { return RealmTopic(c.RealmID) }

// RealmNameCertificate sets the realm's human-readable name,
// encrypted with the realm key at KeyIndex (the server must not learn
// workspace names).
type RealmNameCertificate struct {
	CertificateBase
	RealmID       ref.RealmID `cbor:"realm_id"`
	KeyIndex      uint64      `cbor:"key_index"`
	EncryptedName []byte      `cbor:"encrypted_name"`
}

func (*RealmNameCertificate) kindTag() string { return kindRealmName }

// Topic implements Certificate.
func (c *RealmNameCertificate) Topic() Topic { return RealmTopic(c.RealmID) }

// RealmKeyRotationCertificate introduces a new realm key. KeyIndex
// starts at 1 and increments by 1 with each rotation. KeyCanary is
// the new key's encryption of an empty plaintext: peers verify it
// once they obtain the keys bundle, proving the rotating author
// actually knew the key it published.
type RealmKeyRotationCertificate struct {
	CertificateBase
	RealmID   ref.RealmID `cbor:"realm_id"`
	KeyIndex  uint64      `cbor:"key_index"`
	KeyCanary []byte      `cbor:"key_canary"`
}

func (*RealmKeyRotationCertificate) kindTag() string { return kindRealmKeyRotation }

// Topic implements Certificate.
func (c *RealmKeyRotationCertificate) Topic() Topic { return RealmTopic(c.RealmID) }

// RealmArchivingConfiguration is the archiving state set by a
// RealmArchivingCertificate.
type RealmArchivingConfiguration string

const (
	// RealmAvailable is the normal read-write state.
	RealmAvailable RealmArchivingConfiguration = "AVAILABLE"
	// RealmArchived is read-only.
	RealmArchived RealmArchivingConfiguration = "ARCHIVED"
	// RealmDeletionPlanned is read-only with a deletion deadline.
	RealmDeletionPlanned RealmArchivingConfiguration = "DELETION_PLANNED"
)

// RealmArchivingCertificate changes a realm's archiving state. Owner
// only.
type RealmArchivingCertificate struct {
	CertificateBase
	RealmID       ref.RealmID                 `cbor:"realm_id"`
	Configuration RealmArchivingConfiguration `cbor:"configuration"`
	// DeletionDate is set only for RealmDeletionPlanned.
	DeletionDate dtime.Time `cbor:"deletion_date,omitempty"`
}

func (*RealmArchivingCertificate) kindTag() string { return kindRealmArchiving }

// Topic implements Certificate.
func (c *RealmArchivingCertificate) Topic() Topic { return RealmTopic(c.RealmID) }
