// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package certif

import (
	"github.com/parsec-cloud/go-parsec/lib/ref"
	"github.com/parsec-cloud/go-parsec/lib/sign"
)

// Profile is a user's organization-wide permission level.
type Profile string

const (
	// ProfileAdmin can manage users and devices.
	ProfileAdmin Profile = "ADMIN"
	// ProfileStandard can create realms and share them.
	ProfileStandard Profile = "STANDARD"
	// ProfileOutsider can only access realms shared with them, and
	// sees other users' handles redacted.
	ProfileOutsider Profile = "OUTSIDER"
)

// Valid reports whether the profile is one of the known values.
func (p Profile) Valid() bool {
	switch p {
	case ProfileAdmin, ProfileStandard, ProfileOutsider:
		return true
	}
	return false
}

// HumanHandle is a user's human-facing identity. Absent from redacted
// certificates served to outsiders.
type HumanHandle struct {
	Email string `cbor:"email"`
	Label string `cbor:"label"`
}

// UserCertificate declares that a user exists. The first certificate
// of an organization is a root-signed user certificate; later users
// are signed by an admin's device.
type UserCertificate struct {
	CertificateBase
	UserID ref.UserID `cbor:"user_id"`
	// HumanHandle is nil in the redacted form.
	HumanHandle *HumanHandle `cbor:"human_handle,omitempty"`
	// PublicKey is the user's asymmetric encryption public key
	// (age1... form), used to seal keys-bundle accesses and recovery
	// shares to this user.
	PublicKey string  `cbor:"public_key"`
	Profile   Profile `cbor:"profile"`
}

func (*UserCertificate) kindTag() string { return kindUser }

// Topic implements Certificate.
func (*UserCertificate) Topic() Topic { return CommonTopic() }

// IsRedacted reports whether this is the redacted form.
func (c *UserCertificate) IsRedacted() bool { return c.HumanHandle == nil }

// DeviceCertificate declares that a device exists and registers its
// signature verify key. Signed by another device of the same user, an
// admin's device, or root (for the organization's first device).
type DeviceCertificate struct {
	CertificateBase
	UserID   ref.UserID   `cbor:"user_id"`
	DeviceID ref.DeviceID `cbor:"device_id"`
	// DeviceLabel is nil in the redacted form.
	DeviceLabel *string        `cbor:"device_label,omitempty"`
	VerifyKey   sign.VerifyKey `cbor:"verify_key"`
}

func (*DeviceCertificate) kindTag() string { return kindDevice }

// Topic implements Certificate.
func (*DeviceCertificate) Topic() Topic { return CommonTopic() }

// IsRedacted reports whether this is the redacted form.
func (c *DeviceCertificate) IsRedacted() bool { return c.DeviceLabel == nil }

// UserUpdateCertificate changes a user's profile. Signed by an
// admin's device.
type UserUpdateCertificate struct {
	CertificateBase
	UserID     ref.UserID `cbor:"user_id"`
	NewProfile Profile    `cbor:"new_profile"`
}

func (*UserUpdateCertificate) kindTag() string { return kindUserUpdate }

// Topic implements Certificate.
func (*UserUpdateCertificate) Topic() Topic { return CommonTopic() }

// RevokedUserCertificate revokes a user and, transitively, all their
// devices. Certificates authored by any of the user's devices with a
// timestamp posterior to this one must be rejected.
type RevokedUserCertificate struct {
	CertificateBase
	UserID ref.UserID `cbor:"user_id"`
}

func (*RevokedUserCertificate) kindTag() string { return kindRevokedUser }

// Topic implements Certificate.
func (*RevokedUserCertificate) Topic() Topic { return CommonTopic() }
