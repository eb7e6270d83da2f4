// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"

	"github.com/parsec-cloud/go-parsec/certif"
	"github.com/parsec-cloud/go-parsec/lib/ref"
	"github.com/parsec-cloud/go-parsec/lib/sealed"
	"github.com/parsec-cloud/go-parsec/lib/secretbox"
	"github.com/parsec-cloud/go-parsec/lib/sign"
)

// LocalDevice is the full identity of this device within one
// organization.
type LocalDevice struct {
	UserID   ref.UserID
	DeviceID ref.DeviceID

	// SigningKey signs certificates and manifests authored here.
	SigningKey sign.SigningKey

	// RootVerifyKey anchors trustchain validation for the
	// organization.
	RootVerifyKey sign.VerifyKey

	// LocalKey encrypts this device's local storage (manifest
	// database). Never leaves the device.
	LocalKey secretbox.Key

	// AgeKeys is the user's asymmetric keypair: the public half is
	// published in the user certificate, the private half opens
	// keys-bundle accesses and recovery shares sealed to the user.
	AgeKeys sealed.Keypair

	Profile certif.Profile
}

// Generate creates a fresh device identity for a user. The root verify
// key comes from the organization bootstrap material.
func Generate(user ref.UserID, rootVerifyKey sign.VerifyKey, profile certif.Profile) (*LocalDevice, error) {
	signingKey, err := sign.GenerateSigningKey()
	if err != nil {
		return nil, fmt.Errorf("device: %w", err)
	}
	localKey, err := secretbox.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("device: %w", err)
	}
	ageKeys, err := sealed.GenerateKeypair()
	if err != nil {
		return nil, fmt.Errorf("device: %w", err)
	}
	return &LocalDevice{
		UserID:        user,
		DeviceID:      ref.NewDeviceID(),
		SigningKey:    signingKey,
		RootVerifyKey: rootVerifyKey,
		LocalKey:      localKey,
		AgeKeys:       ageKeys,
		Profile:       profile,
	}, nil
}

// VerifyKey returns the public half of the signing key, as published
// in this device's certificate.
func (d *LocalDevice) VerifyKey() sign.VerifyKey { return d.SigningKey.VerifyKey() }

// Author returns this device as a certificate author.
func (d *LocalDevice) Author() certif.Author { return certif.DeviceAuthor(d.DeviceID) }
