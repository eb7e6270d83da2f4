// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package certif

import (
	"fmt"

	"github.com/parsec-cloud/go-parsec/lib/ref"
)

// rootAuthorText is the wire representation of the organization root
// author.
const rootAuthorText = "root"

// Author identifies who signed a certificate: either a registered
// device or the organization root key (used only during organization
// bootstrap, before any device exists).
//
// Serializes as a CBOR text string: "root" or the device UUID.
type Author struct {
	device ref.DeviceID
	root   bool
}

// RootAuthor is the organization root signer.
func RootAuthor() Author { return Author{root: true} }

// DeviceAuthor wraps a device as a certificate author.
func DeviceAuthor(device ref.DeviceID) Author { return Author{device: device} }

// IsRoot reports whether the author is the organization root.
func (a Author) IsRoot() bool { return a.root }

// Device returns the signing device, or false for root-signed
// certificates.
func (a Author) Device() (ref.DeviceID, bool) {
	if a.root {
		return ref.DeviceID{}, false
	}
	return a.device, true
}

// String returns "root" or the device UUID.
func (a Author) String() string {
	if a.root {
		return rootAuthorText
	}
	return a.device.String()
}

// MarshalText implements encoding.TextMarshaler.
func (a Author) MarshalText() ([]byte, error) {
	if !a.root && a.device.IsZero() {
		return nil, fmt.Errorf("certif: author is unset")
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Author) UnmarshalText(data []byte) error {
	if string(data) == rootAuthorText {
		*a = Author{root: true}
		return nil
	}
	device, err := ref.ParseDeviceID(string(data))
	if err != nil {
		return fmt.Errorf("certif: author: %w", err)
	}
	*a = Author{device: device}
	return nil
}
