// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// DeviceID identifies a single device of a user. Certificates are
// authored (signed) by devices; trust decisions resolve a DeviceID to
// its registered verify key through the certificate ledger.
type DeviceID struct{ id }

// NewDeviceID generates a fresh random DeviceID.
func NewDeviceID() DeviceID { return DeviceID{id: newID()} }

// ParseDeviceID parses the canonical hyphenated hex form.
func ParseDeviceID(raw string) (DeviceID, error) {
	parsed, err := parseID(raw)
	if err != nil {
		return DeviceID{}, fmt.Errorf("device ID: %w", err)
	}
	return DeviceID{id: parsed}, nil
}

// DeviceIDFromBytes parses the 16-byte canonical form.
func DeviceIDFromBytes(raw []byte) (DeviceID, error) {
	parsed, err := idFromBytes(raw)
	if err != nil {
		return DeviceID{}, fmt.Errorf("device ID: %w", err)
	}
	return DeviceID{id: parsed}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (d *DeviceID) UnmarshalBinary(data []byte) error {
	parsed, err := DeviceIDFromBytes(data)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
