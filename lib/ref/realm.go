// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// RealmID identifies a realm: a server-side access-controlled
// container of versioned encrypted blobs. The realm backing a user
// workspace shares its ID with the workspace's root entry.
type RealmID struct{ id }

// NewRealmID generates a fresh random RealmID.
func NewRealmID() RealmID { return RealmID{id: newID()} }

// ParseRealmID parses the canonical hyphenated hex form.
func ParseRealmID(raw string) (RealmID, error) {
	parsed, err := parseID(raw)
	if err != nil {
		return RealmID{}, fmt.Errorf("realm ID: %w", err)
	}
	return RealmID{id: parsed}, nil
}

// RealmIDFromBytes parses the 16-byte canonical form.
func RealmIDFromBytes(raw []byte) (RealmID, error) {
	parsed, err := idFromBytes(raw)
	if err != nil {
		return RealmID{}, fmt.Errorf("realm ID: %w", err)
	}
	return RealmID{id: parsed}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *RealmID) UnmarshalBinary(data []byte) error {
	parsed, err := RealmIDFromBytes(data)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
