// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// UserID identifies a user within the organization. Every device
// belongs to exactly one user; certificates reference users by this
// identifier, never by human handle (handles can collide and change,
// the UserID is forever).
type UserID struct{ id }

// NewUserID generates a fresh random UserID.
func NewUserID() UserID { return UserID{id: newID()} }

// ParseUserID parses the canonical hyphenated hex form.
func ParseUserID(raw string) (UserID, error) {
	parsed, err := parseID(raw)
	if err != nil {
		return UserID{}, fmt.Errorf("user ID: %w", err)
	}
	return UserID{id: parsed}, nil
}

// UserIDFromBytes parses the 16-byte canonical form.
func UserIDFromBytes(raw []byte) (UserID, error) {
	parsed, err := idFromBytes(raw)
	if err != nil {
		return UserID{}, fmt.Errorf("user ID: %w", err)
	}
	return UserID{id: parsed}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (u *UserID) UnmarshalBinary(data []byte) error {
	parsed, err := UserIDFromBytes(data)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
