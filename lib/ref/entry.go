// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// EntryID identifies one filesystem entry (file or folder) within a
// workspace. Each entry maps to one vlob on the server; the workspace
// root entry's ID equals the realm's ID.
type EntryID struct{ id }

// NewEntryID generates a fresh random EntryID.
func NewEntryID() EntryID { return EntryID{id: newID()} }

// ParseEntryID parses the canonical hyphenated hex form.
func ParseEntryID(raw string) (EntryID, error) {
	parsed, err := parseID(raw)
	if err != nil {
		return EntryID{}, fmt.Errorf("entry ID: %w", err)
	}
	return EntryID{id: parsed}, nil
}

// EntryIDFromBytes parses the 16-byte canonical form.
func EntryIDFromBytes(raw []byte) (EntryID, error) {
	parsed, err := idFromBytes(raw)
	if err != nil {
		return EntryID{}, fmt.Errorf("entry ID: %w", err)
	}
	return EntryID{id: parsed}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (e *EntryID) UnmarshalBinary(data []byte) error {
	parsed, err := EntryIDFromBytes(data)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// VlobID identifies a versioned encrypted blob on the server. Every
// entry's manifest lives in the vlob with the same UUID, so EntryID
// and VlobID convert freely; the distinct type marks which side of the
// client/server boundary a value belongs to.
type VlobID struct{ id }

// VlobIDFromEntry converts an entry ID into the vlob holding its
// manifest.
func VlobIDFromEntry(entry EntryID) VlobID { return VlobID{id: entry.id} }

// VlobIDFromRealm converts a realm ID into the vlob holding the
// workspace root manifest.
func VlobIDFromRealm(realm RealmID) VlobID { return VlobID{id: realm.id} }

// EntryID converts back to the entry whose manifest this vlob holds.
func (v VlobID) EntryID() EntryID { return EntryID{id: v.id} }

// VlobIDFromBytes parses the 16-byte canonical form.
func VlobIDFromBytes(raw []byte) (VlobID, error) {
	parsed, err := idFromBytes(raw)
	if err != nil {
		return VlobID{}, fmt.Errorf("vlob ID: %w", err)
	}
	return VlobID{id: parsed}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (v *VlobID) UnmarshalBinary(data []byte) error {
	parsed, err := VlobIDFromBytes(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
