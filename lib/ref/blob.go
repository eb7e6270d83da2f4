// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// BlobID identifies a file's content blob in the server's block store.
type BlobID struct{ id }

// NewBlobID generates a fresh random BlobID.
func NewBlobID() BlobID { return BlobID{id: newID()} }

// ParseBlobID parses the canonical hyphenated hex form.
func ParseBlobID(raw string) (BlobID, error) {
	parsed, err := parseID(raw)
	if err != nil {
		return BlobID{}, fmt.Errorf("blob ID: %w", err)
	}
	return BlobID{id: parsed}, nil
}

// BlobIDFromBytes parses the 16-byte canonical form.
func BlobIDFromBytes(raw []byte) (BlobID, error) {
	parsed, err := idFromBytes(raw)
	if err != nil {
		return BlobID{}, fmt.Errorf("blob ID: %w", err)
	}
	return BlobID{id: parsed}, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (b *BlobID) UnmarshalBinary(data []byte) error {
	parsed, err := BlobIDFromBytes(data)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}
