// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"

	"github.com/google/uuid"
)

// id is the shared core of all UUID-backed identifiers. It provides
// the accessor and marshaling machinery; the exported wrapper types
// exist purely for compile-time separation.
type id struct {
	value uuid.UUID
}

func newID() id { return id{value: uuid.New()} }

func parseID(raw string) (id, error) {
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return id{}, fmt.Errorf("invalid identifier %q: %w", raw, err)
	}
	return id{value: parsed}, nil
}

func idFromBytes(raw []byte) (id, error) {
	parsed, err := uuid.FromBytes(raw)
	if err != nil {
		return id{}, fmt.Errorf("invalid identifier bytes: %w", err)
	}
	return id{value: parsed}, nil
}

// String returns the canonical hyphenated hex form.
func (i id) String() string { return i.value.String() }

// Bytes returns the 16-byte canonical form.
func (i id) Bytes() []byte {
	raw := i.value
	return raw[:]
}

// IsZero reports whether the identifier is the zero value (never
// produced by New or Parse).
func (i id) IsZero() bool { return i.value == uuid.Nil }

// MarshalBinary implements encoding.BinaryMarshaler. CBOR encoding
// picks this up and serializes the identifier as a 16-byte string.
func (i id) MarshalBinary() ([]byte, error) { return i.Bytes(), nil }
