// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

type samplePayload struct {
	Type      string `cbor:"type"`
	Timestamp int64  `cbor:"timestamp"`
	Extras    map[string]int
}

func TestMarshalIsDeterministic(t *testing.T) {
	// Maps are the usual source of non-determinism; encode one with
	// enough keys that Go's randomized iteration order would show up
	// without deterministic encoding.
	payload := samplePayload{
		Type:      "sample",
		Timestamp: 1767225600000000,
		Extras:    map[string]int{"a": 1, "b": 2, "c": 3, "d": 4, "e": 5, "f": 6, "g": 7, "h": 8},
	}

	first, err := Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for i := 0; i < 32; i++ {
		again, err := Marshal(payload)
		if err != nil {
			t.Fatalf("Marshal (repeat %d): %v", i, err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("encoding is not deterministic: %x vs %x", first, again)
		}
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	full, err := Marshal(map[string]any{
		"type":       "sample",
		"timestamp":  int64(42),
		"from_later": "a field this version does not know",
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded samplePayload
	if err := Unmarshal(full, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Type != "sample" || decoded.Timestamp != 42 {
		t.Errorf("decoded = %+v, want type=sample timestamp=42", decoded)
	}
}

func TestRoundTrip(t *testing.T) {
	original := samplePayload{Type: "x", Timestamp: 7}
	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded samplePayload
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Type != original.Type || decoded.Timestamp != original.Timestamp {
		t.Errorf("round-trip = %+v, want %+v", decoded, original)
	}
}
