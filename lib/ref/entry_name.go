// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxEntryNameBytes caps entry names at 255 bytes, the common limit
// across the filesystems a workspace can be mounted on.
const maxEntryNameBytes = 255

// EntryName is a validated filesystem entry name: non-empty valid
// UTF-8, at most 255 bytes, no "/" or NUL, and not the "." or ".."
// special names.
type EntryName struct {
	name string
}

// ParseEntryName validates raw and returns it as an EntryName.
func ParseEntryName(raw string) (EntryName, error) {
	switch {
	case raw == "":
		return EntryName{}, fmt.Errorf("entry name is empty")
	case raw == "." || raw == "..":
		return EntryName{}, fmt.Errorf("entry name %q is reserved", raw)
	case len(raw) > maxEntryNameBytes:
		return EntryName{}, fmt.Errorf("entry name exceeds %d bytes", maxEntryNameBytes)
	case !utf8.ValidString(raw):
		return EntryName{}, fmt.Errorf("entry name is not valid UTF-8")
	case strings.ContainsAny(raw, "/\x00"):
		return EntryName{}, fmt.Errorf("entry name %q contains a forbidden character", raw)
	}
	return EntryName{name: raw}, nil
}

// String returns the raw name.
func (n EntryName) String() string { return n.name }

// IsZero reports whether the name is the zero value.
func (n EntryName) IsZero() bool { return n.name == "" }

// SplitExtension splits the name into stem and extension parts, where
// the extension starts at the first dot after the first character
// ("archive.tar.gz" splits into "archive" and ".tar.gz"). Hidden files
// like ".profile" have no extension. Used when deriving conflict names
// so that "foo.txt" becomes "foo (suffix).txt" rather than
// "foo.txt (suffix)".
func (n EntryName) SplitExtension() (stem, extension string) {
	dot := strings.Index(n.name[1:], ".")
	if dot < 0 {
		return n.name, ""
	}
	dot++
	return n.name[:dot], n.name[dot:]
}

// MarshalText implements encoding.TextMarshaler.
func (n EntryName) MarshalText() ([]byte, error) { return []byte(n.name), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *EntryName) UnmarshalText(data []byte) error {
	parsed, err := ParseEntryName(string(data))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}
