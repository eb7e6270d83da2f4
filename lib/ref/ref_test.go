// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"strings"
	"testing"
)

func TestUserIDRoundTrip(t *testing.T) {
	original := NewUserID()

	parsed, err := ParseUserID(original.String())
	if err != nil {
		t.Fatalf("ParseUserID: %v", err)
	}
	if parsed != original {
		t.Errorf("parsed = %v, want %v", parsed, original)
	}

	fromBytes, err := UserIDFromBytes(original.Bytes())
	if err != nil {
		t.Fatalf("UserIDFromBytes: %v", err)
	}
	if fromBytes != original {
		t.Errorf("fromBytes = %v, want %v", fromBytes, original)
	}
}

func TestParseUserIDRejectsGarbage(t *testing.T) {
	if _, err := ParseUserID("not-a-uuid"); err == nil {
		t.Error("expected error for malformed user ID")
	}
	if _, err := UserIDFromBytes([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for short byte slice")
	}
}

func TestVlobEntryConversion(t *testing.T) {
	entry := NewEntryID()
	vlob := VlobIDFromEntry(entry)
	if vlob.EntryID() != entry {
		t.Errorf("round-trip through VlobID lost identity")
	}

	realm := NewRealmID()
	rootVlob := VlobIDFromRealm(realm)
	if rootVlob.String() != realm.String() {
		t.Errorf("root vlob %v should share the realm UUID %v", rootVlob, realm)
	}
}

func TestParseEntryName(t *testing.T) {
	valid := []string{"report.pdf", ".profile", "archive.tar.gz", "résumé", "a"}
	for _, raw := range valid {
		if _, err := ParseEntryName(raw); err != nil {
			t.Errorf("ParseEntryName(%q): unexpected error %v", raw, err)
		}
	}

	invalid := []string{"", ".", "..", "a/b", "nul\x00byte", strings.Repeat("x", 256), "bad\xffutf8"}
	for _, raw := range invalid {
		if _, err := ParseEntryName(raw); err == nil {
			t.Errorf("ParseEntryName(%q): expected error", raw)
		}
	}
}

func TestSplitExtension(t *testing.T) {
	tests := []struct {
		name      string
		stem, ext string
	}{
		{"report.pdf", "report", ".pdf"},
		{"archive.tar.gz", "archive", ".tar.gz"},
		{"noext", "noext", ""},
		{".profile", ".profile", ""},
		{".config.yml", ".config", ".yml"},
	}
	for _, test := range tests {
		name, err := ParseEntryName(test.name)
		if err != nil {
			t.Fatalf("ParseEntryName(%q): %v", test.name, err)
		}
		stem, ext := name.SplitExtension()
		if stem != test.stem || ext != test.ext {
			t.Errorf("SplitExtension(%q) = (%q, %q), want (%q, %q)",
				test.name, stem, ext, test.stem, test.ext)
		}
	}
}
