// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"fmt"
	"path"

	"github.com/parsec-cloud/go-parsec/lib/ref"
)

// PreventSyncPattern is a glob over entry names; matching entries are
// confined (kept local, never pushed). The zero value matches nothing.
//
// Syntax is path.Match: '*', '?', and character classes. Entry names
// contain no '/', so a single-segment glob covers them fully.
type PreventSyncPattern struct {
	glob string
}

// CompilePreventSyncPattern validates the glob syntax.
func CompilePreventSyncPattern(glob string) (PreventSyncPattern, error) {
	if _, err := path.Match(glob, "probe"); err != nil {
		return PreventSyncPattern{}, fmt.Errorf("manifest: prevent-sync pattern %q: %w", glob, err)
	}
	return PreventSyncPattern{glob: glob}, nil
}

// Match reports whether the entry name is confined by the pattern.
func (p PreventSyncPattern) Match(name ref.EntryName) bool {
	if p.glob == "" {
		return false
	}
	matched, err := path.Match(p.glob, name.String())
	return err == nil && matched
}

// String returns the glob source.
func (p PreventSyncPattern) String() string { return p.glob }
