// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"bytes"

	"github.com/parsec-cloud/go-parsec/lib/dtime"
	"github.com/parsec-cloud/go-parsec/lib/ref"
)

// Kind tags carried in the payload "type" field.
const (
	kindWorkspace = "workspace_manifest"
	kindFolder    = "folder_manifest"
	kindFile      = "file_manifest"
)

// ManifestBase carries the fields every remote manifest shares. Kind
// is filled in by Seal; constructors leave it empty.
type ManifestBase struct {
	Kind      string       `cbor:"type"`
	Author    ref.DeviceID `cbor:"author"`
	Timestamp dtime.Time   `cbor:"timestamp"`
	ID        ref.EntryID  `cbor:"id"`
	Version   uint32       `cbor:"version"`
	Created   dtime.Time   `cbor:"created"`
	Updated   dtime.Time   `cbor:"updated"`
}

// Base returns the shared fields. Promoted onto every variant.
func (b ManifestBase) Base() ManifestBase { return b }

// Manifest is the closed sum of the remote manifest variants. Each
// variant is a pointer to its struct; the unexported method keeps the
// sum closed to this package.
type Manifest interface {
	Base() ManifestBase
	kindTag() string
}

// KindOf returns the canonical wire tag of a manifest variant, e.g.
// "folder_manifest".
func KindOf(manifest Manifest) string { return manifest.kindTag() }

// WorkspaceManifest is the root entry of a workspace. Its ID equals
// the realm ID; it has no parent.
type WorkspaceManifest struct {
	ManifestBase
	Children map[ref.EntryName]ref.EntryID `cbor:"children"`
}

func (*WorkspaceManifest) kindTag() string { return kindWorkspace }

// FolderManifest is a directory entry.
type FolderManifest struct {
	ManifestBase
	Parent   ref.EntryID                   `cbor:"parent"`
	Children map[ref.EntryName]ref.EntryID `cbor:"children"`
}

func (*FolderManifest) kindTag() string { return kindFolder }

// BlobAccess locates a file's content blob in the server's block
// store, along with the symmetric key it was encrypted with and the
// digest of the plaintext.
type BlobAccess struct {
	ID     ref.BlobID `cbor:"id"`
	Key    []byte     `cbor:"key"`
	Digest []byte     `cbor:"digest"`
	Size   uint64     `cbor:"size"`
}

// Equal reports whether two accesses reference the same content.
func (a BlobAccess) Equal(other BlobAccess) bool {
	return a.ID == other.ID &&
		a.Size == other.Size &&
		bytes.Equal(a.Key, other.Key) &&
		bytes.Equal(a.Digest, other.Digest)
}

// FileManifest is a regular file entry. Content is a single blob.
type FileManifest struct {
	ManifestBase
	Parent ref.EntryID `cbor:"parent"`
	Size   uint64      `cbor:"size"`
	Blob   BlobAccess  `cbor:"blob"`
}

func (*FileManifest) kindTag() string { return kindFile }

// childrenEqual compares two children maps by value.
func childrenEqual(a, b map[ref.EntryName]ref.EntryID) bool {
	if len(a) != len(b) {
		return false
	}
	for name, id := range a {
		if b[name] != id {
			return false
		}
	}
	return true
}

// cloneChildren copies a children map; nil stays nil-safe (returns an
// empty map).
func cloneChildren(children map[ref.EntryName]ref.EntryID) map[ref.EntryName]ref.EntryID {
	cloned := make(map[ref.EntryName]ref.EntryID, len(children))
	for name, id := range children {
		cloned[name] = id
	}
	return cloned
}
