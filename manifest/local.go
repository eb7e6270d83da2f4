// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"github.com/parsec-cloud/go-parsec/lib/dtime"
	"github.com/parsec-cloud/go-parsec/lib/ref"
)

// Local manifests wrap a remote base with the device's live state.
// Children maps hold everything known locally, confined entries
// included; the confinement point sets mark which IDs are held back by
// the prevent-sync pattern so views and outbound sync can filter them.
//
// A manifest with Base.Version == 0 is a placeholder: the entry has
// never been pushed, so outbound sync must create its vlob rather than
// update it.

// LocalWorkspaceManifest is the live state of a workspace root.
type LocalWorkspaceManifest struct {
	Base     WorkspaceManifest             `cbor:"base"`
	NeedSync bool                          `cbor:"need_sync"`
	Updated  dtime.Time                    `cbor:"updated"`
	Children map[ref.EntryName]ref.EntryID `cbor:"children"`

	LocalConfinementPoints  []ref.EntryID `cbor:"local_confinement_points"`
	RemoteConfinementPoints []ref.EntryID `cbor:"remote_confinement_points"`

	// Speculative marks a manifest created before the device ever saw
	// the remote entry (e.g. a workspace root synthesized on first
	// access). A speculative manifest is never trusted to supersede a
	// remote version, even one this device authored.
	Speculative bool `cbor:"speculative"`
}

// NewSpeculativeWorkspace synthesizes the local root manifest of a
// workspace whose remote state is not known yet.
func NewSpeculativeWorkspace(realm ref.RealmID, timestamp dtime.Time) LocalWorkspaceManifest {
	return LocalWorkspaceManifest{
		Base: WorkspaceManifest{
			ManifestBase: ManifestBase{
				ID:      ref.VlobIDFromRealm(realm).EntryID(),
				Created: timestamp,
				Updated: timestamp,
			},
		},
		NeedSync:    true,
		Updated:     timestamp,
		Children:    map[ref.EntryName]ref.EntryID{},
		Speculative: true,
	}
}

// WorkspaceFromRemote adopts a freshly-fetched remote root as the
// local state, with nothing pending.
func WorkspaceFromRemote(remote WorkspaceManifest) LocalWorkspaceManifest {
	return LocalWorkspaceManifest{
		Base:     remote,
		Updated:  remote.Updated,
		Children: cloneChildren(remote.Children),
	}
}

// IsPlaceholder reports whether the entry has never been pushed.
func (m LocalWorkspaceManifest) IsPlaceholder() bool { return m.Base.Version == 0 }

// VisibleChildren returns the children map minus every confined entry.
func (m LocalWorkspaceManifest) VisibleChildren() map[ref.EntryName]ref.EntryID {
	return withoutIDs(m.Children, m.LocalConfinementPoints, m.RemoteConfinementPoints)
}

// RemoteChildren returns the children map as outbound sync pushes it:
// locally-confined entries stripped, remotely-sourced ones kept.
func (m LocalWorkspaceManifest) RemoteChildren() map[ref.EntryName]ref.EntryID {
	return withoutIDs(m.Children, m.LocalConfinementPoints, nil)
}

// ToRemote produces the remote manifest outbound sync pushes for this
// state, at the next version.
func (m LocalWorkspaceManifest) ToRemote(author ref.DeviceID, timestamp dtime.Time) WorkspaceManifest {
	remote := m.Base
	remote.Author = author
	remote.Timestamp = timestamp
	remote.Version = m.Base.Version + 1
	remote.Updated = m.Updated
	remote.Children = m.RemoteChildren()
	return remote
}

// LocalFolderManifest is the live state of a directory entry.
type LocalFolderManifest struct {
	Base     FolderManifest                `cbor:"base"`
	NeedSync bool                          `cbor:"need_sync"`
	Updated  dtime.Time                    `cbor:"updated"`
	Parent   ref.EntryID                   `cbor:"parent"`
	Children map[ref.EntryName]ref.EntryID `cbor:"children"`

	LocalConfinementPoints  []ref.EntryID `cbor:"local_confinement_points"`
	RemoteConfinementPoints []ref.EntryID `cbor:"remote_confinement_points"`

	Speculative bool `cbor:"speculative"`
}

// NewPlaceholderFolder creates the local manifest of a directory that
// exists only on this device so far.
func NewPlaceholderFolder(id, parent ref.EntryID, timestamp dtime.Time) LocalFolderManifest {
	return LocalFolderManifest{
		Base: FolderManifest{
			ManifestBase: ManifestBase{
				ID:      id,
				Created: timestamp,
				Updated: timestamp,
			},
			Parent: parent,
		},
		NeedSync: true,
		Updated:  timestamp,
		Parent:   parent,
		Children: map[ref.EntryName]ref.EntryID{},
	}
}

// FolderFromRemote adopts a freshly-fetched remote directory as the
// local state, with nothing pending.
func FolderFromRemote(remote FolderManifest) LocalFolderManifest {
	return LocalFolderManifest{
		Base:     remote,
		Updated:  remote.Updated,
		Parent:   remote.Parent,
		Children: cloneChildren(remote.Children),
	}
}

// IsPlaceholder reports whether the entry has never been pushed.
func (m LocalFolderManifest) IsPlaceholder() bool { return m.Base.Version == 0 }

// VisibleChildren returns the children map minus every confined entry.
func (m LocalFolderManifest) VisibleChildren() map[ref.EntryName]ref.EntryID {
	return withoutIDs(m.Children, m.LocalConfinementPoints, m.RemoteConfinementPoints)
}

// RemoteChildren returns the children map as outbound sync pushes it.
func (m LocalFolderManifest) RemoteChildren() map[ref.EntryName]ref.EntryID {
	return withoutIDs(m.Children, m.LocalConfinementPoints, nil)
}

// ToRemote produces the remote manifest outbound sync pushes for this
// state, at the next version.
func (m LocalFolderManifest) ToRemote(author ref.DeviceID, timestamp dtime.Time) FolderManifest {
	remote := m.Base
	remote.Author = author
	remote.Timestamp = timestamp
	remote.Version = m.Base.Version + 1
	remote.Updated = m.Updated
	remote.Parent = m.Parent
	remote.Children = m.RemoteChildren()
	return remote
}

// LocalFileManifest is the live state of a regular file entry.
type LocalFileManifest struct {
	Base     FileManifest `cbor:"base"`
	NeedSync bool         `cbor:"need_sync"`
	Updated  dtime.Time   `cbor:"updated"`
	Parent   ref.EntryID  `cbor:"parent"`
	Size     uint64       `cbor:"size"`
	Blob     BlobAccess   `cbor:"blob"`

	Speculative bool `cbor:"speculative"`
}

// NewPlaceholderFile creates the local manifest of a file that exists
// only on this device so far.
func NewPlaceholderFile(id, parent ref.EntryID, timestamp dtime.Time) LocalFileManifest {
	return LocalFileManifest{
		Base: FileManifest{
			ManifestBase: ManifestBase{
				ID:      id,
				Created: timestamp,
				Updated: timestamp,
			},
			Parent: parent,
		},
		NeedSync: true,
		Updated:  timestamp,
		Parent:   parent,
	}
}

// FileFromRemote adopts a freshly-fetched remote file as the local
// state, with nothing pending.
func FileFromRemote(remote FileManifest) LocalFileManifest {
	return LocalFileManifest{
		Base:    remote,
		Updated: remote.Updated,
		Parent:  remote.Parent,
		Size:    remote.Size,
		Blob:    remote.Blob,
	}
}

// IsPlaceholder reports whether the entry has never been pushed.
func (m LocalFileManifest) IsPlaceholder() bool { return m.Base.Version == 0 }

// ToRemote produces the remote manifest outbound sync pushes for this
// state, at the next version.
func (m LocalFileManifest) ToRemote(author ref.DeviceID, timestamp dtime.Time) FileManifest {
	remote := m.Base
	remote.Author = author
	remote.Timestamp = timestamp
	remote.Version = m.Base.Version + 1
	remote.Updated = m.Updated
	remote.Parent = m.Parent
	remote.Size = m.Size
	remote.Blob = m.Blob
	return remote
}

// withoutIDs copies children, dropping entries whose ID appears in any
// of the exclusion sets.
func withoutIDs(children map[ref.EntryName]ref.EntryID, exclusions ...[]ref.EntryID) map[ref.EntryName]ref.EntryID {
	excluded := make(map[ref.EntryID]struct{})
	for _, set := range exclusions {
		for _, id := range set {
			excluded[id] = struct{}{}
		}
	}
	filtered := make(map[ref.EntryName]ref.EntryID, len(children))
	for name, id := range children {
		if _, confined := excluded[id]; confined {
			continue
		}
		filtered[name] = id
	}
	return filtered
}
