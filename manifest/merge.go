// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"fmt"
	"sort"

	"github.com/parsec-cloud/go-parsec/lib/dtime"
	"github.com/parsec-cloud/go-parsec/lib/ref"
)

// conflictMarker is inserted into the name of a local entry that lost
// a same-name race against a remote entry.
const conflictMarker = " (Parsec - name conflict)"

// MergeLocalFolderManifest reconciles a local directory manifest with
// a newer remote version. Returns the new local manifest and whether
// anything changed; when the remote is stale (version at or below the
// local base) the input is returned untouched.
//
// When the remote was authored by this device and the local manifest
// is not speculative, the remote only confirms a prior push: it is
// adopted as the new base and the live fields are kept. Otherwise a
// three-way merge against the old base runs: concurrent same-name
// creations keep the remote entry under the contested name and rename
// the local one with the conflict marker, and a parent divergence is
// resolved in the remote's favor (a move race, not content).
func MergeLocalFolderManifest(localAuthor ref.DeviceID, timestamp dtime.Time, pattern PreventSyncPattern, local LocalFolderManifest, remote FolderManifest) (LocalFolderManifest, bool) {
	if remote.Version <= local.Base.Version {
		return local, false
	}

	var children map[ref.EntryName]ref.EntryID
	parent := remote.Parent
	if remote.Author == localAuthor && !local.Speculative {
		children = cloneChildren(local.Children)
		parent = local.Parent
	} else {
		children = mergeChildren(local.Base.Children, local.Children, remote.Children)
		if local.Parent != local.Base.Parent && remote.Parent == local.Base.Parent {
			parent = local.Parent
		}
	}

	localPoints, remotePoints := splitConfinement(pattern, children, remote.Children)
	merged := LocalFolderManifest{
		Base:                    remote,
		Parent:                  parent,
		Children:                children,
		LocalConfinementPoints:  localPoints,
		RemoteConfinementPoints: remotePoints,
	}
	if parent == remote.Parent && childrenEqual(merged.RemoteChildren(), remote.Children) {
		merged.Updated = remote.Updated
	} else {
		merged.NeedSync = true
		merged.Updated = timestamp
	}
	return merged, true
}

// MergeLocalWorkspaceManifest is MergeLocalFolderManifest for the
// workspace root, which has no parent to reconcile.
func MergeLocalWorkspaceManifest(localAuthor ref.DeviceID, timestamp dtime.Time, pattern PreventSyncPattern, local LocalWorkspaceManifest, remote WorkspaceManifest) (LocalWorkspaceManifest, bool) {
	if remote.Version <= local.Base.Version {
		return local, false
	}

	var children map[ref.EntryName]ref.EntryID
	if remote.Author == localAuthor && !local.Speculative {
		children = cloneChildren(local.Children)
	} else {
		children = mergeChildren(local.Base.Children, local.Children, remote.Children)
	}

	localPoints, remotePoints := splitConfinement(pattern, children, remote.Children)
	merged := LocalWorkspaceManifest{
		Base:                    remote,
		Children:                children,
		LocalConfinementPoints:  localPoints,
		RemoteConfinementPoints: remotePoints,
	}
	if childrenEqual(merged.RemoteChildren(), remote.Children) {
		merged.Updated = remote.Updated
	} else {
		merged.NeedSync = true
		merged.Updated = timestamp
	}
	return merged, true
}

// FileMergeOutcome classifies a file merge.
type FileMergeOutcome int

const (
	// FileMergeNoChange: the remote is stale, nothing to do.
	FileMergeNoChange FileMergeOutcome = iota
	// FileMergeMerged: the result supersedes the local manifest.
	FileMergeMerged
	// FileMergeConflict: both sides changed the content divergently.
	// The caller materializes the local version as a conflict-named
	// sibling before adopting the remote.
	FileMergeConflict
)

// MergeLocalFileManifest reconciles a local file manifest with a newer
// remote version. A file has no children to merge entry by entry: when
// both sides changed the content the outcome is FileMergeConflict and
// the input is returned untouched.
func MergeLocalFileManifest(localAuthor ref.DeviceID, timestamp dtime.Time, local LocalFileManifest, remote FileManifest) (LocalFileManifest, FileMergeOutcome) {
	if remote.Version <= local.Base.Version {
		return local, FileMergeNoChange
	}

	if remote.Author == localAuthor && !local.Speculative {
		merged := local
		merged.Base = remote
		merged.Speculative = false
		if merged.Size == remote.Size && merged.Blob.Equal(remote.Blob) && merged.Parent == remote.Parent {
			merged.NeedSync = false
			merged.Updated = remote.Updated
		} else {
			merged.NeedSync = true
			merged.Updated = timestamp
		}
		return merged, FileMergeMerged
	}

	localContentChanged := local.Size != local.Base.Size || !local.Blob.Equal(local.Base.Blob)
	localParentChanged := local.Parent != local.Base.Parent
	if !localContentChanged && !localParentChanged {
		return FileFromRemote(remote), FileMergeMerged
	}

	remoteContentChanged := remote.Size != local.Base.Size || !remote.Blob.Equal(local.Base.Blob)
	contentAgrees := local.Size == remote.Size && local.Blob.Equal(remote.Blob)

	if contentAgrees || !remoteContentChanged {
		// No content divergence: keep the local content (identical to
		// remote's, or the only side that changed), reconcile parent
		// with remote winning a move race.
		merged := local
		merged.Base = remote
		merged.Speculative = false
		if !localParentChanged || remote.Parent != local.Base.Parent {
			merged.Parent = remote.Parent
		}
		if merged.Size == remote.Size && merged.Blob.Equal(remote.Blob) && merged.Parent == remote.Parent {
			merged.NeedSync = false
			merged.Updated = remote.Updated
		} else {
			merged.NeedSync = true
			merged.Updated = timestamp
		}
		return merged, FileMergeMerged
	}

	return local, FileMergeConflict
}

// mergeChildren three-way merges a children map. Names are visited in
// sorted order so numbered conflict names come out deterministic.
func mergeChildren(base, local, remote map[ref.EntryName]ref.EntryID) map[ref.EntryName]ref.EntryID {
	merged := cloneChildren(remote)

	// taken holds every name in play, not just what landed in merged so
	// far: a conflict rename must not collide with a local-only name the
	// sorted pass has yet to apply, or the displaced entry would be
	// overwritten by it.
	taken := make(map[ref.EntryName]ref.EntryID, len(base)+len(local)+len(remote))
	for name, id := range remote {
		taken[name] = id
	}
	for name, id := range base {
		taken[name] = id
	}
	for name, id := range local {
		taken[name] = id
	}

	seen := make(map[ref.EntryName]struct{}, len(base)+len(local))
	names := make([]ref.EntryName, 0, len(base)+len(local))
	for name := range base {
		seen[name] = struct{}{}
		names = append(names, name)
	}
	for name := range local {
		if _, done := seen[name]; !done {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool { return names[i].String() < names[j].String() })

	for _, name := range names {
		baseID, inBase := base[name]
		localID, inLocal := local[name]
		if inBase == inLocal && baseID == localID {
			// Local did not touch this name.
			continue
		}
		remoteID, inRemote := remote[name]
		if inRemote == inBase && remoteID == baseID {
			// Remote did not touch it: the local change applies cleanly.
			if inLocal {
				merged[name] = localID
			} else {
				delete(merged, name)
			}
			continue
		}
		if inLocal == inRemote && localID == remoteID {
			// Both sides made the same change.
			continue
		}
		// Divergence on the same name: the remote entry keeps it, the
		// local entry survives under a conflict name.
		if inLocal {
			renamed := conflictName(name, taken)
			merged[renamed] = localID
			taken[renamed] = localID
		}
	}
	return merged
}

// ConflictName derives a free conflict-suffixed variant of name within
// the given sibling set. Used by the sync engine when it materializes
// the losing side of a concurrent file edit as its own entry.
func ConflictName(name ref.EntryName, siblings map[ref.EntryName]ref.EntryID) ref.EntryName {
	return conflictName(name, siblings)
}

// conflictName derives a free "<stem> (Parsec - name conflict)<ext>"
// name, numbering on collision and trimming when the result would
// exceed the entry-name length limit.
func conflictName(name ref.EntryName, taken map[ref.EntryName]ref.EntryID) ref.EntryName {
	stem, extension := name.SplitExtension()
	for attempt := 1; ; attempt++ {
		label := stem + conflictMarker + extension
		if attempt > 1 {
			label = fmt.Sprintf("%s (Parsec - name conflict %d)%s", stem, attempt, extension)
		}
		candidate, err := ref.ParseEntryName(label)
		if err != nil {
			// Over the length limit (or trimming broke a UTF-8
			// sequence): shave the longer half and retry at the same
			// attempt number.
			if len(stem) >= len(extension) && len(stem) > 1 {
				stem = stem[:len(stem)-1]
			} else if len(extension) > 0 {
				extension = extension[:len(extension)-1]
			} else {
				stem = "entry"
			}
			attempt--
			continue
		}
		if _, exists := taken[candidate]; !exists {
			return candidate
		}
	}
}

// splitConfinement partitions the pattern-matching children into
// locally-confined (not what the remote holds under that name) and
// remotely-confined IDs. Both slices come back sorted.
func splitConfinement(pattern PreventSyncPattern, children, remoteChildren map[ref.EntryName]ref.EntryID) (localPoints, remotePoints []ref.EntryID) {
	for name, id := range children {
		if !pattern.Match(name) {
			continue
		}
		if remoteChildren[name] == id {
			remotePoints = append(remotePoints, id)
		} else {
			localPoints = append(localPoints, id)
		}
	}
	sortIDs(localPoints)
	sortIDs(remotePoints)
	return localPoints, remotePoints
}

func sortIDs(ids []ref.EntryID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
}
