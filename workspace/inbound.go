// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package workspace

import (
	"context"
	"errors"
	"fmt"

	"github.com/parsec-cloud/go-parsec/certif"
	"github.com/parsec-cloud/go-parsec/events"
	"github.com/parsec-cloud/go-parsec/lib/dtime"
	"github.com/parsec-cloud/go-parsec/lib/ref"
	"github.com/parsec-cloud/go-parsec/manifest"
	"github.com/parsec-cloud/go-parsec/transport"
)

// InboundSync pulls the entry's latest vlob and merges it into the
// local manifest. Missing remote state is not an error: the entry is a
// local placeholder. A busy entry is deferred to the next sync pass.
func (e *Engine) InboundSync(ctx context.Context, entry ref.EntryID) error {
	if !e.tryLock(entry, e.pendingIn) {
		return nil
	}
	defer e.unlock(entry)
	return e.inboundLocked(ctx, entry)
}

// inboundLocked is the body of InboundSync; outbound conflict recovery
// calls it while already holding the entry.
func (e *Engine) inboundLocked(ctx context.Context, entry ref.EntryID) error {
	reply, err := e.client.VlobRead(ctx, transport.VlobReadRequest{
		Realm: e.realm,
		Vlob:  ref.VlobIDFromEntry(entry),
	})
	if err != nil {
		e.noteOffline(err)
		return fmt.Errorf("workspace: reading vlob for %s: %w", entry, err)
	}

	switch r := reply.(type) {
	case transport.VlobReadOK:
		return e.applyRemote(ctx, entry, r)
	case transport.VlobReadNotFound:
		return nil
	case transport.VlobReadNotAllowed:
		return fmt.Errorf("workspace: read access to realm %s denied", e.realm)
	default:
		return fmt.Errorf("workspace: unexpected vlob_read reply %T", reply)
	}
}

// applyRemote validates a fetched vlob end to end and merges it into
// the local manifest.
func (e *Engine) applyRemote(ctx context.Context, entry ref.EntryID, r transport.VlobReadOK) error {
	// The author's device certificate and the realm's key rotation must
	// be known before the blob can be trusted.
	needed := certif.PerTopicLastTimestamps{
		Common: r.NeededCommonCertificateTimestamp,
		Realms: map[ref.RealmID]dtime.Time{e.realm: r.NeededRealmCertificateTimestamp},
	}
	if err := e.ops.EnsureCertificatesUpTo(ctx, needed); err != nil {
		return err
	}

	key, err := e.keyFor(ctx, r.KeyIndex)
	if err != nil {
		return err
	}
	signed, err := manifest.Unseal(key, r.Blob)
	if err != nil {
		return err
	}

	claimed, err := manifest.UnsecureDecode(signed)
	if err != nil {
		return err
	}
	if claimed.Base().Author != r.Author {
		return fmt.Errorf("workspace: vlob %s: manifest claims author %s, server says %s",
			entry, claimed.Base().Author, r.Author)
	}
	verifyKey, err := e.ops.GetDeviceVerifyKey(ctx, r.Author, r.NeededCommonCertificateTimestamp)
	if err != nil {
		return fmt.Errorf("workspace: vlob %s author %s: %w", entry, r.Author, err)
	}
	remote, err := manifest.VerifyAndDecode(signed, verifyKey)
	if err != nil {
		return fmt.Errorf("workspace: vlob %s: %w", entry, err)
	}

	base := remote.Base()
	switch {
	case base.ID != entry:
		return fmt.Errorf("workspace: vlob %s carries manifest for %s", entry, base.ID)
	case base.Version != r.Version:
		return fmt.Errorf("workspace: vlob %s: manifest version %d, server says %d", entry, base.Version, r.Version)
	case base.Timestamp != r.Timestamp:
		return fmt.Errorf("workspace: vlob %s: manifest timestamp %s, server says %s", entry, base.Timestamp, r.Timestamp)
	}

	switch remote := remote.(type) {
	case *manifest.WorkspaceManifest:
		return e.mergeWorkspace(ctx, entry, *remote)
	case *manifest.FolderManifest:
		return e.mergeFolder(ctx, entry, *remote)
	case *manifest.FileManifest:
		return e.mergeFile(ctx, entry, *remote)
	default:
		return fmt.Errorf("workspace: vlob %s: unexpected manifest type %T", entry, remote)
	}
}

func (e *Engine) mergeWorkspace(ctx context.Context, entry ref.EntryID, remote manifest.WorkspaceManifest) error {
	stored, err := e.storage.GetManifest(ctx, entry)
	if errors.Is(err, ErrManifestNotFound) {
		adopted := manifest.WorkspaceFromRemote(remote)
		if err := e.storage.SetManifest(ctx, entry, &adopted); err != nil {
			return err
		}
		e.finishInbound(ctx, entry, adopted.Children)
		return nil
	}
	if err != nil {
		return err
	}
	local, ok := stored.(*manifest.LocalWorkspaceManifest)
	if !ok {
		return fmt.Errorf("workspace: entry %s is locally a %T, remotely a workspace root", entry, stored)
	}

	merged, changed := manifest.MergeLocalWorkspaceManifest(e.device.DeviceID, e.now(), e.pattern, *local, remote)
	if !changed {
		return nil
	}
	if err := e.storage.SetManifest(ctx, entry, &merged); err != nil {
		return err
	}
	e.finishInbound(ctx, entry, merged.Children)
	return nil
}

func (e *Engine) mergeFolder(ctx context.Context, entry ref.EntryID, remote manifest.FolderManifest) error {
	stored, err := e.storage.GetManifest(ctx, entry)
	if errors.Is(err, ErrManifestNotFound) {
		adopted := manifest.FolderFromRemote(remote)
		if err := e.storage.SetManifest(ctx, entry, &adopted); err != nil {
			return err
		}
		e.finishInbound(ctx, entry, adopted.Children)
		return nil
	}
	if err != nil {
		return err
	}
	local, ok := stored.(*manifest.LocalFolderManifest)
	if !ok {
		return fmt.Errorf("workspace: entry %s is locally a %T, remotely a folder", entry, stored)
	}

	merged, changed := manifest.MergeLocalFolderManifest(e.device.DeviceID, e.now(), e.pattern, *local, remote)
	if !changed {
		return nil
	}
	if err := e.storage.SetManifest(ctx, entry, &merged); err != nil {
		return err
	}
	e.finishInbound(ctx, entry, merged.Children)
	return nil
}

func (e *Engine) mergeFile(ctx context.Context, entry ref.EntryID, remote manifest.FileManifest) error {
	stored, err := e.storage.GetManifest(ctx, entry)
	if errors.Is(err, ErrManifestNotFound) {
		adopted := manifest.FileFromRemote(remote)
		if err := e.storage.SetManifest(ctx, entry, &adopted); err != nil {
			return err
		}
		e.finishInbound(ctx, entry, nil)
		return nil
	}
	if err != nil {
		return err
	}
	local, ok := stored.(*manifest.LocalFileManifest)
	if !ok {
		return fmt.Errorf("workspace: entry %s is locally a %T, remotely a file", entry, stored)
	}

	merged, outcome := manifest.MergeLocalFileManifest(e.device.DeviceID, e.now(), *local, remote)
	switch outcome {
	case manifest.FileMergeNoChange:
		return nil
	case manifest.FileMergeMerged:
		if err := e.storage.SetManifest(ctx, entry, &merged); err != nil {
			return err
		}
		e.finishInbound(ctx, entry, nil)
		return nil
	case manifest.FileMergeConflict:
		return e.resolveFileConflict(ctx, entry, *local, remote)
	default:
		return fmt.Errorf("workspace: unexpected file merge outcome %d", outcome)
	}
}

// resolveFileConflict handles concurrent file edits: the local version
// is materialized as a new conflict-named sibling, then the remote
// version is adopted for the contested entry. Neither side's bytes are
// lost.
func (e *Engine) resolveFileConflict(ctx context.Context, entry ref.EntryID, local manifest.LocalFileManifest, remote manifest.FileManifest) error {
	// The parent manifest gets a read-modify-write to link the copy, so
	// its busy marker is taken like any other entry's. A busy parent
	// defers the whole resolution to a later pass, before any partial
	// state is written.
	if !e.tryLock(local.Parent, e.pendingIn) {
		e.deferInbound(entry)
		return nil
	}
	defer e.unlock(local.Parent)

	now := e.now()

	copied := manifest.NewPlaceholderFile(ref.NewEntryID(), local.Parent, now)
	copied.Updated = local.Updated
	copied.Size = local.Size
	copied.Blob = local.Blob
	if err := e.storage.SetManifest(ctx, copied.Base.ID, &copied); err != nil {
		return err
	}

	adopted := manifest.FileFromRemote(remote)
	if err := e.storage.SetManifest(ctx, entry, &adopted); err != nil {
		return err
	}

	if err := e.registerConflictCopy(ctx, local.Parent, entry, copied.Base.ID, now); err != nil {
		return err
	}

	e.bus.Publish(events.EventEntryConflictResolved{
		Realm:    e.realm,
		Entry:    entry,
		CopiedAs: copied.Base.ID,
	})
	e.finishInbound(ctx, entry, nil)
	return nil
}

// registerConflictCopy links the conflict copy into the parent under a
// conflict-suffixed name, next to the contested entry.
func (e *Engine) registerConflictCopy(ctx context.Context, parentID, entry, copied ref.EntryID, now dtime.Time) error {
	stored, err := e.storage.GetManifest(ctx, parentID)
	if err != nil {
		return fmt.Errorf("workspace: conflict copy parent %s: %w", parentID, err)
	}

	var children map[ref.EntryName]ref.EntryID
	switch parent := stored.(type) {
	case *manifest.LocalWorkspaceManifest:
		children = parent.Children
		parent.NeedSync = true
		parent.Updated = now
	case *manifest.LocalFolderManifest:
		children = parent.Children
		parent.NeedSync = true
		parent.Updated = now
	default:
		return fmt.Errorf("workspace: conflict copy parent %s is a %T", parentID, stored)
	}

	var original ref.EntryName
	for name, id := range children {
		if id == entry {
			original = name
			break
		}
	}
	if original.IsZero() {
		// The entry was unlinked concurrently; fall back to the copy's
		// id so it stays reachable.
		parsed, err := ref.ParseEntryName(copied.String())
		if err != nil {
			return err
		}
		original = parsed
	}
	children[manifest.ConflictName(original, children)] = copied

	if err := e.storage.SetManifest(ctx, parentID, stored); err != nil {
		return err
	}
	e.deferOutbound(parentID)
	return nil
}

// finishInbound publishes the sync event and queues unknown children
// for their own inbound pass.
func (e *Engine) finishInbound(ctx context.Context, entry ref.EntryID, children map[ref.EntryName]ref.EntryID) {
	e.bus.Publish(events.EventEntryInboundSyncDone{Realm: e.realm, Entry: entry})
	for _, child := range children {
		if _, err := e.storage.GetManifest(ctx, child); errors.Is(err, ErrManifestNotFound) {
			e.deferInbound(child)
		}
	}
}
