// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package workspace

import (
	"context"
	"errors"
	"fmt"

	"github.com/parsec-cloud/go-parsec/certops"
	"github.com/parsec-cloud/go-parsec/events"
	"github.com/parsec-cloud/go-parsec/lib/dtime"
	"github.com/parsec-cloud/go-parsec/lib/ref"
	"github.com/parsec-cloud/go-parsec/manifest"
	"github.com/parsec-cloud/go-parsec/transport"
)

// maxOutboundAttempts bounds the concurrent-write recovery loop. Each
// attempt merges the server's newer version first, so hitting the
// bound means the entry is being rewritten remotely faster than this
// device can push.
const maxOutboundAttempts = 8

// OutboundSync pushes the entry's pending local changes as the next
// vlob version. An entry with nothing pending is a no-op; a busy entry
// is deferred to the next sync pass.
func (e *Engine) OutboundSync(ctx context.Context, entry ref.EntryID) error {
	if !e.tryLock(entry, e.pendingOut) {
		return nil
	}
	defer e.unlock(entry)
	return e.outboundLocked(ctx, entry)
}

func (e *Engine) outboundLocked(ctx context.Context, entry ref.EntryID) error {
	var timestampFloor dtime.Time

	for attempt := 0; attempt < maxOutboundAttempts; attempt++ {
		stored, err := e.storage.GetManifest(ctx, entry)
		if errors.Is(err, ErrManifestNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		needSync, _ := manifestSyncColumns(stored)
		if !needSync {
			return nil
		}

		rotation, err := e.ops.GetLastRealmKeyRotation(ctx, e.realm)
		if err != nil {
			return err
		}
		if rotation == nil {
			return fmt.Errorf("workspace: realm %s has no key yet, bootstrap must run first", e.realm)
		}
		key, err := e.keyFor(ctx, rotation.KeyIndex)
		if err != nil {
			return err
		}

		timestamp := e.ops.GreaterTimestamp(certops.PurposeVlobWrite, timestampFloor)
		remote, placeholder := e.remoteForPush(stored, timestamp)
		blob, err := manifest.Seal(key, e.device.SigningKey, remote)
		if err != nil {
			return err
		}

		var reply transport.VlobWriteReply
		if placeholder {
			reply, err = e.client.VlobCreate(ctx, transport.VlobCreateRequest{
				Realm:     e.realm,
				Vlob:      ref.VlobIDFromEntry(entry),
				KeyIndex:  rotation.KeyIndex,
				Timestamp: timestamp,
				Blob:      blob,
			})
		} else {
			reply, err = e.client.VlobUpdate(ctx, transport.VlobUpdateRequest{
				Realm:     e.realm,
				Vlob:      ref.VlobIDFromEntry(entry),
				KeyIndex:  rotation.KeyIndex,
				Version:   remote.Base().Version,
				Timestamp: timestamp,
				Blob:      blob,
			})
		}
		if err != nil {
			e.noteOffline(err)
			return fmt.Errorf("workspace: pushing %s: %w", entry, err)
		}

		switch r := reply.(type) {
		case transport.VlobWriteOK:
			if err := e.adoptPushed(ctx, entry, stored, remote); err != nil {
				return err
			}
			e.bus.Publish(events.EventEntryOutboundSyncDone{
				Realm:   e.realm,
				Entry:   entry,
				Version: remote.Base().Version,
			})
			return nil

		case transport.VlobWriteBadVersion:
			// Someone pushed concurrently. Pull and merge their version,
			// then try again on top of it.
			if err := e.inboundLocked(ctx, entry); err != nil {
				return err
			}

		case transport.RequireGreaterTimestamp:
			timestampFloor = r.StrictlyGreaterThan
			attempt--

		case transport.RequirePollingCertificates:
			if err := e.ops.EnsureCertificatesUpTo(ctx, r.LastTimestamps); err != nil {
				return err
			}
			attempt--

		case transport.TimestampOutOfBallpark:
			return e.ops.ReportTimestampOutOfBallpark(r)

		case transport.VlobWriteNotAllowed:
			return fmt.Errorf("workspace: write access to realm %s denied", e.realm)

		default:
			return fmt.Errorf("workspace: unexpected vlob write reply %T", reply)
		}
	}
	return fmt.Errorf("workspace: entry %s still contested after %d push attempts", entry, maxOutboundAttempts)
}

// remoteForPush builds the remote manifest for the next version of the
// stored local state, and reports whether the push must create the
// vlob rather than update it.
func (e *Engine) remoteForPush(stored manifest.LocalManifest, timestamp dtime.Time) (manifest.Manifest, bool) {
	switch local := stored.(type) {
	case *manifest.LocalWorkspaceManifest:
		remote := local.ToRemote(e.device.DeviceID, timestamp)
		return &remote, local.IsPlaceholder()
	case *manifest.LocalFolderManifest:
		remote := local.ToRemote(e.device.DeviceID, timestamp)
		return &remote, local.IsPlaceholder()
	case *manifest.LocalFileManifest:
		remote := local.ToRemote(e.device.DeviceID, timestamp)
		return &remote, local.IsPlaceholder()
	}
	return nil, false
}

// adoptPushed folds the accepted push back into the local manifest:
// the pushed version becomes the new base, live edits made while the
// push was in flight stay pending. The merge engine's self-author path
// does exactly this.
func (e *Engine) adoptPushed(ctx context.Context, entry ref.EntryID, stored manifest.LocalManifest, pushed manifest.Manifest) error {
	now := e.now()
	switch local := stored.(type) {
	case *manifest.LocalWorkspaceManifest:
		remote := pushed.(*manifest.WorkspaceManifest)
		merged, _ := manifest.MergeLocalWorkspaceManifest(e.device.DeviceID, now, e.pattern, *local, *remote)
		return e.storage.SetManifest(ctx, entry, &merged)
	case *manifest.LocalFolderManifest:
		remote := pushed.(*manifest.FolderManifest)
		merged, _ := manifest.MergeLocalFolderManifest(e.device.DeviceID, now, e.pattern, *local, *remote)
		return e.storage.SetManifest(ctx, entry, &merged)
	case *manifest.LocalFileManifest:
		remote := pushed.(*manifest.FileManifest)
		merged, _ := manifest.MergeLocalFileManifest(e.device.DeviceID, now, *local, *remote)
		return e.storage.SetManifest(ctx, entry, &merged)
	}
	return fmt.Errorf("workspace: unexpected local manifest type %T", stored)
}
