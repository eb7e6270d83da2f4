// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest defines the filesystem metadata model and its merge
// engine.
//
// Remote manifests (WorkspaceManifest, FolderManifest, FileManifest)
// are what travels through the server's versioned-blob store: signed by
// the authoring device, compressed, and encrypted with a realm key.
// They are immutable once fetched. Local manifests wrap a remote base
// with the device's live state: pending edits, the NeedSync flag, and
// confinement bookkeeping for entries held back by the prevent-sync
// pattern.
//
// The merge engine is pure: it never mutates its inputs and never
// touches storage or the network. Given the local manifest and a newer
// remote version it produces the reconciled local manifest, renaming
// concurrently-created same-name entries instead of dropping either
// side.
package manifest
