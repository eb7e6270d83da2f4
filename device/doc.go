// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

// Package device holds the local device identity: the key material a
// device needs to sign certificates and manifests, open payloads
// sealed to its user, and encrypt its local storage.
//
// At rest the identity lives in a keyfile encrypted with a key derived
// from a passphrase via argon2id. The keyfile is the only place the
// private half of any key is persisted.
package device
