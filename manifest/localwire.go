// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"fmt"

	"github.com/parsec-cloud/go-parsec/lib/codec"
	"github.com/parsec-cloud/go-parsec/lib/secretbox"
)

// LocalManifest is the closed sum of the local manifest variants, for
// storage that persists all three through one codepath.
type LocalManifest interface {
	localKind() string
}

func (*LocalWorkspaceManifest) localKind() string { return kindWorkspace }
func (*LocalFolderManifest) localKind() string    { return kindFolder }
func (*LocalFileManifest) localKind() string      { return kindFile }

// localEnvelope is the on-disk form of a local manifest: a kind tag
// plus the variant payload, so the reader knows what to decode.
type localEnvelope struct {
	Kind    string           `cbor:"type"`
	Payload codec.RawMessage `cbor:"payload"`
}

// SealLocal produces the at-rest blob form of a local manifest:
// CBOR-encoded, zstd-compressed, and encrypted with the device's local
// storage key. Unlike Seal there is no signature; local storage is
// trusted once decrypted.
func SealLocal(localKey secretbox.Key, m LocalManifest) ([]byte, error) {
	payload, err := codec.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("manifest: encoding local %s: %w", m.localKind(), err)
	}
	wrapped, err := codec.Marshal(localEnvelope{Kind: m.localKind(), Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("manifest: wrapping local %s: %w", m.localKind(), err)
	}
	return localKey.Encrypt(zstdEncoder.EncodeAll(wrapped, nil))
}

// OpenLocal reverses SealLocal.
func OpenLocal(localKey secretbox.Key, blob []byte) (LocalManifest, error) {
	compressed, err := localKey.Decrypt(blob)
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	wrapped, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, len(compressed)))
	if err != nil {
		return nil, fmt.Errorf("manifest: decompressing local manifest: %w", err)
	}
	if len(wrapped) > maxManifestSize {
		return nil, fmt.Errorf("manifest: decompressed size %d exceeds limit", len(wrapped))
	}

	var envelope localEnvelope
	if err := codec.Unmarshal(wrapped, &envelope); err != nil {
		return nil, fmt.Errorf("manifest: decoding local envelope: %w", err)
	}

	var m LocalManifest
	switch envelope.Kind {
	case kindWorkspace:
		m = &LocalWorkspaceManifest{}
	case kindFolder:
		m = &LocalFolderManifest{}
	case kindFile:
		m = &LocalFileManifest{}
	default:
		return nil, fmt.Errorf("manifest: unknown local manifest type %q", envelope.Kind)
	}
	if err := codec.Unmarshal(envelope.Payload, m); err != nil {
		return nil, fmt.Errorf("manifest: decoding local %s: %w", envelope.Kind, err)
	}
	return m, nil
}
