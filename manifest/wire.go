// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/parsec-cloud/go-parsec/lib/codec"
	"github.com/parsec-cloud/go-parsec/lib/secretbox"
	"github.com/parsec-cloud/go-parsec/lib/sign"
)

// Manifests are small and text-heavy (CBOR maps of names and IDs), so
// a single shared zstd codec at the default level covers them. Both
// are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("manifest: zstd encoder initialization failed: " + err.Error())
	}
	// The memory bound makes oversized blobs fail during decode, before
	// the plaintext is materialized.
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxManifestSize))
	if err != nil {
		panic("manifest: zstd decoder initialization failed: " + err.Error())
	}
}

// maxManifestSize bounds decompression so a malicious blob cannot
// balloon into gigabytes of children entries.
const maxManifestSize = 16 << 20

// Seal produces the server-side blob form of a manifest: the
// deterministic-CBOR payload (with the variant's "type" tag filled
// in), signed by the authoring device, zstd-compressed, and encrypted
// with the realm key.
//
// Seal mutates the manifest's Kind field to the canonical tag; all
// other fields are read only.
func Seal(realmKey secretbox.Key, signer sign.SigningKey, manifest Manifest) ([]byte, error) {
	setKind(manifest)
	payload, err := codec.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("manifest: encoding %s payload: %w", manifest.kindTag(), err)
	}
	signed := signer.Sign(payload)
	return realmKey.Encrypt(zstdEncoder.EncodeAll(signed, nil))
}

// Unseal reverses the encryption and compression layers of Seal and
// returns the signed bytes (payload plus signature). The caller
// decodes them with UnsecureDecode to learn the claimed author, looks
// up that device's verify key, and only then runs VerifyAndDecode.
func Unseal(realmKey secretbox.Key, blob []byte) ([]byte, error) {
	compressed, err := realmKey.Decrypt(blob)
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	signed, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, len(compressed)))
	if err != nil {
		return nil, fmt.Errorf("manifest: decompressing: %w", err)
	}
	if len(signed) > maxManifestSize {
		return nil, fmt.Errorf("manifest: decompressed size %d exceeds limit", len(signed))
	}
	return signed, nil
}

// VerifyAndDecode verifies the signature with the given key and
// decodes the payload.
func VerifyAndDecode(signed []byte, key sign.VerifyKey) (Manifest, error) {
	payload, err := key.Open(signed)
	if err != nil {
		return nil, err
	}
	return decodePayload(payload)
}

// UnsecureDecode decodes the payload WITHOUT verifying the signature.
// The result is attacker-controlled until the same bytes pass
// VerifyAndDecode with the author's registered key; use it only to
// learn which key to look up.
func UnsecureDecode(signed []byte) (Manifest, error) {
	payload, err := sign.Payload(signed)
	if err != nil {
		return nil, err
	}
	return decodePayload(payload)
}

func decodePayload(payload []byte) (Manifest, error) {
	var envelope struct {
		Kind string `cbor:"type"`
	}
	if err := codec.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("manifest: decoding payload envelope: %w", err)
	}

	var manifest Manifest
	switch envelope.Kind {
	case kindWorkspace:
		manifest = &WorkspaceManifest{}
	case kindFolder:
		manifest = &FolderManifest{}
	case kindFile:
		manifest = &FileManifest{}
	default:
		return nil, fmt.Errorf("manifest: unknown manifest type %q", envelope.Kind)
	}
	if err := codec.Unmarshal(payload, manifest); err != nil {
		return nil, fmt.Errorf("manifest: decoding %s: %w", envelope.Kind, err)
	}
	return manifest, nil
}

func setKind(manifest Manifest) {
	tag := manifest.kindTag()
	switch m := manifest.(type) {
	case *WorkspaceManifest:
		m.ManifestBase.Kind = tag
	case *FolderManifest:
		m.ManifestBase.Kind = tag
	case *FileManifest:
		m.ManifestBase.Kind = tag
	}
}
