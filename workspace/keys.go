// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package workspace

import (
	"context"
	"errors"
	"fmt"

	"github.com/parsec-cloud/go-parsec/lib/codec"
	"github.com/parsec-cloud/go-parsec/lib/ref"
	"github.com/parsec-cloud/go-parsec/lib/sealed"
	"github.com/parsec-cloud/go-parsec/lib/secretbox"
	"github.com/parsec-cloud/go-parsec/transport"
)

// ErrKeyCanaryMismatch is returned when a realm key obtained from a
// keys bundle fails the canary check of its rotation certificate. The
// bundle author published a key it did not actually know; the key must
// not be used.
var ErrKeyCanaryMismatch = errors.New("workspace: realm key fails its rotation canary")

// keysBundlePayload is the plaintext of a realm keys bundle: every key
// the realm has rotated through, by index.
type keysBundlePayload struct {
	Realm ref.RealmID       `cbor:"realm"`
	Keys  map[uint64][]byte `cbor:"keys"`
}

// bundleAccessPayload is sealed to each participant's public key and
// unlocks the bundle itself.
type bundleAccessPayload struct {
	BundleKey []byte `cbor:"bundle_key"`
}

// MakeCanary produces the canary a key rotation certificate publishes:
// the new key's encryption of an empty plaintext.
func MakeCanary(key secretbox.Key) ([]byte, error) {
	return key.Encrypt(nil)
}

// VerifyCanary checks that key is the one the rotation certificate's
// canary was produced with.
func VerifyCanary(key secretbox.Key, canary []byte) error {
	plaintext, err := key.Decrypt(canary)
	if err != nil || len(plaintext) != 0 {
		return ErrKeyCanaryMismatch
	}
	return nil
}

// BuildKeysBundle encrypts the realm's keys under a fresh bundle key
// and seals one access blob per recipient. recipients maps each user
// to their published public key.
func BuildKeysBundle(realm ref.RealmID, keys map[uint64][]byte, recipients map[ref.UserID]string) (bundle []byte, accesses map[ref.UserID][]byte, err error) {
	bundleKey, err := secretbox.GenerateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("workspace: %w", err)
	}
	payload, err := codec.Marshal(keysBundlePayload{Realm: realm, Keys: keys})
	if err != nil {
		return nil, nil, fmt.Errorf("workspace: encoding keys bundle: %w", err)
	}
	bundle, err = bundleKey.Encrypt(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("workspace: encrypting keys bundle: %w", err)
	}

	access, err := codec.Marshal(bundleAccessPayload{BundleKey: bundleKey.Bytes()})
	if err != nil {
		return nil, nil, fmt.Errorf("workspace: encoding bundle access: %w", err)
	}
	accesses = make(map[ref.UserID][]byte, len(recipients))
	for user, publicKey := range recipients {
		sealedAccess, err := sealed.Encrypt(access, publicKey)
		if err != nil {
			return nil, nil, fmt.Errorf("workspace: sealing bundle access for %s: %w", user, err)
		}
		accesses[user] = sealedAccess
	}
	return bundle, accesses, nil
}

// OpenKeysBundle unlocks a keys bundle with the access blob sealed to
// the calling user.
func OpenKeysBundle(privateKey string, bundle, access []byte) (keysBundlePayload, error) {
	accessBytes, err := sealed.Decrypt(access, privateKey)
	if err != nil {
		return keysBundlePayload{}, fmt.Errorf("workspace: opening bundle access: %w", err)
	}
	var accessPayload bundleAccessPayload
	if err := codec.Unmarshal(accessBytes, &accessPayload); err != nil {
		return keysBundlePayload{}, fmt.Errorf("workspace: decoding bundle access: %w", err)
	}
	bundleKey, err := secretbox.KeyFromBytes(accessPayload.BundleKey)
	if err != nil {
		return keysBundlePayload{}, fmt.Errorf("workspace: %w", err)
	}

	payloadBytes, err := bundleKey.Decrypt(bundle)
	if err != nil {
		return keysBundlePayload{}, fmt.Errorf("workspace: decrypting keys bundle: %w", err)
	}
	var payload keysBundlePayload
	if err := codec.Unmarshal(payloadBytes, &payload); err != nil {
		return keysBundlePayload{}, fmt.Errorf("workspace: decoding keys bundle: %w", err)
	}
	return payload, nil
}

// keyFor returns the realm key at keyIndex, fetching and verifying the
// keys bundle on first use. Verified keys are cached for the life of
// the engine.
func (e *Engine) keyFor(ctx context.Context, keyIndex uint64) (secretbox.Key, error) {
	e.keysMu.Lock()
	key, cached := e.keys[keyIndex]
	e.keysMu.Unlock()
	if cached {
		return key, nil
	}

	reply, err := e.client.RealmGetKeysBundle(ctx, e.realm, keyIndex)
	if err != nil {
		e.noteOffline(err)
		return secretbox.Key{}, fmt.Errorf("workspace: fetching keys bundle: %w", err)
	}
	var ok transport.KeysBundleOK
	switch r := reply.(type) {
	case transport.KeysBundleOK:
		ok = r
	case transport.KeysBundleNotAllowed:
		return secretbox.Key{}, fmt.Errorf("workspace: no keys bundle access for realm %s", e.realm)
	case transport.KeysBundleBadKeyIndex:
		return secretbox.Key{}, fmt.Errorf("workspace: realm %s has no key index %d", e.realm, keyIndex)
	default:
		return secretbox.Key{}, fmt.Errorf("workspace: unexpected keys bundle reply %T", reply)
	}

	payload, err := OpenKeysBundle(e.device.AgeKeys.PrivateKey, ok.Bundle, ok.BundleAccess)
	if err != nil {
		return secretbox.Key{}, err
	}
	if payload.Realm != e.realm {
		return secretbox.Key{}, fmt.Errorf("workspace: keys bundle is for realm %s, not %s", payload.Realm, e.realm)
	}
	raw, present := payload.Keys[keyIndex]
	if !present {
		return secretbox.Key{}, fmt.Errorf("workspace: keys bundle lacks key index %d", keyIndex)
	}
	key, err = secretbox.KeyFromBytes(raw)
	if err != nil {
		return secretbox.Key{}, fmt.Errorf("workspace: %w", err)
	}

	// The bundle comes from whoever rotated last; the canary in the
	// rotation certificate is what the trustchain actually vouches for.
	rotation, err := e.ops.GetRealmKeyRotation(ctx, e.realm, keyIndex)
	if err != nil {
		return secretbox.Key{}, fmt.Errorf("workspace: rotation certificate for key %d: %w", keyIndex, err)
	}
	if err := VerifyCanary(key, rotation.KeyCanary); err != nil {
		return secretbox.Key{}, err
	}

	e.keysMu.Lock()
	e.keys[keyIndex] = key
	e.keysMu.Unlock()
	return key, nil
}
