// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package shamir

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/group"
	"github.com/cloudflare/circl/secretsharing"

	"github.com/parsec-cloud/go-parsec/lib/codec"
	"github.com/parsec-cloud/go-parsec/lib/sealed"
	"github.com/parsec-cloud/go-parsec/lib/secretbox"
)

var (
	// ErrBadThreshold is returned for a threshold of zero or one larger
	// than the number of shares dealt.
	ErrBadThreshold = errors.New("shamir: invalid threshold")

	// ErrTooFewShares is returned when recombination is attempted with
	// fewer shares than the threshold.
	ErrTooFewShares = errors.New("shamir: not enough shares to recover the secret")
)

// dataKeyContext is the derivation label tying the symmetric data key
// to the shared scalar.
const dataKeyContext = "parsec shamir recovery data key"

// sharingGroup is the prime-order group the polynomial lives in.
var sharingGroup = group.Ristretto255

// Share is one point of the sharing polynomial, in wire form. Shares
// travel sealed to their recipient inside share certificates.
type Share struct {
	ID    []byte `cbor:"id"`
	Value []byte `cbor:"value"`
}

// DealSecret draws a fresh secret, splits it into total shares of
// which any threshold recover it, and returns the symmetric key
// derived from the secret. The secret scalar itself is discarded: the
// derived key is the only thing callers ever cipher with.
func DealSecret(threshold, total uint8) (secretbox.Key, []Share, error) {
	if threshold == 0 || threshold > total {
		return secretbox.Key{}, nil, ErrBadThreshold
	}

	secret := sharingGroup.RandomScalar(rand.Reader)
	// The library's t parameter is the polynomial degree: t+1 shares
	// recover, so a threshold of k maps to degree k-1.
	dealer := secretsharing.New(rand.Reader, uint(threshold)-1, secret)

	dealt := dealer.Share(uint(total))
	shares := make([]Share, 0, len(dealt))
	for _, s := range dealt {
		id, err := s.ID.MarshalBinary()
		if err != nil {
			return secretbox.Key{}, nil, fmt.Errorf("shamir: encoding share id: %w", err)
		}
		value, err := s.Value.MarshalBinary()
		if err != nil {
			return secretbox.Key{}, nil, fmt.Errorf("shamir: encoding share value: %w", err)
		}
		shares = append(shares, Share{ID: id, Value: value})
	}

	key, err := dataKeyFromSecret(secret)
	if err != nil {
		return secretbox.Key{}, nil, err
	}
	return key, shares, nil
}

// CombineShares reconstructs the symmetric data key from at least
// threshold distinct shares.
func CombineShares(threshold uint8, shares []Share) (secretbox.Key, error) {
	if threshold == 0 {
		return secretbox.Key{}, ErrBadThreshold
	}
	if len(shares) < int(threshold) {
		return secretbox.Key{}, ErrTooFewShares
	}

	parsed := make([]secretsharing.Share, 0, len(shares))
	for _, s := range shares {
		id := sharingGroup.NewScalar()
		if err := id.UnmarshalBinary(s.ID); err != nil {
			return secretbox.Key{}, fmt.Errorf("shamir: decoding share id: %w", err)
		}
		value := sharingGroup.NewScalar()
		if err := value.UnmarshalBinary(s.Value); err != nil {
			return secretbox.Key{}, fmt.Errorf("shamir: decoding share value: %w", err)
		}
		parsed = append(parsed, secretsharing.Share{ID: id, Value: value})
	}

	secret, err := secretsharing.Recover(uint(threshold)-1, parsed)
	if err != nil {
		return secretbox.Key{}, fmt.Errorf("shamir: recovering secret: %w", err)
	}
	return dataKeyFromSecret(secret)
}

func dataKeyFromSecret(secret group.Scalar) (secretbox.Key, error) {
	raw, err := secret.MarshalBinary()
	if err != nil {
		return secretbox.Key{}, fmt.Errorf("shamir: encoding secret: %w", err)
	}
	return secretbox.DeriveKey(dataKeyContext, raw), nil
}

// SealShares serializes a recipient's weighted share slice and seals
// it to their public key, producing the share certificate's payload.
func SealShares(recipientKey string, shares []Share) ([]byte, error) {
	plaintext, err := codec.Marshal(shares)
	if err != nil {
		return nil, fmt.Errorf("shamir: encoding shares: %w", err)
	}
	ciphertext, err := sealed.Encrypt(plaintext, recipientKey)
	if err != nil {
		return nil, fmt.Errorf("shamir: sealing shares: %w", err)
	}
	return ciphertext, nil
}

// OpenShares unseals and decodes a share certificate's payload.
func OpenShares(privateKey string, ciphertext []byte) ([]Share, error) {
	plaintext, err := sealed.Decrypt(ciphertext, privateKey)
	if err != nil {
		return nil, fmt.Errorf("shamir: opening shares: %w", err)
	}
	var shares []Share
	if err := codec.Unmarshal(plaintext, &shares); err != nil {
		return nil, fmt.Errorf("shamir: decoding shares: %w", err)
	}
	return shares, nil
}
