// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package trustchain

import "fmt"

// Reason classifies why a certificate was rejected. The value is
// stable and appears in logs and events.
type Reason string

const (
	// ReasonCorrupted: the blob does not decode as a certificate.
	ReasonCorrupted Reason = "corrupted"
	// ReasonBadSignature: the payload does not verify against the
	// author's registered key.
	ReasonBadSignature Reason = "bad_signature"
	// ReasonUnknownAuthor: the claimed author device has no
	// certificate in the ledger.
	ReasonUnknownAuthor Reason = "unknown_author"
	// ReasonOlderThanAuthor: the certificate predates its author
	// device's own certificate.
	ReasonOlderThanAuthor Reason = "older_than_author"
	// ReasonRevokedAuthor: the author's user was revoked before the
	// certificate's timestamp.
	ReasonRevokedAuthor Reason = "revoked_author"
	// ReasonNotAllowed: the author exists but lacked the authority
	// (profile or realm role) for this operation.
	ReasonNotAllowed Reason = "not_allowed"
	// ReasonOutOfOrder: the timestamp violates the topic's ordering.
	ReasonOutOfOrder Reason = "out_of_order_timestamp"
	// ReasonInvalidContent: the certificate's own fields are
	// inconsistent (bad threshold, wrong key index, ...).
	ReasonInvalidContent Reason = "invalid_content"
	// ReasonAlreadyExists: the certificate duplicates state that is
	// already established (second revocation, active recovery setup,
	// ...).
	ReasonAlreadyExists Reason = "already_exists"
	// ReasonRelatedMissing: the certificate references another one
	// that is not in the ledger (share without its brief, deletion of
	// an unknown setup, ...).
	ReasonRelatedMissing Reason = "related_missing"
)

// InvalidCertificateError reports a rejected certificate. Kind is the
// wire tag when known, "" when the blob did not decode far enough to
// tell.
type InvalidCertificateError struct {
	Reason Reason
	Kind   string
	Detail string
	Err    error
}

func (e *InvalidCertificateError) Error() string {
	kind := e.Kind
	if kind == "" {
		kind = "certificate"
	}
	message := fmt.Sprintf("trustchain: invalid %s (%s): %s", kind, e.Reason, e.Detail)
	if e.Err != nil {
		message += ": " + e.Err.Error()
	}
	return message
}

func (e *InvalidCertificateError) Unwrap() error { return e.Err }

func invalid(reason Reason, kind, format string, args ...any) *InvalidCertificateError {
	return &InvalidCertificateError{
		Reason: reason,
		Kind:   kind,
		Detail: fmt.Sprintf(format, args...),
	}
}
