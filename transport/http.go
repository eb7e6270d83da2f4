// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/parsec-cloud/go-parsec/certif"
	"github.com/parsec-cloud/go-parsec/lib/codec"
	"github.com/parsec-cloud/go-parsec/lib/dtime"
	"github.com/parsec-cloud/go-parsec/lib/ref"
)

// contentType is the media type of every command body and reply.
const contentType = "application/cbor"

// HTTPConfig configures an HTTP client.
type HTTPConfig struct {
	// BaseURL is the server's base URL, without a trailing slash.
	BaseURL string

	// AuthorDevice identifies the calling device. Sent with every
	// command; the server derives the calling user from it.
	AuthorDevice ref.DeviceID

	// HTTP is the underlying client. Defaults to one with a 30 second
	// timeout.
	HTTP *http.Client
}

// HTTPClient speaks the command protocol over HTTP: each command is a
// POST of a CBOR body to /cmd/<name>, each reply a CBOR map whose
// "status" field selects the variant. Network failures normalize to
// ErrOffline.
type HTTPClient struct {
	baseURL string
	device  ref.DeviceID
	http    *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the given server.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("transport: BaseURL is required")
	}
	if cfg.AuthorDevice.IsZero() {
		return nil, fmt.Errorf("transport: AuthorDevice is required")
	}
	httpClient := cfg.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		device:  cfg.AuthorDevice,
		http:    httpClient,
	}, nil
}

// post sends one command and returns the raw reply body. Any transport
// level failure, including 5xx from intermediaries, maps to ErrOffline:
// the caller cannot distinguish those from an unreachable server.
func (c *HTTPClient) post(ctx context.Context, command string, request any) ([]byte, error) {
	body, err := codec.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("transport: encoding %s: %w", command, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/cmd/"+command, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("transport: %s: %w", command, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Parsec-Author", c.device.String())

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("transport: %s: %v: %w", command, err, ErrOffline)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("transport: %s: server returned %d: %w", command, resp.StatusCode, ErrOffline)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transport: %s: server returned %d", command, resp.StatusCode)
	}
	reply, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("transport: %s: reading reply: %w", command, err)
	}
	return reply, nil
}

// statusOf peeks at the reply's discriminator.
func statusOf(command string, reply []byte) (string, error) {
	var header struct {
		Status string `cbor:"status"`
	}
	if err := codec.Unmarshal(reply, &header); err != nil {
		return "", fmt.Errorf("transport: %s: decoding reply: %w", command, err)
	}
	if header.Status == "" {
		return "", fmt.Errorf("transport: %s: reply has no status", command)
	}
	return header.Status, nil
}

// Wire forms of the shared rejection replies.
type wireRequireGreaterTimestamp struct {
	StrictlyGreaterThan dtime.Time `cbor:"strictly_greater_than"`
}

type wireTimestampOutOfBallpark struct {
	ServerTimestamp           dtime.Time    `cbor:"server_timestamp"`
	ClientTimestamp           dtime.Time    `cbor:"client_timestamp"`
	BallparkClientEarlyOffset time.Duration `cbor:"ballpark_client_early_offset"`
	BallparkClientLateOffset  time.Duration `cbor:"ballpark_client_late_offset"`
}

type wireTimestamps struct {
	Common    dtime.Time                 `cbor:"common"`
	Sequester dtime.Time                 `cbor:"sequester"`
	Shamir    dtime.Time                 `cbor:"shamir"`
	Realms    map[ref.RealmID]dtime.Time `cbor:"realms"`
}

func (w wireTimestamps) toTimestamps() certif.PerTopicLastTimestamps {
	return certif.PerTopicLastTimestamps{
		Common:    w.Common,
		Sequester: w.Sequester,
		Shamir:    w.Shamir,
		Realms:    w.Realms,
	}
}

type wireRequirePolling struct {
	LastTimestamps wireTimestamps `cbor:"last_timestamps"`
}

// decodeShared decodes the rejection replies shared across commands.
// The bool reports whether the status matched one of them.
func decodeShared(command, status string, reply []byte) (any, bool, error) {
	switch status {
	case "require_greater_timestamp":
		var w wireRequireGreaterTimestamp
		if err := codec.Unmarshal(reply, &w); err != nil {
			return nil, true, fmt.Errorf("transport: %s: %w", command, err)
		}
		return RequireGreaterTimestamp{StrictlyGreaterThan: w.StrictlyGreaterThan}, true, nil
	case "timestamp_out_of_ballpark":
		var w wireTimestampOutOfBallpark
		if err := codec.Unmarshal(reply, &w); err != nil {
			return nil, true, fmt.Errorf("transport: %s: %w", command, err)
		}
		return TimestampOutOfBallpark{
			ServerTimestamp:           w.ServerTimestamp,
			ClientTimestamp:           w.ClientTimestamp,
			BallparkClientEarlyOffset: w.BallparkClientEarlyOffset,
			BallparkClientLateOffset:  w.BallparkClientLateOffset,
		}, true, nil
	case "require_polling_certificates":
		var w wireRequirePolling
		if err := codec.Unmarshal(reply, &w); err != nil {
			return nil, true, fmt.Errorf("transport: %s: %w", command, err)
		}
		return RequirePollingCertificates{LastTimestamps: w.LastTimestamps.toTimestamps()}, true, nil
	}
	return nil, false, nil
}

func unexpectedStatus(command, status string) error {
	return fmt.Errorf("transport: %s: unexpected reply status %q", command, status)
}

// CertificateGet implements Client.
func (c *HTTPClient) CertificateGet(ctx context.Context, since certif.PerTopicLastTimestamps) (CertificateGetReply, error) {
	const command = "certificate_get"
	reply, err := c.post(ctx, command, struct {
		Since wireTimestamps `cbor:"since"`
	}{Since: wireTimestamps{
		Common:    since.Common,
		Sequester: since.Sequester,
		Shamir:    since.Shamir,
		Realms:    since.Realms,
	}})
	if err != nil {
		return nil, err
	}
	status, err := statusOf(command, reply)
	if err != nil {
		return nil, err
	}
	if status != "ok" {
		return nil, unexpectedStatus(command, status)
	}
	var w struct {
		Common    [][]byte                 `cbor:"common"`
		Sequester [][]byte                 `cbor:"sequester"`
		Shamir    [][]byte                 `cbor:"shamir"`
		Realms    map[ref.RealmID][][]byte `cbor:"realms"`
	}
	if err := codec.Unmarshal(reply, &w); err != nil {
		return nil, fmt.Errorf("transport: %s: %w", command, err)
	}
	return CertificatesOK{
		Common:    w.Common,
		Sequester: w.Sequester,
		Shamir:    w.Shamir,
		Realms:    w.Realms,
	}, nil
}

// VlobRead implements Client.
func (c *HTTPClient) VlobRead(ctx context.Context, request VlobReadRequest) (VlobReadReply, error) {
	const command = "vlob_read"
	reply, err := c.post(ctx, command, struct {
		Realm     ref.RealmID `cbor:"realm"`
		Vlob      ref.VlobID  `cbor:"vlob"`
		AtVersion uint32      `cbor:"at_version"`
	}{request.Realm, request.Vlob, request.AtVersion})
	if err != nil {
		return nil, err
	}
	status, err := statusOf(command, reply)
	if err != nil {
		return nil, err
	}
	switch status {
	case "ok":
		var w struct {
			Blob         []byte       `cbor:"blob"`
			KeyIndex     uint64       `cbor:"key_index"`
			Author       ref.DeviceID `cbor:"author"`
			Version      uint32       `cbor:"version"`
			Timestamp    dtime.Time   `cbor:"timestamp"`
			NeededCommon dtime.Time   `cbor:"needed_common_certificate_timestamp"`
			NeededRealm  dtime.Time   `cbor:"needed_realm_certificate_timestamp"`
		}
		if err := codec.Unmarshal(reply, &w); err != nil {
			return nil, fmt.Errorf("transport: %s: %w", command, err)
		}
		return VlobReadOK{
			Blob:                             w.Blob,
			KeyIndex:                         w.KeyIndex,
			Author:                           w.Author,
			Version:                          w.Version,
			Timestamp:                        w.Timestamp,
			NeededCommonCertificateTimestamp: w.NeededCommon,
			NeededRealmCertificateTimestamp:  w.NeededRealm,
		}, nil
	case "not_found":
		return VlobReadNotFound{}, nil
	case "not_allowed":
		return VlobReadNotAllowed{}, nil
	}
	return nil, unexpectedStatus(command, status)
}

// decodeVlobWriteReply handles the reply set shared by create and
// update.
func decodeVlobWriteReply(command string, reply []byte) (VlobWriteReply, error) {
	status, err := statusOf(command, reply)
	if err != nil {
		return nil, err
	}
	switch status {
	case "ok":
		return VlobWriteOK{}, nil
	case "bad_version":
		return VlobWriteBadVersion{}, nil
	case "not_allowed":
		return VlobWriteNotAllowed{}, nil
	}
	if shared, matched, err := decodeShared(command, status, reply); matched {
		if err != nil {
			return nil, err
		}
		return shared.(VlobWriteReply), nil
	}
	return nil, unexpectedStatus(command, status)
}

// VlobCreate implements Client.
func (c *HTTPClient) VlobCreate(ctx context.Context, request VlobCreateRequest) (VlobWriteReply, error) {
	const command = "vlob_create"
	reply, err := c.post(ctx, command, struct {
		Realm     ref.RealmID `cbor:"realm"`
		Vlob      ref.VlobID  `cbor:"vlob"`
		KeyIndex  uint64      `cbor:"key_index"`
		Timestamp dtime.Time  `cbor:"timestamp"`
		Blob      []byte      `cbor:"blob"`
	}{request.Realm, request.Vlob, request.KeyIndex, request.Timestamp, request.Blob})
	if err != nil {
		return nil, err
	}
	return decodeVlobWriteReply(command, reply)
}

// VlobUpdate implements Client.
func (c *HTTPClient) VlobUpdate(ctx context.Context, request VlobUpdateRequest) (VlobWriteReply, error) {
	const command = "vlob_update"
	reply, err := c.post(ctx, command, struct {
		Realm     ref.RealmID `cbor:"realm"`
		Vlob      ref.VlobID  `cbor:"vlob"`
		KeyIndex  uint64      `cbor:"key_index"`
		Version   uint32      `cbor:"version"`
		Timestamp dtime.Time  `cbor:"timestamp"`
		Blob      []byte      `cbor:"blob"`
	}{request.Realm, request.Vlob, request.KeyIndex, request.Version, request.Timestamp, request.Blob})
	if err != nil {
		return nil, err
	}
	return decodeVlobWriteReply(command, reply)
}

// decodeRealmWriteReply handles the reply set shared by the realm
// write commands.
func decodeRealmWriteReply(command string, reply []byte) (RealmWriteReply, error) {
	status, err := statusOf(command, reply)
	if err != nil {
		return nil, err
	}
	switch status {
	case "ok":
		return RealmWriteOK{}, nil
	case "already_exists":
		return RealmWriteAlreadyExists{}, nil
	case "bad_key_index":
		var w struct {
			LastRealmCertificateTimestamp dtime.Time `cbor:"last_realm_certificate_timestamp"`
		}
		if err := codec.Unmarshal(reply, &w); err != nil {
			return nil, fmt.Errorf("transport: %s: %w", command, err)
		}
		return RealmWriteBadKeyIndex{LastRealmCertificateTimestamp: w.LastRealmCertificateTimestamp}, nil
	case "not_allowed":
		return RealmWriteNotAllowed{}, nil
	}
	if shared, matched, err := decodeShared(command, status, reply); matched {
		if err != nil {
			return nil, err
		}
		return shared.(RealmWriteReply), nil
	}
	return nil, unexpectedStatus(command, status)
}

// RealmCreate implements Client.
func (c *HTTPClient) RealmCreate(ctx context.Context, signedRoleCertificate []byte) (RealmWriteReply, error) {
	const command = "realm_create"
	reply, err := c.post(ctx, command, struct {
		SignedRole []byte `cbor:"signed_role"`
	}{signedRoleCertificate})
	if err != nil {
		return nil, err
	}
	return decodeRealmWriteReply(command, reply)
}

// RealmRotateKey implements Client.
func (c *HTTPClient) RealmRotateKey(ctx context.Context, request RealmRotateKeyRequest) (RealmWriteReply, error) {
	const command = "realm_rotate_key"
	reply, err := c.post(ctx, command, struct {
		SignedRotation       []byte                `cbor:"signed_rotation"`
		Bundle               []byte                `cbor:"bundle"`
		PerParticipantAccess map[ref.UserID][]byte `cbor:"per_participant_access"`
	}{request.SignedRotation, request.Bundle, request.PerParticipantAccess})
	if err != nil {
		return nil, err
	}
	return decodeRealmWriteReply(command, reply)
}

// RealmRename implements Client.
func (c *HTTPClient) RealmRename(ctx context.Context, request RealmRenameRequest) (RealmWriteReply, error) {
	const command = "realm_rename"
	reply, err := c.post(ctx, command, struct {
		SignedName        []byte `cbor:"signed_name"`
		InitialNameOrFail bool   `cbor:"initial_name_or_fail"`
	}{request.SignedName, request.InitialNameOrFail})
	if err != nil {
		return nil, err
	}
	return decodeRealmWriteReply(command, reply)
}

// RealmGetKeysBundle implements Client.
func (c *HTTPClient) RealmGetKeysBundle(ctx context.Context, realm ref.RealmID, keyIndex uint64) (KeysBundleReply, error) {
	const command = "realm_get_keys_bundle"
	reply, err := c.post(ctx, command, struct {
		Realm    ref.RealmID `cbor:"realm"`
		KeyIndex uint64      `cbor:"key_index"`
	}{realm, keyIndex})
	if err != nil {
		return nil, err
	}
	status, err := statusOf(command, reply)
	if err != nil {
		return nil, err
	}
	switch status {
	case "ok":
		var w struct {
			Bundle       []byte `cbor:"bundle"`
			BundleAccess []byte `cbor:"bundle_access"`
		}
		if err := codec.Unmarshal(reply, &w); err != nil {
			return nil, fmt.Errorf("transport: %s: %w", command, err)
		}
		return KeysBundleOK{Bundle: w.Bundle, BundleAccess: w.BundleAccess}, nil
	case "not_allowed":
		return KeysBundleNotAllowed{}, nil
	case "bad_key_index":
		return KeysBundleBadKeyIndex{}, nil
	}
	return nil, unexpectedStatus(command, status)
}

// DeviceCreate implements Client.
func (c *HTTPClient) DeviceCreate(ctx context.Context, request DeviceCreateRequest) (DeviceCreateReply, error) {
	const command = "device_create"
	reply, err := c.post(ctx, command, struct {
		SignedDevice         []byte `cbor:"signed_device"`
		RedactedSignedDevice []byte `cbor:"redacted_signed_device"`
	}{request.SignedDevice, request.RedactedSignedDevice})
	if err != nil {
		return nil, err
	}
	status, err := statusOf(command, reply)
	if err != nil {
		return nil, err
	}
	switch status {
	case "ok":
		return DeviceCreateOK{}, nil
	case "already_exists":
		return DeviceCreateAlreadyExists{}, nil
	}
	if shared, matched, err := decodeShared(command, status, reply); matched {
		if err != nil {
			return nil, err
		}
		if typed, ok := shared.(DeviceCreateReply); ok {
			return typed, nil
		}
	}
	return nil, unexpectedStatus(command, status)
}

// ShamirRecoverySetup implements Client.
func (c *HTTPClient) ShamirRecoverySetup(ctx context.Context, request ShamirRecoverySetupRequest) (ShamirRecoverySetupReply, error) {
	const command = "shamir_recovery_setup"
	reply, err := c.post(ctx, command, struct {
		SignedBrief  []byte   `cbor:"signed_brief"`
		SignedShares [][]byte `cbor:"signed_shares"`
		CipheredData []byte   `cbor:"ciphered_data"`
	}{request.SignedBrief, request.SignedShares, request.CipheredData})
	if err != nil {
		return nil, err
	}
	status, err := statusOf(command, reply)
	if err != nil {
		return nil, err
	}
	switch status {
	case "ok":
		return ShamirSetupOK{}, nil
	case "already_exists":
		var w struct {
			LastShamirCertificateTimestamp dtime.Time `cbor:"last_shamir_certificate_timestamp"`
		}
		if err := codec.Unmarshal(reply, &w); err != nil {
			return nil, fmt.Errorf("transport: %s: %w", command, err)
		}
		return ShamirSetupAlreadyExists{LastShamirCertificateTimestamp: w.LastShamirCertificateTimestamp}, nil
	case "revoked_recipient":
		var w struct {
			LastCommonCertificateTimestamp dtime.Time `cbor:"last_common_certificate_timestamp"`
		}
		if err := codec.Unmarshal(reply, &w); err != nil {
			return nil, fmt.Errorf("transport: %s: %w", command, err)
		}
		return ShamirSetupRevokedRecipient{LastCommonCertificateTimestamp: w.LastCommonCertificateTimestamp}, nil
	}
	if shared, matched, err := decodeShared(command, status, reply); matched {
		if err != nil {
			return nil, err
		}
		if typed, ok := shared.(ShamirRecoverySetupReply); ok {
			return typed, nil
		}
	}
	return nil, unexpectedStatus(command, status)
}

// ShamirRecoveryDelete implements Client.
func (c *HTTPClient) ShamirRecoveryDelete(ctx context.Context, signedDeletion []byte) (ShamirRecoveryDeleteReply, error) {
	const command = "shamir_recovery_delete"
	reply, err := c.post(ctx, command, struct {
		SignedDeletion []byte `cbor:"signed_deletion"`
	}{signedDeletion})
	if err != nil {
		return nil, err
	}
	status, err := statusOf(command, reply)
	if err != nil {
		return nil, err
	}
	switch status {
	case "ok":
		return ShamirDeleteOK{}, nil
	case "not_found":
		return ShamirDeleteNotFound{}, nil
	case "already_deleted":
		return ShamirDeleteAlreadyDeleted{}, nil
	}
	if shared, matched, err := decodeShared(command, status, reply); matched {
		if err != nil {
			return nil, err
		}
		if typed, ok := shared.(ShamirRecoveryDeleteReply); ok {
			return typed, nil
		}
	}
	return nil, unexpectedStatus(command, status)
}
