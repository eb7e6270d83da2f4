// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package certops

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parsec-cloud/go-parsec/certstore"
	"github.com/parsec-cloud/go-parsec/events"
	"github.com/parsec-cloud/go-parsec/lib/clock"
	"github.com/parsec-cloud/go-parsec/lib/dtime"
	"github.com/parsec-cloud/go-parsec/lib/ref"
	"github.com/parsec-cloud/go-parsec/transport"
	"github.com/parsec-cloud/go-parsec/trustchain"
)

// ErrStopped is returned by operations racing a shutdown.
var ErrStopped = errors.New("certops: stopped")

// TimestampOutOfBallparkError carries both clocks and the server's
// tolerance window. Raised (never retried) when the server rejects an
// operation for clock drift; an EventTimestampOutOfBallpark is
// published alongside.
type TimestampOutOfBallparkError struct {
	ServerTimestamp           dtime.Time
	ClientTimestamp           dtime.Time
	BallparkClientEarlyOffset time.Duration
	BallparkClientLateOffset  time.Duration
}

func (e *TimestampOutOfBallparkError) Error() string {
	return fmt.Sprintf(
		"certops: client clock %s out of server ballpark (server %s, tolerance -%s/+%s)",
		e.ClientTimestamp, e.ServerTimestamp,
		e.BallparkClientLateOffset, e.BallparkClientEarlyOffset)
}

// Purpose partitions GreaterTimestamp's monotonic state so concurrent
// local operations do not collide on timestamp slots.
type Purpose string

const (
	PurposeDeviceCreation Purpose = "device_creation"
	PurposeShamirSetup    Purpose = "shamir_setup"
	PurposeRealmBootstrap Purpose = "realm_bootstrap"
	PurposeVlobWrite      Purpose = "vlob_write"
)

// Config holds the dependencies of Ops.
type Config struct {
	Store     *certstore.Store
	Validator *trustchain.Validator
	Client    transport.Client
	Bus       *events.Bus
	Clock     clock.Clock
	Logger    *slog.Logger

	// SelfUser and SelfDevice identify the local device, for
	// self-queries and redaction decisions.
	SelfUser   ref.UserID
	SelfDevice ref.DeviceID

	// PollInterval is the monitor's period. Defaults to one minute.
	PollInterval time.Duration
}

// Ops is the certificate orchestrator. One instance per client
// session; safe for concurrent use.
type Ops struct {
	store      *certstore.Store
	validator  *trustchain.Validator
	client     transport.Client
	bus        *events.Bus
	clock      clock.Clock
	logger     *slog.Logger
	selfUser   ref.UserID
	selfDevice ref.DeviceID

	pollInterval time.Duration

	stopOnce sync.Once
	stopped  chan struct{}

	// issuedMu guards the per-purpose monotonic timestamp floor.
	issuedMu sync.Mutex
	issued   map[Purpose]dtime.Time
}

// New creates the orchestrator. All Config fields except PollInterval
// are required.
func New(cfg Config) (*Ops, error) {
	switch {
	case cfg.Store == nil:
		return nil, fmt.Errorf("certops: Store is required")
	case cfg.Validator == nil:
		return nil, fmt.Errorf("certops: Validator is required")
	case cfg.Client == nil:
		return nil, fmt.Errorf("certops: Client is required")
	case cfg.Bus == nil:
		return nil, fmt.Errorf("certops: Bus is required")
	case cfg.Clock == nil:
		return nil, fmt.Errorf("certops: Clock is required")
	case cfg.Logger == nil:
		return nil, fmt.Errorf("certops: Logger is required")
	case cfg.SelfUser.IsZero() || cfg.SelfDevice.IsZero():
		return nil, fmt.Errorf("certops: SelfUser and SelfDevice are required")
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}

	return &Ops{
		store:        cfg.Store,
		validator:    cfg.Validator,
		client:       cfg.Client,
		bus:          cfg.Bus,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		selfUser:     cfg.SelfUser,
		selfDevice:   cfg.SelfDevice,
		pollInterval: pollInterval,
		stopped:      make(chan struct{}),
		issued:       make(map[Purpose]dtime.Time),
	}, nil
}

// Stop marks the orchestrator as shut down. In-flight and future
// operations fail with ErrStopped. Idempotent.
func (o *Ops) Stop() {
	o.stopOnce.Do(func() { close(o.stopped) })
}

func (o *Ops) checkStopped() error {
	select {
	case <-o.stopped:
		return ErrStopped
	default:
		return nil
	}
}

// SelfUser returns the local user id.
func (o *Ops) SelfUser() ref.UserID { return o.selfUser }

// SelfDevice returns the local device id.
func (o *Ops) SelfDevice() ref.DeviceID { return o.selfDevice }

// GreaterTimestamp returns the next candidate timestamp for a
// certificate-creating operation: the later of the local clock and
// floor, and always strictly greater than anything this purpose was
// handed before. Callers loop on the server's RequireGreaterTimestamp
// reply, passing its bound back in as the new floor.
func (o *Ops) GreaterTimestamp(purpose Purpose, floor dtime.Time) dtime.Time {
	o.issuedMu.Lock()
	defer o.issuedMu.Unlock()

	candidate := dtime.FromStd(o.clock.Now())
	if !candidate.After(floor) {
		candidate = floor.Add(time.Microsecond)
	}
	if last := o.issued[purpose]; !candidate.After(last) {
		candidate = last.Add(time.Microsecond)
	}
	o.issued[purpose] = candidate
	return candidate
}

// ReportTimestampOutOfBallpark converts the server's clock-drift
// rejection into the dedicated error and publishes the warning event.
func (o *Ops) ReportTimestampOutOfBallpark(reply transport.TimestampOutOfBallpark) error {
	o.bus.Publish(events.EventTimestampOutOfBallpark{
		ServerTimestamp:           reply.ServerTimestamp,
		ClientTimestamp:           reply.ClientTimestamp,
		BallparkClientEarlyOffset: reply.BallparkClientEarlyOffset,
		BallparkClientLateOffset:  reply.BallparkClientLateOffset,
	})
	o.logger.Warn("server rejected operation for clock drift",
		"server_timestamp", reply.ServerTimestamp,
		"client_timestamp", reply.ClientTimestamp,
	)
	return &TimestampOutOfBallparkError{
		ServerTimestamp:           reply.ServerTimestamp,
		ClientTimestamp:           reply.ClientTimestamp,
		BallparkClientEarlyOffset: reply.BallparkClientEarlyOffset,
		BallparkClientLateOffset:  reply.BallparkClientLateOffset,
	}
}
