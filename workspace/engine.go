// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parsec-cloud/go-parsec/certops"
	"github.com/parsec-cloud/go-parsec/device"
	"github.com/parsec-cloud/go-parsec/events"
	"github.com/parsec-cloud/go-parsec/lib/clock"
	"github.com/parsec-cloud/go-parsec/lib/dtime"
	"github.com/parsec-cloud/go-parsec/lib/ref"
	"github.com/parsec-cloud/go-parsec/lib/secretbox"
	"github.com/parsec-cloud/go-parsec/manifest"
	"github.com/parsec-cloud/go-parsec/transport"
)

// Config holds the dependencies of a workspace engine.
type Config struct {
	Realm   ref.RealmID
	Storage *Storage
	Ops     *certops.Ops
	Client  transport.Client
	Bus     *events.Bus
	Clock   clock.Clock
	Logger  *slog.Logger
	Device  *device.LocalDevice

	// PreventSync holds back matching entry names from outbound sync.
	// The zero value confines nothing.
	PreventSync manifest.PreventSyncPattern

	// SyncInterval is the background loop's period. Defaults to 10
	// seconds.
	SyncInterval time.Duration
}

// Engine is the sync engine of one workspace. Safe for concurrent use;
// per-entry operations racing each other are deferred, not blocked.
type Engine struct {
	realm   ref.RealmID
	storage *Storage
	ops     *certops.Ops
	client  transport.Client
	bus     *events.Bus
	clock   clock.Clock
	logger  *slog.Logger
	device  *device.LocalDevice
	pattern manifest.PreventSyncPattern

	syncInterval time.Duration

	keysMu sync.Mutex
	keys   map[uint64]secretbox.Key

	// mu guards the per-entry busy markers and the deferred queues. An
	// entry that is already busy gets re-queued instead of making the
	// caller wait.
	mu         sync.Mutex
	busy       map[ref.EntryID]struct{}
	pendingIn  map[ref.EntryID]struct{}
	pendingOut map[ref.EntryID]struct{}

	rootOnce sync.Once
}

// New creates a workspace engine. All Config fields except PreventSync
// and SyncInterval are required.
func New(cfg Config) (*Engine, error) {
	switch {
	case cfg.Realm.IsZero():
		return nil, fmt.Errorf("workspace: Realm is required")
	case cfg.Storage == nil:
		return nil, fmt.Errorf("workspace: Storage is required")
	case cfg.Ops == nil:
		return nil, fmt.Errorf("workspace: Ops is required")
	case cfg.Client == nil:
		return nil, fmt.Errorf("workspace: Client is required")
	case cfg.Bus == nil:
		return nil, fmt.Errorf("workspace: Bus is required")
	case cfg.Clock == nil:
		return nil, fmt.Errorf("workspace: Clock is required")
	case cfg.Logger == nil:
		return nil, fmt.Errorf("workspace: Logger is required")
	case cfg.Device == nil:
		return nil, fmt.Errorf("workspace: Device is required")
	}

	syncInterval := cfg.SyncInterval
	if syncInterval <= 0 {
		syncInterval = 10 * time.Second
	}

	return &Engine{
		realm:        cfg.Realm,
		storage:      cfg.Storage,
		ops:          cfg.Ops,
		client:       cfg.Client,
		bus:          cfg.Bus,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		device:       cfg.Device,
		pattern:      cfg.PreventSync,
		syncInterval: syncInterval,
		keys:         make(map[uint64]secretbox.Key),
		busy:         make(map[ref.EntryID]struct{}),
		pendingIn:    make(map[ref.EntryID]struct{}),
		pendingOut:   make(map[ref.EntryID]struct{}),
	}, nil
}

// Realm returns the realm this engine syncs.
func (e *Engine) Realm() ref.RealmID { return e.realm }

// RootEntry returns the workspace root's entry id, derived from the
// realm id.
func (e *Engine) RootEntry() ref.EntryID {
	return ref.VlobIDFromRealm(e.realm).EntryID()
}

func (e *Engine) now() dtime.Time {
	return dtime.FromStd(e.clock.Now())
}

func (e *Engine) noteOffline(err error) {
	if errors.Is(err, transport.ErrOffline) {
		e.bus.Publish(events.EventOffline{})
	}
}

// tryLock marks an entry busy. When the entry is already busy the sync
// is recorded in the given deferred queue instead and tryLock reports
// false.
func (e *Engine) tryLock(entry ref.EntryID, deferred map[ref.EntryID]struct{}) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, taken := e.busy[entry]; taken {
		deferred[entry] = struct{}{}
		return false
	}
	e.busy[entry] = struct{}{}
	return true
}

func (e *Engine) unlock(entry ref.EntryID) {
	e.mu.Lock()
	delete(e.busy, entry)
	e.mu.Unlock()
}

func (e *Engine) deferInbound(entry ref.EntryID) {
	e.mu.Lock()
	e.pendingIn[entry] = struct{}{}
	e.mu.Unlock()
}

func (e *Engine) deferOutbound(entry ref.EntryID) {
	e.mu.Lock()
	e.pendingOut[entry] = struct{}{}
	e.mu.Unlock()
}

// drainDeferred takes both deferred queues, leaving them empty.
func (e *Engine) drainDeferred() (inbound, outbound []ref.EntryID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for entry := range e.pendingIn {
		inbound = append(inbound, entry)
	}
	for entry := range e.pendingOut {
		outbound = append(outbound, entry)
	}
	e.pendingIn = make(map[ref.EntryID]struct{})
	e.pendingOut = make(map[ref.EntryID]struct{})
	return inbound, outbound
}

// EnsureRootManifest materializes the speculative root manifest if the
// workspace was never opened on this device before.
func (e *Engine) EnsureRootManifest(ctx context.Context) error {
	root := e.RootEntry()
	_, err := e.storage.GetManifest(ctx, root)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrManifestNotFound) {
		return err
	}
	speculative := manifest.NewSpeculativeWorkspace(e.realm, e.now())
	return e.storage.SetManifest(ctx, root, &speculative)
}

// SyncAll runs one full pass: every entry with pending local changes
// is pushed, and every deferred sync is retried. Offline errors stop
// the pass (the next one will pick up where this left off); per-entry
// failures are logged and skipped.
func (e *Engine) SyncAll(ctx context.Context) error {
	var rootErr error
	e.rootOnce.Do(func() { rootErr = e.EnsureRootManifest(ctx) })
	if rootErr != nil {
		return rootErr
	}

	inbound, outbound := e.drainDeferred()
	for _, entry := range inbound {
		if err := e.InboundSync(ctx, entry); err != nil {
			if errors.Is(err, transport.ErrOffline) || errors.Is(err, context.Canceled) {
				return err
			}
			e.logger.Warn("inbound sync failed", "realm", e.realm, "entry", entry, "error", err)
		}
	}

	pending, err := e.storage.ListNeedSync(ctx)
	if err != nil {
		return err
	}
	seen := make(map[ref.EntryID]struct{}, len(pending)+len(outbound))
	for _, entry := range append(pending, outbound...) {
		if _, done := seen[entry]; done {
			continue
		}
		seen[entry] = struct{}{}
		if err := e.OutboundSync(ctx, entry); err != nil {
			if errors.Is(err, transport.ErrOffline) || errors.Is(err, context.Canceled) {
				return err
			}
			e.logger.Warn("outbound sync failed", "realm", e.realm, "entry", entry, "error", err)
		}
	}
	return nil
}

// Run drives the background sync loop until ctx is cancelled. Offline
// passes are logged and retried on the next tick.
func (e *Engine) Run(ctx context.Context) error {
	ticker := e.clock.NewTicker(e.syncInterval)
	defer ticker.Stop()

	for {
		err := e.SyncAll(ctx)
		switch {
		case err == nil:
		case errors.Is(err, transport.ErrOffline):
			e.logger.Debug("sync pass skipped, server unreachable", "realm", e.realm)
		case errors.Is(err, context.Canceled):
			return nil
		case errors.Is(err, certops.ErrStopped):
			return nil
		default:
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
