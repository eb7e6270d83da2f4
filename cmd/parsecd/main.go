// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

// parsecd is the parsec client daemon. It loads the local device
// identity from an encrypted keyfile, maintains the certificate ledger
// against the organization's server, and runs one sync engine per
// configured workspace until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/parsec-cloud/go-parsec/certops"
	"github.com/parsec-cloud/go-parsec/certstore"
	"github.com/parsec-cloud/go-parsec/device"
	"github.com/parsec-cloud/go-parsec/events"
	"github.com/parsec-cloud/go-parsec/lib/clock"
	"github.com/parsec-cloud/go-parsec/lib/config"
	"github.com/parsec-cloud/go-parsec/transport"
	"github.com/parsec-cloud/go-parsec/trustchain"
	"github.com/parsec-cloud/go-parsec/workspace"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var logLevel string

	flagSet := pflag.NewFlagSet("parsecd", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "",
		"path to the parsec.yaml config file (default: $PARSEC_CONFIG)")
	flagSet.StringVar(&logLevel, "log-level", "info",
		"log level: debug, info, warn, error")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("--log-level: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	passphrase, err := cfg.Passphrase()
	if err != nil {
		return err
	}
	dev, err := device.LoadKeyfile(cfg.Device.Keyfile, passphrase)
	if err != nil {
		return fmt.Errorf("loading device keyfile %s: %w", cfg.Device.Keyfile, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := transport.NewHTTPClient(transport.HTTPConfig{
		BaseURL:      cfg.Server.URL,
		AuthorDevice: dev.DeviceID,
	})
	if err != nil {
		return err
	}

	store, err := certstore.Open(certstore.Config{
		Path:   cfg.CertstorePath(),
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	bus := events.NewBus()
	subscribeLogging(bus, logger)

	pollInterval, _ := cfg.PollInterval()
	syncInterval, _ := cfg.SyncInterval()

	ops, err := certops.New(certops.Config{
		Store:        store,
		Validator:    trustchain.New(dev.RootVerifyKey, logger),
		Client:       client,
		Bus:          bus,
		Clock:        clock.Real(),
		Logger:       logger,
		SelfUser:     dev.UserID,
		SelfDevice:   dev.DeviceID,
		PollInterval: pollInterval,
	})
	if err != nil {
		return err
	}

	// Catch up on certificates before the workspaces start. Being
	// offline at startup is fine; the monitor keeps retrying.
	if _, err := ops.PollServerForNewCertificates(ctx, nil); err != nil {
		if !errors.Is(err, transport.ErrOffline) {
			return fmt.Errorf("initial certificate poll: %w", err)
		}
		logger.Warn("server unreachable at startup, continuing offline")
	}

	var engines []*workspace.Engine
	var storages []*workspace.Storage
	defer func() {
		for _, storage := range storages {
			storage.Close()
		}
	}()
	for _, ws := range cfg.Workspaces {
		realm, name := ws.RealmID(), ws.Name
		storage, err := workspace.OpenStorage(workspace.StorageConfig{
			Path:   cfg.WorkspacePath(realm),
			Key:    dev.LocalKey,
			Logger: logger,
		})
		if err != nil {
			return fmt.Errorf("workspace %s: %w", name, err)
		}
		storages = append(storages, storage)

		engine, err := workspace.New(workspace.Config{
			Realm:        realm,
			Storage:      storage,
			Ops:          ops,
			Client:       client,
			Bus:          bus,
			Clock:        clock.Real(),
			Logger:       logger.With("workspace", name),
			Device:       dev,
			SyncInterval: syncInterval,
		})
		if err != nil {
			return fmt.Errorf("workspace %s: %w", name, err)
		}
		engines = append(engines, engine)

		// Bootstrap is idempotent: it skips every step the realm has
		// already completed, so running it on each startup is safe.
		if err := engine.Bootstrap(ctx, name); err != nil {
			if !errors.Is(err, transport.ErrOffline) {
				return fmt.Errorf("bootstrapping workspace %s: %w", name, err)
			}
			logger.Warn("workspace bootstrap deferred, server unreachable", "workspace", name)
		}
	}

	monitorDone := make(chan error, 1)
	go func() {
		monitorDone <- ops.RunMonitor(ctx)
	}()

	var engineGroup sync.WaitGroup
	for _, engine := range engines {
		engine := engine
		engineGroup.Add(1)
		go func() {
			defer engineGroup.Done()
			if err := engine.Run(ctx); err != nil {
				logger.Error("workspace engine stopped", "realm", engine.Realm(), "error", err)
			}
		}()
	}

	logger.Info("parsec daemon running",
		"device", dev.DeviceID,
		"user", dev.UserID,
		"server", cfg.Server.URL,
		"workspaces", len(engines),
		"poll_interval", pollInterval,
		"sync_interval", syncInterval,
	)

	// Wait for shutdown signal.
	<-ctx.Done()
	logger.Info("shutting down")

	ops.Stop()
	engineGroup.Wait()
	if err := <-monitorDone; err != nil {
		logger.Error("certificate monitor error", "error", err)
	}

	return nil
}

// subscribeLogging routes bus events into the daemon log. The bus is
// the API surface for host applications; the daemon is its own host,
// so everything noteworthy lands in the log.
func subscribeLogging(bus *events.Bus, logger *slog.Logger) {
	events.On(bus, func(e events.EventInvalidCertificate) {
		logger.Error("server provided an invalid certificate", "error", e.Error)
	})
	events.On(bus, func(e events.EventTimestampOutOfBallpark) {
		logger.Error("local clock out of sync with server",
			"client_timestamp", e.ClientTimestamp,
			"server_timestamp", e.ServerTimestamp,
		)
	})
	events.On(bus, func(e events.EventWorkspaceBootstrapped) {
		logger.Info("workspace bootstrapped", "realm", e.Realm)
	})
	events.On(bus, func(e events.EventEntryConflictResolved) {
		logger.Info("concurrent edit resolved as conflict copy",
			"realm", e.Realm, "entry", e.Entry, "copied_as", e.CopiedAs)
	})
	events.On(bus, func(events.EventOffline) {
		logger.Debug("server round-trip failed, offline")
	})
}
