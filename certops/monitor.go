// Copyright 2026 The Parsec Go Authors
// SPDX-License-Identifier: Apache-2.0

package certops

import (
	"context"
	"errors"

	"github.com/parsec-cloud/go-parsec/transport"
)

// RunMonitor polls the server for new certificates once immediately
// and then at the configured interval, until ctx is cancelled or Stop
// is called. Offline polls are logged and retried on the next tick;
// any other failure stops the monitor and is returned.
func (o *Ops) RunMonitor(ctx context.Context) error {
	ticker := o.clock.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := o.PollServerForNewCertificates(ctx, nil); err != nil {
			switch {
			case errors.Is(err, transport.ErrOffline):
				o.logger.Debug("certificate poll skipped, server unreachable")
			case errors.Is(err, ErrStopped), errors.Is(err, context.Canceled):
				return nil
			default:
				return err
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-o.stopped:
			return nil
		case <-ticker.C:
		}
	}
}
