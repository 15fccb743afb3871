// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

/*
Package sync orchestrates the online synchronization of feature flags.

The Manager combines the polling subsystem (internal/polling) and the
push subsystem (internal/push): streaming keeps the local copy fresh in
real time and polling takes over whenever streaming is down.

Key Components:

  - Manager: lifecycle of polling, push and background submitters
  - SharedSync: per-key view for additional user keys of a client-side engine
  - NewServerSide / NewClientSide: wire a complete engine from a
    control-plane client, storage and readiness manager

Mode Switching:

	push UP   -> stop polling, run one SyncAll to catch up
	push DOWN -> start polling (no-op when already polling)

Modes:

  - Streaming enabled: SyncAll on first start, then push; polling only
    while push is down
  - Streaming disabled: polling only
  - Sync disabled: a single SyncAll on first start, nothing afterwards

Usage Example:

	import (
	    "context"
	    "github.com/tomtom215/splitsync/internal/sync"
	)

	m := sync.NewServerSide(cfg, client, store, rd)
	m.Start(ctx)
	defer m.Stop()

	if err := rd.Status().Ready(ctx); err != nil {
	    // timed out or destroyed
	}

Thread Safety:

All Manager methods are safe for concurrent use. Push listeners run on the
push goroutines and never hold the Manager lock while calling into the
polling subsystem.
*/
package sync
