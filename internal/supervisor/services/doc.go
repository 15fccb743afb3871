// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

/*
Package services provides suture.Service wrappers for splitsync components.

Each wrapper translates a component lifecycle (Start/Stop, ListenAndServe,
periodic maintenance) into suture's context-aware Serve pattern:

	type Service interface {
	    Serve(ctx context.Context) error
	}

# Available Services

EngineService:
  - Wraps a synchronization engine (sync.Manager, localhost.Manager or a
    shared-key engine) with its Start/Stop lifecycle
  - Flushes submitters before stopping, bounded by a flush timeout

HTTPServerService:
  - Wraps *http.Server with graceful shutdown
  - Converts the blocking ListenAndServe pattern to Serve

BadgerGCService:
  - Periodically reclaims BadgerDB value log space of the split snapshot

# Usage Example

	tree.AddSyncService(services.NewEngineService("sync-engine", engine, 5*time.Second))
	tree.AddSyncService(services.NewBadgerGCService(db, 10*time.Minute))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))

# Thread Safety

Every wrapper is driven by a single Serve call at a time; suture never runs
the same service concurrently.
*/
package services
