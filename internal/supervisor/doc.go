// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

/*
Package supervisor provides process supervision for splitsync using suture v4.

Every long-running component of the daemon runs as a suture.Service in a
small supervisor tree, giving automatic restart with backoff, failure
isolation between layers and ordered graceful shutdown.

# Overview

	RootSupervisor ("splitsync")
	├── SyncSupervisor ("sync-layer")
	│   ├── EngineService ("sync-engine"): sync.Manager or localhost.Manager
	│   ├── EngineService ("shared-<key>"): one per shared key
	│   └── BadgerGCService (when storage.path is set)
	└── APISupervisor ("api-layer")
	    └── HTTPServerService (when server.enabled)

# Usage Example

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
	    return err
	}

	tree.AddSyncService(services.NewEngineService("sync-engine", engine, 5*time.Second))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	// Blocks until ctx is canceled (SIGINT/SIGTERM in main).
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
	    logging.Error().Err(err).Msg("Supervisor stopped")
	}

# Failure Handling

suture counts failures with exponential decay (FailureDecay seconds). Once
the count exceeds FailureThreshold, restarts wait FailureBackoff. The sync
engines recover from network failures internally, so a restart of the sync
layer only follows a panic or a returned error.

# Logging

Supervisor events (service start, failure, restart, backoff) go through
sutureslog to an slog.Logger. main passes logging.NewSlogLogger(), which
forwards to the global zerolog logger.

# Debugging Shutdown Issues

	report, err := tree.UnstoppedServiceReport()
	for _, svc := range report {
	    logging.Warn().Str("service", svc.Name).Msg("Service did not stop")
	}

# Thread Safety

The SupervisorTree is safe for concurrent use: services can be added and
removed from any goroutine while the tree runs.
*/
package supervisor
