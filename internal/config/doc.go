// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

/*
Package config provides centralized configuration management for the
splitsync daemon.

# Configuration Sources

Configuration is layered with Koanf v2, later sources overriding earlier ones:

  - Built-in defaults (defaultConfig)
  - A YAML file: the path given to Load, else SPLITSYNC_CONFIG, else the
    first of DefaultConfigPaths that exists
  - Environment variables

# Configuration Structure

  - CoreConfig: engine mode, SDK key and user keys
  - URLsConfig: SDK, auth and streaming endpoints
  - SchedulerConfig: polling periods, request timeout and rate limit
  - StartupConfig: readiness timeout and pre-ready retries
  - SyncConfig: sync on/off, flag set and flag name filters
  - StreamingConfig: push on/off and token refresh margin
  - StorageConfig: optional BadgerDB directory for the split snapshot
  - LocalhostConfig: flag file of localhost mode
  - ServerConfig: status HTTP server
  - LoggingConfig: level, format and caller

# Environment Variables

Every setting can be overridden with SPLITSYNC_ followed by its upper-cased
path with dots replaced by underscores:

  - SPLITSYNC_CORE_MODE: server, client or localhost (default: server)
  - SPLITSYNC_CORE_SDK_KEY: SDK key (required unless localhost)
  - SPLITSYNC_CORE_KEY: main user key (required in client mode)
  - SPLITSYNC_CORE_SHARED_KEYS: comma-separated additional user keys
  - SPLITSYNC_SCHEDULER_FEATURES_REFRESH_RATE: splits polling period (default: 60s)
  - SPLITSYNC_SCHEDULER_SEGMENTS_REFRESH_RATE: segments polling period (default: 60s)
  - SPLITSYNC_SYNC_ENABLED: false synchronizes once at startup (default: true)
  - SPLITSYNC_SYNC_FLAG_SETS: comma-separated flag sets
  - SPLITSYNC_STREAMING_ENABLED: false polls only (default: true)
  - SPLITSYNC_STORAGE_PATH: BadgerDB directory (default: memory only)
  - SPLITSYNC_SERVER_ADDRESS: status server address (default: :8080)
  - SPLITSYNC_LOGGING_LEVEL: log level (default: info)

SPLIT_SDK_KEY and LOG_LEVEL are accepted as aliases.

# Usage Example

	cfg, err := config.Load(*configPath)
	if err != nil {
	    log.Fatalf("Failed to load config: %v", err)
	}
	logging.Init(cfg.LoggingConfig())

	client := controlplane.NewClient(cfg.ControlPlane(version))
	engine := sync.NewServerSide(cfg.Engine(version), client, store, rd)

Example YAML file:

	core:
	  mode: client
	  sdk_key: your-sdk-key
	  key: user-1
	scheduler:
	  features_refresh_rate: 30s
	sync:
	  flag_sets: [backend, checkout]

# Validation

Struct tags are checked through the validation package (URLs, durations,
enumerations, log level). Cross-field rules follow: an SDK key outside
localhost mode, a main key in client mode, a readable split file in
localhost mode, and shared keys only where keys exist. Flag set names are
lowercased, deduplicated and sorted; invalid names are dropped with a
warning, and flag names are ignored when flag sets are configured.

# Thread Safety

The Config struct is immutable after Load() returns, making it safe for concurrent
access from multiple goroutines without synchronization.
*/
package config
