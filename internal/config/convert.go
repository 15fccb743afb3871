// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package config

import (
	"os"

	"github.com/tomtom215/splitsync/internal/controlplane"
	"github.com/tomtom215/splitsync/internal/localhost"
	"github.com/tomtom215/splitsync/internal/logging"
	"github.com/tomtom215/splitsync/internal/polling"
	"github.com/tomtom215/splitsync/internal/push"
	syncmgr "github.com/tomtom215/splitsync/internal/sync"
)

// ControlPlane returns the control plane client configuration.
func (c *Config) ControlPlane(sdkVersion string) controlplane.Config {
	return controlplane.Config{
		SDKKey:            c.Core.SDKKey,
		SDKVersion:        sdkVersion,
		SDKURL:            c.URLs.SDK,
		AuthURL:           c.URLs.Auth,
		Timeout:           c.Scheduler.RequestTimeout,
		RequestsPerSecond: c.Scheduler.RequestsPerSecond,
		Burst:             c.Scheduler.Burst,
		FlagSets:          c.Sync.FlagSets,
		FlagNames:         c.Sync.FlagNames,
	}
}

// Polling returns the polling managers configuration.
func (c *Config) Polling() polling.Config {
	cfg := polling.DefaultConfig()
	cfg.FeaturesRefreshRate = c.Scheduler.FeaturesRefreshRate
	cfg.SegmentsRefreshRate = c.Scheduler.SegmentsRefreshRate
	cfg.RequestTimeoutBeforeReady = c.Startup.RequestTimeoutBeforeReady
	cfg.RetriesOnFailureBeforeReady = c.Startup.RetriesOnFailureBeforeReady
	cfg.SegmentsConcurrency = c.Scheduler.SegmentsConcurrency
	cfg.FlagSets = c.Sync.FlagSets
	cfg.FlagNames = c.Sync.FlagNames
	return cfg
}

// Push returns the push manager configuration.
func (c *Config) Push(sdkVersion string) push.Config {
	cfg := push.DefaultConfig()
	cfg.StreamingURL = c.URLs.Streaming
	cfg.SDKVersion = sdkVersion
	cfg.RetryBackoffBase = c.Scheduler.PushRetryBackoffBase
	cfg.TokenRefreshMargin = c.Streaming.TokenRefreshMargin
	return cfg
}

// Engine returns the online engine configuration.
func (c *Config) Engine(sdkVersion string) syncmgr.EngineConfig {
	return syncmgr.EngineConfig{
		Sync: syncmgr.Config{
			SyncEnabled:      c.Sync.Enabled,
			StreamingEnabled: c.Sync.Enabled && c.Streaming.Enabled,
		},
		Polling: c.Polling(),
		Push:    c.Push(sdkVersion),
	}
}

// LocalhostSync returns the localhost mode configuration.
func (c *Config) LocalhostSync() localhost.Config {
	return localhost.Config{
		SplitFile:   c.Localhost.SplitFile,
		RefreshRate: c.Scheduler.OfflineRefreshRate,
	}
}

// LoggingConfig returns the logger configuration.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Logging.Level
	cfg.Format = c.Logging.Format
	cfg.Caller = c.Logging.Caller
	cfg.Output = os.Stderr
	return cfg
}
