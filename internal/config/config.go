// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package config

import "time"

// Engine modes
const (
	// ModeServer synchronizes every split and segment of the environment.
	ModeServer = "server"

	// ModeClient synchronizes splits plus the memberships of configured keys.
	ModeClient = "client"

	// ModeLocalhost reads splits from a local YAML file.
	ModeLocalhost = "localhost"
)

// Config holds all daemon configuration loaded from defaults, an optional
// YAML file and environment variables.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: Built-in sensible defaults for all optional settings
//  2. Config File: Optional YAML config file (splitsync.yaml)
//  3. Environment Variables: SPLITSYNC_<SECTION>_<KEY> overrides any setting
//
// Example - Load configuration:
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal("Failed to load config:", err)
//	}
//	client := controlplane.NewClient(cfg.ControlPlane(version))
//
// Thread Safety:
// Config is immutable after Load() and safe for concurrent read access from multiple goroutines.
type Config struct {
	Core      CoreConfig      `koanf:"core"`
	URLs      URLsConfig      `koanf:"urls"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Startup   StartupConfig   `koanf:"startup"`
	Sync      SyncConfig      `koanf:"sync"`
	Streaming StreamingConfig `koanf:"streaming"`
	Storage   StorageConfig   `koanf:"storage"`
	Localhost LocalhostConfig `koanf:"localhost"`
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// CoreConfig selects the engine and identifies the environment.
type CoreConfig struct {
	Mode string `koanf:"mode" validate:"oneof=server client localhost"`

	// SDKKey authenticates every control plane request. Not needed in
	// localhost mode.
	SDKKey string `koanf:"sdk_key"`

	// Key is the main user key of a client-side engine.
	Key string `koanf:"key"`

	// SharedKeys are additional user keys synchronized alongside Key.
	SharedKeys []string `koanf:"shared_keys"`
}

// URLsConfig holds the control plane endpoints.
type URLsConfig struct {
	SDK       string `koanf:"sdk" validate:"required,httpurl"`
	Auth      string `koanf:"auth" validate:"required,httpurl"`
	Streaming string `koanf:"streaming" validate:"required,httpurl"`
}

// SchedulerConfig holds polling periods and request limits.
type SchedulerConfig struct {
	FeaturesRefreshRate time.Duration `koanf:"features_refresh_rate" validate:"min=1s"`
	SegmentsRefreshRate time.Duration `koanf:"segments_refresh_rate" validate:"min=1s"`

	// OfflineRefreshRate is the localhost reload period; zero loads once.
	OfflineRefreshRate time.Duration `koanf:"offline_refresh_rate" validate:"gte=0"`

	// PushRetryBackoffBase is the first delay before reconnecting after a
	// retryable streaming error.
	PushRetryBackoffBase time.Duration `koanf:"push_retry_backoff_base" validate:"min=100ms"`

	SegmentsConcurrency int           `koanf:"segments_concurrency" validate:"min=1,max=100"`
	RequestTimeout      time.Duration `koanf:"request_timeout" validate:"min=1s"`

	// RequestsPerSecond of zero disables client-side rate limiting.
	RequestsPerSecond float64 `koanf:"requests_per_second" validate:"gte=0"`
	Burst             int     `koanf:"burst" validate:"gte=0"`
}

// StartupConfig tunes the behavior before the engine is ready.
type StartupConfig struct {
	// ReadyTimeout emits a timed-out event if not ready in time; zero disables it.
	ReadyTimeout                time.Duration `koanf:"ready_timeout" validate:"gte=0"`
	RequestTimeoutBeforeReady   time.Duration `koanf:"request_timeout_before_ready" validate:"gte=0"`
	RetriesOnFailureBeforeReady int           `koanf:"retries_on_failure_before_ready" validate:"gte=0,lte=10"`
}

// SyncConfig controls synchronization and split filtering.
type SyncConfig struct {
	// Enabled false synchronizes once at startup and never again.
	Enabled bool `koanf:"enabled"`

	// FlagSets restricts the split set to these flag sets. It takes
	// precedence over FlagNames.
	FlagSets  []string `koanf:"flag_sets"`
	FlagNames []string `koanf:"flag_names"`
}

// StreamingConfig controls the push subsystem.
type StreamingConfig struct {
	Enabled bool `koanf:"enabled"`

	// TokenRefreshMargin is how long before expiry the streaming token is renewed.
	TokenRefreshMargin time.Duration `koanf:"token_refresh_margin" validate:"gte=0"`
}

// StorageConfig selects the split storage.
type StorageConfig struct {
	// Path of a BadgerDB directory persisting the split set across
	// restarts. Empty keeps everything in memory.
	Path string `koanf:"path"`
}

// LocalhostConfig configures localhost mode.
type LocalhostConfig struct {
	SplitFile string `koanf:"split_file"`
}

// ServerConfig configures the status HTTP server.
type ServerConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Address         string        `koanf:"address" validate:"hostname_port"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"min=1s"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"min=1s"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"min=1s"`

	// RateLimit is the number of requests per minute allowed per client IP;
	// zero disables limiting.
	RateLimit   int      `koanf:"rate_limit" validate:"gte=0"`
	CORSOrigins []string `koanf:"cors_origins"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"loglevel"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// IsLocalhost reports whether the engine reads splits from a local file.
func (c *Config) IsLocalhost() bool {
	return c.Core.Mode == ModeLocalhost
}

// IsClientSide reports whether the engine synchronizes per-key memberships.
func (c *Config) IsClientSide() bool {
	return c.Core.Mode == ModeClient
}
