// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"splitsync.yaml",
	"splitsync.yml",
	"/etc/splitsync/splitsync.yaml",
	"/etc/splitsync/splitsync.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "SPLITSYNC_CONFIG"

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "SPLITSYNC_"

// defaultConfig returns a Config struct with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Core: CoreConfig{
			Mode: ModeServer,
		},
		URLs: URLsConfig{
			SDK:       "https://sdk.split.io/api",
			Auth:      "https://auth.split.io/api",
			Streaming: "https://streaming.split.io",
		},
		Scheduler: SchedulerConfig{
			FeaturesRefreshRate:  60 * time.Second,
			SegmentsRefreshRate:  60 * time.Second,
			OfflineRefreshRate:   15 * time.Second,
			PushRetryBackoffBase: time.Second,
			SegmentsConcurrency:  10,
			RequestTimeout:       30 * time.Second,
			RequestsPerSecond:    0, // Unlimited
			Burst:                10,
		},
		Startup: StartupConfig{
			ReadyTimeout:                10 * time.Second,
			RequestTimeoutBeforeReady:   5 * time.Second,
			RetriesOnFailureBeforeReady: 1,
		},
		Sync: SyncConfig{
			Enabled: true,
		},
		Streaming: StreamingConfig{
			Enabled:            true,
			TokenRefreshMargin: 10 * time.Minute,
		},
		Server: ServerConfig{
			Enabled:         true,
			Address:         ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: Built-in sensible defaults
//  2. Config File: path, or the first of SPLITSYNC_CONFIG and DefaultConfigPaths that exists
//  3. Environment Variables: Override any setting
//
// An explicit path must exist; the searched locations are optional.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	// SPLITSYNC_SCHEDULER_FEATURES_REFRESH_RATE -> scheduler.features_refresh_rate
	// Empty variables are treated as unset.
	transform := envTransformFunc(k.Keys())
	envProvider := env.ProviderWithValue("", ".", func(key, value string) (string, interface{}) {
		if value == "" {
			return "", nil
		}
		return transform(key), value
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Post-process slice fields from comma-separated strings
	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	// Check environment variable first
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	// Search default paths
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices
var sliceConfigPaths = []string{
	"core.shared_keys",
	"sync.flag_sets",
	"sync.flag_names",
	"server.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
// This is necessary because env vars come in as strings, but the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			// unset, or already a slice from the YAML file
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// legacyEnvMappings maps unprefixed environment variables kept for
// compatibility with other SDK deployments.
var legacyEnvMappings = map[string]string{
	"split_sdk_key": "core.sdk_key",
	"log_level":     "logging.level",
}

// envTransformFunc returns a transform from environment variable names to
// koanf paths. Only variables naming a known path are loaded:
//
//   - SPLITSYNC_CORE_SDK_KEY -> core.sdk_key
//   - SPLITSYNC_SYNC_FLAG_SETS -> sync.flag_sets
//   - SPLIT_SDK_KEY -> core.sdk_key
//
// Unknown variables map to the empty string and are skipped, which keeps
// unrelated environment from polluting config.
func envTransformFunc(known []string) func(string) string {
	paths := make(map[string]string, len(known))
	for _, path := range known {
		paths[strings.ReplaceAll(path, ".", "_")] = path
	}
	for _, path := range sliceConfigPaths {
		paths[strings.ReplaceAll(path, ".", "_")] = path
	}

	return func(key string) string {
		key = strings.ToLower(key)
		if rest, ok := strings.CutPrefix(key, strings.ToLower(EnvPrefix)); ok {
			return paths[rest]
		}
		return legacyEnvMappings[key]
	}
}
