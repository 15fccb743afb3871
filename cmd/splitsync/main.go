// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

// Package main is the entry point of the splitsync daemon.
//
// splitsync keeps a local copy of a feature flag set synchronized with the
// control plane and exposes its readiness over HTTP.
//
// # Application Architecture
//
// The daemon initializes components in the following order:
//
//  1. Configuration: defaults, YAML file and environment (Koanf v2)
//  2. Logging: global zerolog logger
//  3. Storage: in-memory, with an optional BadgerDB split snapshot
//  4. Readiness: one manager per key, ready timeout started
//  5. Engine: server-side, client-side (plus shared keys) or localhost
//  6. Status server: Chi router with /health, /ready, /metrics, /api/v1
//  7. Supervisor tree: runs everything until SIGINT or SIGTERM
//
// # Flags
//
//	--config PATH   configuration file (default: SPLITSYNC_CONFIG, then splitsync.yaml)
//	--version       print the version and exit
//
// # Signal Handling
//
// SIGINT and SIGTERM cancel the supervisor context. Engines flush their
// submitters and stop, the status server drains its connections, and the
// readiness managers are destroyed before the BadgerDB snapshot is closed.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/tomtom215/splitsync/internal/config"
	"github.com/tomtom215/splitsync/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		logging.Error().Err(err).Msg("splitsync exited with error")
		os.Exit(1)
	}
}

func run(args []string) error {
	var configPath string
	var showVersion bool

	flagSet := pflag.NewFlagSet("splitsync", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to the YAML configuration file")
	flagSet.BoolVar(&showVersion, "version", false, "print the version and exit")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Println("splitsync", version)
		return nil
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logging.Init(cfg.LoggingConfig())

	logging.Info().
		Str("version", version).
		Str("mode", cfg.Core.Mode).
		Str("sdk_key", logging.RedactKey(cfg.Core.SDKKey)).
		Bool("sync_enabled", cfg.Sync.Enabled).
		Bool("streaming_enabled", cfg.Streaming.Enabled).
		Strs("flag_sets", cfg.Sync.FlagSets).
		Msg("Configuration loaded")

	a, err := newApp(cfg, version)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Msg("Starting splitsync with supervisor tree")
	err = a.Run(ctx)

	if report, reportErr := a.tree.UnstoppedServiceReport(); reportErr == nil {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop within the shutdown timeout")
		}
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor stopped: %w", err)
	}
	logging.Info().Msg("splitsync stopped")
	return nil
}
