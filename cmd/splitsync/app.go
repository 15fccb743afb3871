// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tomtom215/splitsync/internal/api"
	"github.com/tomtom215/splitsync/internal/config"
	"github.com/tomtom215/splitsync/internal/controlplane"
	"github.com/tomtom215/splitsync/internal/localhost"
	"github.com/tomtom215/splitsync/internal/logging"
	"github.com/tomtom215/splitsync/internal/readiness"
	"github.com/tomtom215/splitsync/internal/storage"
	"github.com/tomtom215/splitsync/internal/supervisor"
	"github.com/tomtom215/splitsync/internal/supervisor/services"
	syncmgr "github.com/tomtom215/splitsync/internal/sync"
)

// engineFlushTimeout bounds the submitter flush on shutdown.
const engineFlushTimeout = 5 * time.Second

// badgerGCInterval is the value log GC period of the split snapshot.
const badgerGCInterval = 10 * time.Minute

// app holds the wired daemon.
type app struct {
	cfg    *config.Config
	store  *storage.Storage
	rd     *readiness.Manager
	shared []*readiness.Manager
	tree   *supervisor.SupervisorTree
	router http.Handler

	closers []func() error
}

// newApp wires storage, readiness, the engine of the configured mode and
// the status server into a supervisor tree. Nothing runs until Run.
func newApp(cfg *config.Config, sdkVersion string) (*app, error) {
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create supervisor tree: %w", err)
	}

	a := &app{
		cfg:  cfg,
		tree: tree,
		rd:   readiness.NewManager(cfg.Startup.ReadyTimeout),
	}

	if err := a.initStorage(); err != nil {
		return nil, err
	}
	logReadiness(a.rd, cfg.Core.Key)

	var mode func() string
	if cfg.IsLocalhost() {
		mode = a.initLocalhost()
	} else if mode, err = a.initEngine(sdkVersion); err != nil {
		a.Close()
		return nil, err
	}

	a.router = api.NewRouter(api.NewHandler(api.HandlerConfig{
		Status:  a.rd.Status(),
		Splits:  a.store.Splits,
		Mode:    mode,
		Version: sdkVersion,
	}), a.middlewareConfig())

	if cfg.Server.Enabled {
		server := &http.Server{
			Addr:              cfg.Server.Address,
			Handler:           a.router,
			ReadTimeout:       cfg.Server.ReadTimeout,
			ReadHeaderTimeout: cfg.Server.ReadTimeout,
			WriteTimeout:      cfg.Server.WriteTimeout,
		}
		tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
		logging.Info().Str("address", cfg.Server.Address).Msg("Status server enabled")
	}

	return a, nil
}

// initStorage opens the BadgerDB split snapshot when a storage path is set.
// Localhost mode always starts from the flag file.
func (a *app) initStorage() error {
	a.store = storage.NewMemory()
	if a.cfg.Storage.Path == "" || a.cfg.IsLocalhost() {
		return nil
	}

	db, err := storage.OpenBadger(a.cfg.Storage.Path)
	if err != nil {
		return err
	}
	splits, err := storage.NewBadgerSplits(db)
	if err != nil {
		_ = db.Close() //nolint:errcheck // already failing
		return fmt.Errorf("failed to restore split snapshot: %w", err)
	}

	a.store.Splits = splits
	a.closers = append(a.closers, db.Close)
	a.tree.AddSyncService(services.NewBadgerGCService(db, badgerGCInterval))

	logging.Info().
		Str("path", a.cfg.Storage.Path).
		Bool("loaded_from_cache", splits.LoadedFromCache()).
		Msg("Split snapshot opened")
	return nil
}

func (a *app) initLocalhost() func() string {
	m := localhost.NewManager(a.cfg.LocalhostSync(), a.store, a.rd)
	a.tree.AddSyncService(services.NewEngineService("sync-engine", m, engineFlushTimeout))

	for i, key := range a.cfg.Core.SharedKeys {
		srd := a.sharedReadiness(key)
		a.tree.AddSyncService(services.NewEngineService(sharedName(i), m.Shared(key, srd), engineFlushTimeout))
	}

	logging.Info().Str("split_file", a.cfg.Localhost.SplitFile).Msg("Localhost mode enabled")
	return func() string { return config.ModeLocalhost }
}

func (a *app) initEngine(sdkVersion string) (func() string, error) {
	client := controlplane.NewClient(a.cfg.ControlPlane(sdkVersion))
	engineCfg := a.cfg.Engine(sdkVersion)

	var m *syncmgr.Manager
	if a.cfg.IsClientSide() {
		m = syncmgr.NewClientSide(engineCfg, client, a.cfg.Core.Key, a.store, a.rd)
	} else {
		m = syncmgr.NewServerSide(engineCfg, client, a.store, a.rd)
	}
	a.tree.AddSyncService(services.NewEngineService("sync-engine", m, engineFlushTimeout))

	for i, key := range a.cfg.Core.SharedKeys {
		s, err := m.Shared(key, a.sharedReadiness(key), a.store.Shared())
		if err != nil {
			return nil, fmt.Errorf("failed to register shared key: %w", err)
		}
		a.tree.AddSyncService(services.NewEngineService(sharedName(i), s, engineFlushTimeout))
	}

	return func() string { return string(m.Mode()) }, nil
}

func (a *app) sharedReadiness(key string) *readiness.Manager {
	srd := a.rd.Shared(a.cfg.Startup.ReadyTimeout)
	a.shared = append(a.shared, srd)
	logReadiness(srd, key)
	return srd
}

func (a *app) middlewareConfig() *api.ChiMiddlewareConfig {
	mw := api.DefaultChiMiddlewareConfig()
	mw.CORSAllowedOrigins = a.cfg.Server.CORSOrigins
	mw.RateLimitRequests = a.cfg.Server.RateLimit
	mw.RateLimitDisabled = a.cfg.Server.RateLimit == 0
	return mw
}

// Run starts the ready timeouts and serves the supervisor tree until ctx
// is canceled.
func (a *app) Run(ctx context.Context) error {
	a.rd.Init()
	for _, srd := range a.shared {
		srd.Init()
	}
	return a.tree.Serve(ctx)
}

// Close destroys the readiness managers and closes storage. It is called
// once the tree has stopped.
func (a *app) Close() {
	for _, srd := range a.shared {
		srd.Destroy()
	}
	a.rd.Destroy()

	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			logging.Error().Err(err).Msg("Error closing storage")
		}
	}
	a.closers = nil
}

func sharedName(i int) string {
	return fmt.Sprintf("shared-%d", i+1)
}

// logReadiness logs the readiness transitions of one key.
func logReadiness(rd *readiness.Manager, key string) {
	redacted := logging.RedactKey(key)
	rd.On(readiness.SDKReadyFromCache, func(readiness.UpdateMetadata) {
		logging.Info().Str("component", "readiness").Str("key", redacted).Msg("Ready from cache")
	})
	rd.On(readiness.SDKReady, func(readiness.UpdateMetadata) {
		logging.Info().Str("component", "readiness").Str("key", redacted).Msg("Flag set ready")
	})
	rd.On(readiness.SDKReadyTimedOut, func(readiness.UpdateMetadata) {
		logging.Warn().Str("component", "readiness").Str("key", redacted).Msg("Flag set not ready within the ready timeout")
	})
	rd.On(readiness.SDKUpdate, func(meta readiness.UpdateMetadata) {
		logging.Debug().Str("component", "readiness").Str("key", redacted).Str("type", string(meta.Type)).Strs("names", meta.Names).Msg("Flag set updated")
	})
}
