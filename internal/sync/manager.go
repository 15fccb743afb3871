// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package sync

import (
	"context"
	"errors"
	"sync"

	"github.com/tomtom215/splitsync/internal/logging"
	"github.com/tomtom215/splitsync/internal/metrics"
	"github.com/tomtom215/splitsync/internal/polling"
	"github.com/tomtom215/splitsync/internal/push"
	"github.com/tomtom215/splitsync/internal/readiness"
	"github.com/tomtom215/splitsync/internal/storage"
)

// Mode is the active synchronization mode.
type Mode string

// Sync modes
const (
	ModeStopped   Mode = "stopped"
	ModePolling   Mode = "polling"
	ModeStreaming Mode = "streaming"
)

// PollingManager is the polling subsystem.
type PollingManager interface {
	Start(ctx context.Context)
	Stop()
	IsRunning() bool
	SyncAll(ctx context.Context) bool
}

// PushManager is the push subsystem.
type PushManager interface {
	Start(ctx context.Context)
	Stop()
	On(event push.Event, fn func()) func()
}

// Submitter is a background uploader (impressions, events, telemetry)
// whose lifecycle follows the Manager.
type Submitter interface {
	Start(ctx context.Context)
	Stop()
	Flush(ctx context.Context) error
}

// ClientPolling is the polling subsystem of a client-side engine.
type ClientPolling interface {
	PollingManager
	Add(key string, rd *readiness.Manager, store *storage.Storage) *polling.MembershipsSync
	Remove(key string)
	Get(key string) (*polling.MembershipsSync, bool)
}

// ClientPush is the push subsystem of a client-side engine.
type ClientPush interface {
	PushManager
	Add(key string, ms push.MembershipsSync, store *storage.Storage)
	Remove(key string)
}

// ErrNotClientSide is returned by Shared on a server-side Manager.
var ErrNotClientSide = errors.New("sync: shared clients require a client-side engine")

// Config selects the synchronization modes.
type Config struct {
	// SyncEnabled false performs a single SyncAll on first start.
	SyncEnabled bool

	// StreamingEnabled false polls only.
	StreamingEnabled bool
}

// Manager runs the online synchronization.
type Manager struct {
	cfg        Config
	polling    PollingManager
	push       PushManager
	store      *storage.Storage
	readiness  *readiness.Manager
	submitters []Submitter

	removeListeners []func()

	mu             sync.Mutex
	ctx            context.Context
	cancel         context.CancelFunc
	running        bool
	startFirstTime bool
	mode           Mode
}

// NewManager creates a stopped Manager. push may be nil; it is ignored when
// streaming is disabled.
func NewManager(cfg Config, pm PollingManager, pu PushManager, store *storage.Storage, rd *readiness.Manager, submitters ...Submitter) *Manager {
	m := &Manager{
		cfg:            cfg,
		polling:        pm,
		store:          store,
		readiness:      rd,
		submitters:     submitters,
		startFirstTime: true,
		mode:           ModeStopped,
	}
	if cfg.StreamingEnabled && pu != nil {
		m.push = pu
		m.removeListeners = []func(){
			pu.On(push.SubsystemUp, m.stopPollingAndSyncAll),
			pu.On(push.SubsystemDown, m.startPolling),
		}
	}

	logging.Info().
		Str("component", "sync").
		Bool("sync_enabled", cfg.SyncEnabled).
		Bool("streaming_enabled", m.push != nil).
		Int("submitters", len(submitters)).
		Msg("Sync manager config loaded")

	return m
}

// Start begins synchronization. It is a no-op while running.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.ctx = runCtx
	m.cancel = cancel
	m.running = true
	first := m.startFirstTime
	m.startFirstTime = false
	m.mu.Unlock()

	logging.Info().Str("component", "sync").Bool("first_start", first).Msg("Starting sync manager...")

	if first && m.store.LoadedFromCache() {
		m.readiness.Splits().SplitsCacheLoaded()
	}

	switch {
	case !m.cfg.SyncEnabled:
		if first {
			go m.polling.SyncAll(runCtx)
		}
	case m.push != nil:
		// polling starts on the first DOWN
		if first {
			go m.polling.SyncAll(runCtx)
		}
		m.push.Start(runCtx)
	default:
		m.setMode(ModePolling)
		m.polling.Start(runCtx)
	}

	for _, s := range m.submitters {
		s.Start(runCtx)
	}
}

// Stop stops push, polling and every submitter.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	if m.push != nil {
		m.push.Stop()
	}
	if m.polling.IsRunning() {
		m.polling.Stop()
	}
	for _, s := range m.submitters {
		s.Stop()
	}
	cancel()
	m.setMode(ModeStopped)

	logging.Info().Str("component", "sync").Msg("Sync manager stopped")
}

// Close stops the Manager and detaches it from the push subsystem.
func (m *Manager) Close() {
	m.Stop()
	for _, remove := range m.removeListeners {
		remove()
	}
}

// IsRunning reports whether the Manager is started.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Mode returns the active synchronization mode.
func (m *Manager) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// Flush flushes every submitter.
func (m *Manager) Flush(ctx context.Context) error {
	var errs []error
	for _, s := range m.submitters {
		if err := s.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) setMode(mode Mode) {
	m.mu.Lock()
	m.mode = mode
	m.mu.Unlock()

	switch mode {
	case ModePolling:
		metrics.SetSyncMode(metrics.ModePolling)
	case ModeStreaming:
		metrics.SetSyncMode(metrics.ModeStreaming)
	default:
		metrics.SetSyncMode(metrics.ModeStopped)
	}
}

func (m *Manager) runContext() (context.Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx, m.running
}

// stopPollingAndSyncAll runs when streaming comes up.
func (m *Manager) stopPollingAndSyncAll() {
	ctx, running := m.runContext()
	if !running {
		return
	}
	logging.Info().Str("component", "sync").Msg("Streaming up, stopping polling")

	m.setMode(ModeStreaming)
	if m.polling.IsRunning() {
		m.polling.Stop()
	}
	// catch up with changes missed while switching
	go m.polling.SyncAll(ctx)
}

// startPolling runs when streaming goes down.
func (m *Manager) startPolling() {
	ctx, running := m.runContext()
	if !running {
		return
	}

	m.setMode(ModePolling)
	if m.polling.IsRunning() {
		logging.Debug().Str("component", "sync").Msg("Streaming down, polling already running")
		return
	}
	logging.Info().Str("component", "sync").Msg("Streaming down, starting polling")
	m.polling.Start(ctx)
}
