// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

/*
Package localhost implements offline ("localhost") mode: the split set is
read from a local YAML file instead of the control plane.

Key Components:
  - ParseFile: reads the flag file through koanf
  - BuildSplits: turns file entries into ACTIVE splits
  - Manager: loads the file into storage, signals readiness and reloads it
    every RefreshRate

Readiness:

The first successful load emits splits-arrived and segments-arrived, making
the client ready. Later reloads emit splits-arrived only when the split set
actually changed, which the readiness manager reports as an update. A load
failure keeps the previous split set.

Usage Example:

	m := localhost.NewManager(localhost.Config{
	    SplitFile:   "splits.yaml",
	    RefreshRate: 15 * time.Second,
	}, store, rd)
	m.Start(ctx)
	defer m.Stop()

Thread Safety:

All methods are safe for concurrent use. Reloads are serialized by the
underlying sync task.
*/
package localhost

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/tomtom215/splitsync/internal/logging"
	"github.com/tomtom215/splitsync/internal/models"
	"github.com/tomtom215/splitsync/internal/polling"
	"github.com/tomtom215/splitsync/internal/readiness"
	"github.com/tomtom215/splitsync/internal/storage"
)

// Config configures offline mode.
type Config struct {
	// SplitFile is the YAML flag file.
	SplitFile string

	// RefreshRate is the reload period. Zero loads the file once.
	RefreshRate time.Duration
}

// Manager keeps storage in sync with a local flag file.
type Manager struct {
	cfg   Config
	store *storage.Storage
	rd    *readiness.Manager
	task  *polling.SyncTask
	now   func() time.Time

	mu     sync.Mutex
	loaded bool
	shared map[string]*SharedSync
}

// NewManager creates a stopped offline manager writing into store and
// signalling rd.
func NewManager(cfg Config, store *storage.Storage, rd *readiness.Manager) *Manager {
	m := &Manager{
		cfg:    cfg,
		store:  store,
		rd:     rd,
		now:    time.Now,
		shared: make(map[string]*SharedSync),
	}
	m.task = polling.NewSyncTask("localhost", cfg.RefreshRate, m.load)
	return m
}

// Start loads the flag file and schedules reloads. Starting a running
// manager has no effect.
func (m *Manager) Start(ctx context.Context) {
	m.task.Start(ctx)
}

// Stop cancels reloads.
func (m *Manager) Stop() {
	m.task.Stop()
}

// IsRunning reports whether the manager is started.
func (m *Manager) IsRunning() bool {
	return m.task.IsRunning()
}

// Flush has nothing to submit in offline mode.
func (m *Manager) Flush(context.Context) error {
	return nil
}

// Reload reads the flag file immediately. It reports whether the file
// could be loaded.
func (m *Manager) Reload(ctx context.Context) bool {
	return m.task.Execute(ctx)
}

// load reads the file and applies the differences to storage.
func (m *Manager) load(context.Context) bool {
	features, err := ParseFile(m.cfg.SplitFile)
	if err != nil {
		logging.Error().
			Str("component", "localhost").
			Str("file", m.cfg.SplitFile).
			Err(err).
			Msg("Failed to load split file")
		return false
	}

	changeNumber := m.now().UnixMilli()
	if current := m.store.Splits.ChangeNumber(); changeNumber <= current {
		changeNumber = current + 1
	}
	splits := BuildSplits(features, changeNumber)
	added, removed := diff(m.store.Splits.All(), splits)

	m.mu.Lock()
	first := !m.loaded
	m.loaded = true
	var shared []*SharedSync
	if first {
		for _, s := range m.shared {
			shared = append(shared, s)
		}
	}
	m.mu.Unlock()

	if !first && len(added) == 0 && len(removed) == 0 {
		logging.Trace().Str("component", "localhost").Msg("Split file unchanged")
		return true
	}

	m.store.Splits.Update(added, removed, changeNumber)
	logging.Info().
		Str("component", "localhost").
		Int("splits", len(splits)).
		Int("updated", len(added)).
		Int("removed", len(removed)).
		Msg("Loaded split file")

	names := make([]string, 0, len(added)+len(removed))
	for i := range added {
		names = append(names, added[i].Name)
	}
	for i := range removed {
		names = append(names, removed[i].Name)
	}
	m.rd.Splits().SplitsArrived(false, names...)
	if first {
		m.rd.Segments().SegmentsArrived()
		for _, s := range shared {
			s.rd.Segments().SegmentsArrived()
		}
	}
	return true
}

// diff returns the splits of next that are new or differ from current, and
// the splits of current missing from next. Change numbers are ignored.
func diff(current, next []models.Split) (added, removed []models.Split) {
	byName := make(map[string]models.Split, len(current))
	for i := range current {
		byName[current[i].Name] = current[i]
	}

	for i := range next {
		old, ok := byName[next[i].Name]
		delete(byName, next[i].Name)
		if ok {
			old.ChangeNumber = next[i].ChangeNumber
			if reflect.DeepEqual(old, next[i]) {
				continue
			}
		}
		added = append(added, next[i])
	}
	for _, split := range byName {
		removed = append(removed, split)
	}
	return added, removed
}

// SharedSync is the offline counterpart of a shared client: keys have no
// memberships, so it only has to report segments-arrived.
type SharedSync struct {
	m   *Manager
	key string
	rd  *readiness.Manager
}

// Shared registers another key with its own readiness manager.
func (m *Manager) Shared(key string, rd *readiness.Manager) *SharedSync {
	s := &SharedSync{m: m, key: key, rd: rd}

	m.mu.Lock()
	m.shared[key] = s
	loaded := m.loaded
	m.mu.Unlock()

	if loaded {
		rd.Segments().SegmentsArrived()
	}
	return s
}

// Start is a no-op: the shared split set is loaded by the main manager.
func (s *SharedSync) Start(context.Context) {}

// Stop unregisters the key.
func (s *SharedSync) Stop() {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.m.shared[s.key] == s {
		delete(s.m.shared, s.key)
	}
}

// IsRunning reports whether the main manager is started.
func (s *SharedSync) IsRunning() bool {
	return s.m.IsRunning()
}

// Flush has nothing to submit in offline mode.
func (s *SharedSync) Flush(context.Context) error {
	return nil
}
