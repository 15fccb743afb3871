// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package sync

import (
	"context"

	"github.com/tomtom215/splitsync/internal/logging"
	"github.com/tomtom215/splitsync/internal/polling"
	"github.com/tomtom215/splitsync/internal/readiness"
	"github.com/tomtom215/splitsync/internal/storage"
)

// SharedSync synchronizes the memberships of an additional user key. Flags
// and segments are synchronized by the owning Manager.
type SharedSync struct {
	m     *Manager
	key   string
	task  *polling.MembershipsSync
	store *storage.Storage
}

// Shared registers key on a client-side Manager. When the Manager is
// running the key starts synchronizing right away.
func (m *Manager) Shared(key string, rd *readiness.Manager, store *storage.Storage) (*SharedSync, error) {
	cp, ok := m.polling.(ClientPolling)
	if !ok {
		return nil, ErrNotClientSide
	}

	task := cp.Add(key, rd, store)
	if m.cfg.SyncEnabled {
		if pu, ok := m.push.(ClientPush); ok {
			pu.Add(key, task, store)
		}
	}

	s := &SharedSync{m: m, key: key, task: task, store: store}
	if ctx, running := m.runContext(); running {
		s.Start(ctx)
	}

	logging.Debug().Str("component", "sync").Str("key", logging.RedactKey(key)).Msg("Shared client registered")
	return s, nil
}

// Start synchronizes the key according to the mode of the Manager:
// periodic memberships polling while polling is active and flags use
// segments, a single fetch otherwise.
func (s *SharedSync) Start(ctx context.Context) {
	switch {
	case !s.m.cfg.SyncEnabled:
		go s.task.Execute(ctx)
	case s.m.push != nil && !s.m.polling.IsRunning():
		go s.task.Execute(ctx)
	case s.store.Splits.UsesSegments():
		s.task.Start(ctx)
	}
}

// Stop unregisters the key.
func (s *SharedSync) Stop() {
	cp := s.m.polling.(ClientPolling)
	if _, ok := cp.Get(s.key); !ok {
		return
	}
	if pu, ok := s.m.push.(ClientPush); ok {
		pu.Remove(s.key)
	}
	if s.task.IsRunning() {
		s.task.Stop()
	}
	cp.Remove(s.key)
}

// IsRunning reports whether the memberships of the key are polled.
func (s *SharedSync) IsRunning() bool {
	return s.task.IsRunning()
}

// Flush is a no-op: submitters are flushed by the owning Manager.
func (s *SharedSync) Flush(context.Context) error {
	return nil
}
