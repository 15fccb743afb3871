// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package polling

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/splitsync/internal/logging"
	"github.com/tomtom215/splitsync/internal/readiness"
	"github.com/tomtom215/splitsync/internal/storage"
)

// MembershipsSync is the memberships task of one key together with its
// updater, so that streaming workers can apply targeted updates.
type MembershipsSync struct {
	*SyncTask
	key     string
	updater *MembershipsUpdater

	removeSmartReady func()
}

// Key returns the user key.
func (s *MembershipsSync) Key() string { return s.key }

// Update runs the updater with a delta or a targeted fetch.
func (s *MembershipsSync) Update(ctx context.Context, data *MembershipsData, noCache bool, till int64) bool {
	return s.updater.Execute(ctx, data, noCache, till)
}

// ClientSideManager polls splits and the memberships of every registered key.
type ClientSideManager struct {
	fetcher Fetcher
	cfg     Config
	storage *storage.Storage

	splitsUpdater  *SplitChangesUpdater
	splitsTask     *SyncTask
	removeListener func()

	mu          sync.Mutex
	ctx         context.Context
	memberships map[string]*MembershipsSync
}

// NewClientSideManager creates a stopped manager and registers key with the
// main readiness manager and storage.
func NewClientSideManager(fetcher Fetcher, key string, store *storage.Storage, rd *readiness.Manager, cfg Config) *ClientSideManager {
	m := &ClientSideManager{
		fetcher:       fetcher,
		cfg:           cfg,
		storage:       store,
		splitsUpdater: NewSplitChangesUpdater(fetcher, store.Splits, nil, rd.Splits(), cfg),
		ctx:           context.Background(),
		memberships:   make(map[string]*MembershipsSync),
	}
	m.splitsTask = NewSyncTask(TaskSplits, cfg.FeaturesRefreshRate, func(ctx context.Context) bool {
		return m.splitsUpdater.Execute(ctx, ExecuteOptions{})
	})
	m.removeListener = rd.Splits().OnArrived(func(bool, []string) {
		m.smartPause()
	})
	m.Add(key, rd, store)
	return m
}

// SplitsUpdater returns the updater used by the splits task.
func (m *ClientSideManager) SplitsUpdater() *SplitChangesUpdater { return m.splitsUpdater }

// Add registers a key and returns its memberships task. Segments are
// declared arrived for the key as soon as the split set is known not to
// reference any segment.
func (m *ClientSideManager) Add(key string, rd *readiness.Manager, store *storage.Storage) *MembershipsSync {
	s := &MembershipsSync{
		key:     key,
		updater: NewMembershipsUpdater(key, m.fetcher, store, rd, m.cfg),
	}
	s.SyncTask = NewSyncTask(TaskMemberships, m.cfg.SegmentsRefreshRate, func(ctx context.Context) bool {
		return s.updater.Execute(ctx, nil, false, 0)
	})

	smartReady := func() {
		if !rd.IsReady() && !store.Splits.UsesSegments() {
			rd.Segments().SegmentsArrived()
		}
	}
	if !store.Splits.UsesSegments() {
		var canceled atomic.Bool
		timer := time.AfterFunc(0, func() {
			if !canceled.Load() {
				smartReady()
			}
		})
		s.removeSmartReady = func() {
			canceled.Store(true)
			timer.Stop()
		}
	} else {
		s.removeSmartReady = rd.Splits().OnceArrived(func(bool, []string) { smartReady() })
	}

	m.mu.Lock()
	m.memberships[key] = s
	m.mu.Unlock()
	return s
}

// Remove unregisters a key and stops its memberships task.
func (m *ClientSideManager) Remove(key string) {
	m.mu.Lock()
	s, ok := m.memberships[key]
	delete(m.memberships, key)
	m.mu.Unlock()

	if ok {
		s.removeSmartReady()
		s.Stop()
	}
}

// Get returns the memberships task of key.
func (m *ClientSideManager) Get(key string) (*MembershipsSync, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.memberships[key]
	return s, ok
}

// Start starts the splits task and, when the split set references
// segments, the memberships tasks.
func (m *ClientSideManager) Start(ctx context.Context) {
	logging.Info().Str("component", "polling").Msg("Starting polling")

	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()

	m.splitsTask.Start(ctx)
	if m.storage.Splits.UsesSegments() {
		m.startMemberships()
	}
}

// Stop stops every task.
func (m *ClientSideManager) Stop() {
	logging.Info().Str("component", "polling").Msg("Stopping polling")
	m.splitsTask.Stop()
	m.stopMemberships()
}

// IsRunning reports whether the splits task is scheduled.
func (m *ClientSideManager) IsRunning() bool {
	return m.splitsTask.IsRunning()
}

// SyncAll runs the splits task and every memberships task once, in
// parallel. It reports whether all of them succeeded.
func (m *ClientSideManager) SyncAll(ctx context.Context) bool {
	tasks := []*SyncTask{m.splitsTask}
	for _, s := range m.snapshot() {
		tasks = append(tasks, s.SyncTask)
	}

	var g errgroup.Group
	results := make([]bool, len(tasks))
	for i, task := range tasks {
		g.Go(func() error {
			results[i] = task.Execute(ctx)
			return nil
		})
	}
	_ = g.Wait()

	for _, ok := range results {
		if !ok {
			return false
		}
	}
	return true
}

// Close unregisters the smart pausing listener.
func (m *ClientSideManager) Close() {
	m.Stop()
	m.removeListener()
}

// smartPause starts or stops memberships polling when the split set starts
// or stops referencing segments.
func (m *ClientSideManager) smartPause() {
	if !m.splitsTask.IsRunning() {
		return
	}

	usesSegments := m.storage.Splits.UsesSegments()
	if usesSegments == m.membershipsRunning() {
		return
	}

	logging.Info().Str("component", "polling").Bool("memberships_polling", usesSegments).Msg("Smart pausing")
	if usesSegments {
		m.startMemberships()
	} else {
		m.stopMemberships()
	}
}

func (m *ClientSideManager) membershipsRunning() bool {
	for _, s := range m.snapshot() {
		if s.IsRunning() {
			return true
		}
	}
	return false
}

func (m *ClientSideManager) startMemberships() {
	m.mu.Lock()
	ctx := m.ctx
	m.mu.Unlock()

	for _, s := range m.snapshot() {
		s.Start(ctx)
	}
}

func (m *ClientSideManager) stopMemberships() {
	for _, s := range m.snapshot() {
		s.Stop()
	}
}

func (m *ClientSideManager) snapshot() []*MembershipsSync {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*MembershipsSync, 0, len(m.memberships))
	for _, s := range m.memberships {
		out = append(out, s)
	}
	return out
}
