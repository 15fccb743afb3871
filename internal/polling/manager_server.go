// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package polling

import (
	"context"

	"github.com/tomtom215/splitsync/internal/logging"
	"github.com/tomtom215/splitsync/internal/readiness"
	"github.com/tomtom215/splitsync/internal/storage"
)

// ServerSideManager polls splits and the segments they reference.
type ServerSideManager struct {
	splitsUpdater   *SplitChangesUpdater
	segmentsUpdater *SegmentChangesUpdater
	splitsTask      *SyncTask
	segmentsTask    *SyncTask
}

// NewServerSideManager creates a stopped manager.
func NewServerSideManager(fetcher Fetcher, store *storage.Storage, rd *readiness.Manager, cfg Config) *ServerSideManager {
	m := &ServerSideManager{
		splitsUpdater:   NewSplitChangesUpdater(fetcher, store.Splits, store.Segments, rd.Splits(), cfg),
		segmentsUpdater: NewSegmentChangesUpdater(fetcher, store.Segments, rd, cfg),
	}
	m.splitsTask = NewSyncTask(TaskSplits, cfg.FeaturesRefreshRate, func(ctx context.Context) bool {
		return m.splitsUpdater.Execute(ctx, ExecuteOptions{})
	})
	m.segmentsTask = NewSyncTask(TaskSegments, cfg.SegmentsRefreshRate, func(ctx context.Context) bool {
		return m.segmentsUpdater.Execute(ctx, false, "", false, 0)
	})
	return m
}

// SplitsUpdater returns the updater used by the splits task.
func (m *ServerSideManager) SplitsUpdater() *SplitChangesUpdater { return m.splitsUpdater }

// SegmentsUpdater returns the updater used by the segments task.
func (m *ServerSideManager) SegmentsUpdater() *SegmentChangesUpdater { return m.segmentsUpdater }

// Start starts the splits task and, once its first run completed, the
// segments task, so that segments are fetched after they are registered.
func (m *ServerSideManager) Start(ctx context.Context) {
	logging.Info().Str("component", "polling").Msg("Starting polling")

	first := m.splitsTask.Start(ctx)
	go func() {
		select {
		case <-first:
		case <-ctx.Done():
			return
		}
		if m.splitsTask.IsRunning() {
			m.segmentsTask.Start(ctx)
		}
	}()
}

// Stop stops both tasks.
func (m *ServerSideManager) Stop() {
	logging.Info().Str("component", "polling").Msg("Stopping polling")
	m.splitsTask.Stop()
	m.segmentsTask.Stop()
}

// IsRunning reports whether the splits task is scheduled.
func (m *ServerSideManager) IsRunning() bool {
	return m.splitsTask.IsRunning()
}

// SyncAll runs the splits task and then the segments task once. It reports
// whether both succeeded.
func (m *ServerSideManager) SyncAll(ctx context.Context) bool {
	splitsOK := m.splitsTask.Execute(ctx)
	segmentsOK := m.segmentsTask.Execute(ctx)
	return splitsOK && segmentsOK
}
