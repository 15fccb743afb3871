// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package push

import (
	"context"
	"sync"

	"github.com/tomtom215/splitsync/internal/polling"
	"github.com/tomtom215/splitsync/internal/storage"
)

// SegmentsWorker applies SEGMENT_UPDATE notifications with one catch-up
// loop per segment.
type SegmentsWorker struct {
	ctx      context.Context
	cfg      WorkerConfig
	segments storage.SegmentStorage
	updater  SegmentsSync

	mu      sync.Mutex
	workers map[string]*catchUp
}

// NewSegmentsWorker creates a worker.
func NewSegmentsWorker(ctx context.Context, cfg WorkerConfig, segments storage.SegmentStorage, updater SegmentsSync) *SegmentsWorker {
	return &SegmentsWorker{
		ctx:      ctx,
		cfg:      cfg,
		segments: segments,
		updater:  updater,
		workers:  make(map[string]*catchUp),
	}
}

// Put schedules a catch-up of segment name to changeNumber.
func (w *SegmentsWorker) Put(changeNumber int64, name string) {
	w.mu.Lock()
	c, ok := w.workers[name]
	if !ok {
		c = newCatchUp(w.ctx, "segments", w.cfg,
			func() int64 { return w.segments.ChangeNumber(name) },
			func(ctx context.Context, till int64, _ *polling.InlineUpdate) {
				w.updater.Execute(ctx, false, name, true, till)
			})
		w.workers[name] = c
	}
	w.mu.Unlock()

	c.put(changeNumber, nil)
}

// Stop stops every segment loop.
func (w *SegmentsWorker) Stop() {
	w.mu.Lock()
	workers := make([]*catchUp, 0, len(w.workers))
	for _, c := range w.workers {
		workers = append(workers, c)
	}
	w.mu.Unlock()

	for _, c := range workers {
		c.stop()
	}
}
