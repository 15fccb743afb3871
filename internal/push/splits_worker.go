// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package push

import (
	"context"

	"github.com/tomtom215/splitsync/internal/logging"
	"github.com/tomtom215/splitsync/internal/models"
	"github.com/tomtom215/splitsync/internal/polling"
	"github.com/tomtom215/splitsync/internal/readiness"
	"github.com/tomtom215/splitsync/internal/storage"
)

// SplitsSync runs split change updates.
type SplitsSync interface {
	Execute(ctx context.Context, opts polling.ExecuteOptions) bool
}

// SegmentsSync runs segment change updates.
type SegmentsSync interface {
	Execute(ctx context.Context, fetchOnlyNew bool, name string, noCache bool, till int64) bool
}

// SplitsWorker applies SPLIT_UPDATE and SPLIT_KILL notifications.
type SplitsWorker struct {
	splits  storage.SplitStorage
	emitter *readiness.SplitsEmitter
	catchUp *catchUp
}

// NewSplitsWorker creates a worker. segments is set on server-side engines:
// segments newly referenced by fetched splits are then fetched too.
func NewSplitsWorker(ctx context.Context, cfg WorkerConfig, splits storage.SplitStorage, emitter *readiness.SplitsEmitter, updater SplitsSync, segments SegmentsSync) *SplitsWorker {
	w := &SplitsWorker{splits: splits, emitter: emitter}
	w.catchUp = newCatchUp(ctx, "splits", cfg, splits.ChangeNumber,
		func(ctx context.Context, till int64, inline *polling.InlineUpdate) {
			updater.Execute(ctx, polling.ExecuteOptions{NoCache: true, Till: till, Inline: inline})
		})
	if segments != nil {
		w.catchUp.onFetched = func() {
			go segments.Execute(ctx, true, "", false, 0)
		}
	}
	return w
}

// Put schedules a catch-up to changeNumber. When split carries the new
// definition and previousChangeNumber matches the stored change number, it
// is applied without a fetch.
func (w *SplitsWorker) Put(changeNumber int64, previousChangeNumber *int64, split *models.Split) {
	var inline *polling.InlineUpdate
	if split != nil && previousChangeNumber != nil && *previousChangeNumber == w.splits.ChangeNumber() {
		inline = &polling.InlineUpdate{Split: *split, ChangeNumber: changeNumber}
	}
	w.catchUp.put(changeNumber, inline)
}

// KillSplit kills a split locally, signaling an update when it changed,
// and schedules a catch-up to changeNumber.
func (w *SplitsWorker) KillSplit(changeNumber int64, name, defaultTreatment string) {
	if w.splits.KillLocally(name, defaultTreatment, changeNumber) {
		logging.Debug().Str("component", "push").Str("split", name).Int64("change_number", changeNumber).Msg("Split killed locally")
		if w.emitter != nil {
			w.emitter.SplitsArrived(true, name)
		}
	}
	w.Put(changeNumber, nil, nil)
}

// Stop cancels scheduled retries and halts the loop after the running fetch.
func (w *SplitsWorker) Stop() {
	w.catchUp.stop()
}
