// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package push

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/splitsync/internal/backoff"
	"github.com/tomtom215/splitsync/internal/logging"
	"github.com/tomtom215/splitsync/internal/metrics"
	"github.com/tomtom215/splitsync/internal/polling"
	"github.com/tomtom215/splitsync/internal/storage"
)

// MembershipsSync updates the memberships of one user key.
type MembershipsSync interface {
	Update(ctx context.Context, data *polling.MembershipsData, noCache bool, till int64) bool
}

// MembershipsWorker applies MEMBERSHIPS_*_UPDATE notifications of one kind
// (standard or large segments) for one user key.
//
// Unlike the splits and segments workers the applied change number is
// tracked by the worker: it advances only after a successful update, so a
// storage change number reached by an unrelated fetch does not end a
// catch-up early.
type MembershipsWorker struct {
	ctx     context.Context
	name    string
	cfg     WorkerConfig
	storage storage.MembershipStorage
	sync    MembershipsSync
	backoff *backoff.Backoff

	mu              sync.Mutex
	currentCN       int64
	maxChangeNumber int64
	handleNewEvent  bool
	isHandlingEvent bool
	cdnBypass       bool
	fetching        bool
	data            *polling.MembershipsData
	delay           time.Duration
	delayTimer      *time.Timer
}

// NewMembershipsWorker creates a worker for the memberships held in store.
func NewMembershipsWorker(ctx context.Context, name string, cfg WorkerConfig, store storage.MembershipStorage, ms MembershipsSync) *MembershipsWorker {
	w := &MembershipsWorker{
		ctx:             ctx,
		name:            name,
		cfg:             cfg,
		storage:         store,
		sync:            ms,
		currentCN:       -1,
		maxChangeNumber: -1,
	}
	w.backoff = backoff.New(w.handle, cfg.MembershipsBackoffBase, backoff.DefaultMax)
	return w
}

// Put raises the target to changeNumber. data, when set, is applied as a
// delta instead of fetching. delay postpones the first fetch so that many
// clients do not hit the control plane at once.
func (w *MembershipsWorker) Put(changeNumber int64, data *polling.MembershipsData, delay time.Duration) {
	stored := w.storage.ChangeNumber()

	w.mu.Lock()
	if changeNumber <= max(w.currentCN, stored) || changeNumber <= w.maxChangeNumber {
		w.mu.Unlock()
		return
	}
	w.maxChangeNumber = changeNumber
	w.handleNewEvent = true
	w.cdnBypass = false
	w.data = data
	w.delay = delay
	handling := w.isHandlingEvent
	w.mu.Unlock()

	pending := w.backoff.Pending()
	w.backoff.Reset()
	if pending || !handling {
		w.handle()
	}
}

func (w *MembershipsWorker) handle() {
	w.mu.Lock()
	w.isHandlingEvent = true
	if w.maxChangeNumber <= w.currentCN {
		w.isHandlingEvent = false
		w.mu.Unlock()
		return
	}
	if w.fetching {
		w.mu.Unlock()
		return
	}
	w.fetching = true
	w.mu.Unlock()

	w.next()
}

// next starts the next update, after the pending delay if any. fetching
// must be set.
func (w *MembershipsWorker) next() {
	w.mu.Lock()
	w.handleNewEvent = false
	target := w.maxChangeNumber
	data := w.data
	var till int64
	if w.cdnBypass {
		till = target
	}
	delay := w.delay
	w.delay = 0
	if delay > 0 {
		w.delayTimer = time.AfterFunc(delay, func() {
			w.run(target, data, till)
		})
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	go w.run(target, data, till)
}

func (w *MembershipsWorker) run(target int64, data *polling.MembershipsData, till int64) {
	mode := "fetch"
	switch {
	case data != nil:
		mode = "inline"
	case till > 0:
		mode = "cdn_bypass"
	}
	metrics.RecordWorkerFetch(w.name, mode)
	ok := w.sync.Update(logging.ContextWithNewCorrelationID(w.ctx), data, true, till)

	w.mu.Lock()
	if !w.isHandlingEvent {
		w.fetching = false
		w.mu.Unlock()
		return
	}
	if ok {
		w.currentCN = max(w.currentCN, target)
	}
	if w.handleNewEvent {
		if w.maxChangeNumber <= w.currentCN {
			w.isHandlingEvent = false
			w.fetching = false
			w.mu.Unlock()
			return
		}
		w.mu.Unlock()
		w.next()
		return
	}

	attempts := w.backoff.Attempts() + 1
	switch {
	case w.maxChangeNumber <= w.currentCN:
		logging.Debug().Str("component", "push").Str("worker", w.name).Int("attempts", attempts).Msg("Refresh completed")
		w.isHandlingEvent = false
		w.fetching = false
		w.mu.Unlock()
	case attempts < w.cfg.MaxRetries:
		// scheduled under mu so that a concurrent Put sees the pending retry
		w.fetching = false
		w.backoff.ScheduleCall()
		w.mu.Unlock()
	case w.cdnBypass:
		logging.Debug().Str("component", "push").Str("worker", w.name).Int("attempts", attempts).Msg("No changes fetched with CDN bypassed")
		metrics.RecordWorkerExhausted(w.name)
		w.isHandlingEvent = false
		w.fetching = false
		w.mu.Unlock()
	default:
		w.cdnBypass = true
		w.backoff.Reset()
		w.mu.Unlock()
		w.next()
	}
}

// Stop cancels the pending delay and retries and halts the loop after the
// running update.
func (w *MembershipsWorker) Stop() {
	w.mu.Lock()
	w.isHandlingEvent = false
	if w.delayTimer != nil && w.delayTimer.Stop() {
		w.fetching = false
	}
	w.delayTimer = nil
	w.mu.Unlock()
	w.backoff.Reset()
}
