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

	"golang.org/x/sync/singleflight"

	"github.com/tomtom215/splitsync/internal/logging"
	"github.com/tomtom215/splitsync/internal/metrics"
)

// closedChan is returned by Start when the task is already running.
var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// SyncTask runs a sync function immediately and then every period until
// stopped. Concurrent executions are collapsed: a call made while a run is
// in flight waits for that run and shares its result.
type SyncTask struct {
	name   string
	period time.Duration
	run    func(ctx context.Context) bool

	flight    singleflight.Group
	executing atomic.Int32

	// Runtime state
	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
}

// NewSyncTask creates a stopped task.
func NewSyncTask(name string, period time.Duration, run func(ctx context.Context) bool) *SyncTask {
	return &SyncTask{
		name:   name,
		period: period,
		run:    run,
	}
}

// Name returns the task name used in logs and metrics.
func (t *SyncTask) Name() string { return t.name }

// Execute runs the sync function once, independently of the periodic loop.
func (t *SyncTask) Execute(ctx context.Context) bool {
	v, _, shared := t.flight.Do(t.name, func() (interface{}, error) {
		t.executing.Add(1)
		defer t.executing.Add(-1)

		ok := t.run(ctx)
		metrics.RecordSyncTask(t.name, ok)
		return ok, nil
	})
	if shared {
		logging.Debug().Str("component", "polling").Str("task", t.name).Msg("Joined in-flight execution")
	}
	return v.(bool)
}

// Start executes the task and schedules it every period. The returned
// channel is closed once the first execution finished. Calling Start on a
// running task has no effect and returns a closed channel.
func (t *SyncTask) Start(ctx context.Context) <-chan struct{} {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return closedChan
	}
	t.running = true
	t.stopChan = make(chan struct{})
	stop := t.stopChan
	t.mu.Unlock()

	logging.Debug().Str("component", "polling").Str("task", t.name).Dur("period", t.period).Msg("Starting sync task")

	first := make(chan struct{})
	go t.loop(ctx, stop, first)
	return first
}

// Stop cancels the schedule. An execution in flight is not interrupted and
// Stop does not wait for it, so it is safe to call from inside a callback
// of that execution.
func (t *SyncTask) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return
	}
	t.running = false
	close(t.stopChan)
	logging.Debug().Str("component", "polling").Str("task", t.name).Msg("Stopped sync task")
}

// stopLoop marks the task stopped if stop still belongs to the current run.
func (t *SyncTask) stopLoop(stop <-chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running && t.stopChan == stop {
		t.running = false
		close(t.stopChan)
	}
}

// IsRunning reports whether the task is scheduled.
func (t *SyncTask) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// IsExecuting reports whether an execution is in flight.
func (t *SyncTask) IsExecuting() bool {
	return t.executing.Load() > 0
}

// loop runs until stop is closed or ctx is canceled. The next execution is
// scheduled period after the previous one completed.
func (t *SyncTask) loop(ctx context.Context, stop <-chan struct{}, first chan struct{}) {
	t.Execute(ctx)
	close(first)

	if t.period <= 0 {
		return
	}

	timer := time.NewTimer(t.period)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			t.stopLoop(stop)
			return
		case <-stop:
			return
		case <-timer.C:
			select {
			case <-stop:
				return
			default:
			}
			t.Execute(ctx)
			timer.Reset(t.period)
		}
	}
}
