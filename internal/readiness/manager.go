// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

// Package readiness implements the readiness gate of the sync engine.
//
// A Manager listens to two arrival signals, splits and segments, and emits
// gate events:
//
//   - SDKReadyFromCache: once, when splits were loaded from a durable cache
//     before the manager became ready
//   - SDKReady: once, when both splits and segments have arrived at least once
//   - SDKReadyTimedOut: once, when the ready timeout elapses before SDKReady
//   - SDKUpdate: on every arrival after SDKReady, with UpdateMetadata
//
// isReady and hasTimedOut are independent one-way latches. A timeout never
// prevents a later SDKReady.
//
// Shared derivatives (client-side multi-key setups) reuse the splits emitter
// of their parent and own a separate segments emitter, gate and timeout, so
// that membership updates of one key never reach another key's gate.
package readiness

import (
	"errors"
	"sync"
	"time"

	"github.com/tomtom215/splitsync/internal/events"
	"github.com/tomtom215/splitsync/internal/logging"
	"github.com/tomtom215/splitsync/internal/metrics"
)

// Event is a readiness gate event.
type Event string

// Gate events
const (
	SDKReady          Event = "init::ready"
	SDKReadyFromCache Event = "init::cache-ready"
	SDKReadyTimedOut  Event = "init::timeout"
	SDKUpdate         Event = "state::update"
)

// UpdateType describes what an SDKUpdate is about.
type UpdateType string

// Update types
const (
	FlagsUpdate    UpdateType = "FLAGS_UPDATE"
	SegmentsUpdate UpdateType = "SEGMENTS_UPDATE"
)

// UpdateMetadata is the payload of gate events. Only SDKUpdate fills it.
type UpdateMetadata struct {
	Type  UpdateType
	Names []string
}

var (
	// ErrReadyTimedOut is returned by Status.Ready when the ready timeout fired first.
	ErrReadyTimedOut = errors.New("readiness: timed out before ready")

	// ErrDestroyed is returned by Status.Ready once the manager is destroyed.
	ErrDestroyed = errors.New("readiness: manager destroyed")
)

// Manager is the readiness state machine for one client.
type Manager struct {
	splits       *SplitsEmitter
	segments     *SegmentsEmitter
	gate         *events.Emitter[Event, UpdateMetadata]
	readyTimeout time.Duration
	now          func() time.Time

	mu               sync.Mutex
	timer            *time.Timer
	initialized      bool
	isReady          bool
	isReadyFromCache bool
	hasTimedOut      bool
	isDestroyed      bool
	lastUpdate       int64
	unsubscribe      []func()

	// gate events are queued under mu and delivered in order by one
	// goroutine at a time
	pending  []gateEvent
	emitting bool

	readyCh     chan struct{}
	timedOutCh  chan struct{}
	destroyedCh chan struct{}
}

// NewManager creates a readiness manager. A readyTimeout of zero disables
// SDKReadyTimedOut. The timeout starts counting at Init.
func NewManager(readyTimeout time.Duration) *Manager {
	return newManager(newSplitsEmitter(), readyTimeout)
}

func newManager(splits *SplitsEmitter, readyTimeout time.Duration) *Manager {
	m := &Manager{
		splits:       splits,
		segments:     newSegmentsEmitter(),
		gate:         events.New[Event, UpdateMetadata](),
		readyTimeout: readyTimeout,
		now:          time.Now,
		readyCh:      make(chan struct{}),
		timedOutCh:   make(chan struct{}),
		destroyedCh:  make(chan struct{}),
	}

	splits.mu.Lock()
	splits.refs++
	splits.mu.Unlock()

	m.unsubscribe = []func(){
		splits.emitter.On(signalSplitsArrived, func(a arrival) {
			m.checkIsReadyOrUpdate(UpdateMetadata{Type: FlagsUpdate, Names: a.names})
		}),
		splits.emitter.On(signalSplitsCacheLoaded, func(arrival) {
			m.checkIsReadyFromCache()
		}),
		m.segments.emitter.On(signalSegmentsArrived, func(a arrival) {
			m.checkIsReadyOrUpdate(UpdateMetadata{Type: SegmentsUpdate, Names: a.names})
		}),
	}
	return m
}

// Shared creates a derivative for another key: same splits emitter, own
// segments emitter, gate and timeout.
func (m *Manager) Shared(readyTimeout time.Duration) *Manager {
	return newManager(m.splits, readyTimeout)
}

// Splits returns the splits signal source.
func (m *Manager) Splits() *SplitsEmitter { return m.splits }

// Segments returns the segments signal source.
func (m *Manager) Segments() *SegmentsEmitter { return m.segments }

// On registers fn for a gate event and returns its remover.
func (m *Manager) On(event Event, fn func(UpdateMetadata)) func() {
	return m.gate.On(event, fn)
}

// Once registers fn for the next emission of a gate event.
func (m *Manager) Once(event Event, fn func(UpdateMetadata)) func() {
	return m.gate.Once(event, fn)
}

// Init starts the ready timeout. Calling it again, after READY or after
// Destroy has no effect.
func (m *Manager) Init() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized || m.isDestroyed {
		return
	}
	m.initialized = true
	if m.readyTimeout > 0 && !m.isReady {
		m.timer = time.AfterFunc(m.readyTimeout, m.onTimeout)
	}
}

func (m *Manager) onTimeout() {
	m.mu.Lock()
	if m.isReady || m.isDestroyed || m.hasTimedOut {
		m.mu.Unlock()
		return
	}
	m.hasTimedOut = true
	m.timer = nil
	m.touch()
	close(m.timedOutCh)
	m.enqueue(SDKReadyTimedOut, UpdateMetadata{})
	m.mu.Unlock()

	logging.Warn().Str("component", "readiness").Dur("timeout", m.readyTimeout).Msg("Not ready before timeout")
	m.flush()
}

func (m *Manager) checkIsReadyFromCache() {
	m.mu.Lock()
	if m.isReady || m.isReadyFromCache || m.isDestroyed {
		m.mu.Unlock()
		return
	}
	m.isReadyFromCache = true
	m.touch()
	m.enqueue(SDKReadyFromCache, UpdateMetadata{})
	m.mu.Unlock()

	m.flush()
}

func (m *Manager) checkIsReadyOrUpdate(meta UpdateMetadata) {
	splitsArrived := m.splits.Arrived()
	segmentsArrived := m.segments.Arrived()

	m.mu.Lock()
	if m.isDestroyed {
		m.mu.Unlock()
		return
	}
	if m.isReady {
		m.touch()
		m.enqueue(SDKUpdate, meta)
		m.mu.Unlock()
		m.flush()
		return
	}
	if !splitsArrived || !segmentsArrived {
		m.mu.Unlock()
		return
	}

	m.isReady = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.touch()
	close(m.readyCh)
	m.enqueue(SDKReady, UpdateMetadata{})
	m.mu.Unlock()

	logging.Info().Str("component", "readiness").Msg("Ready")
	m.flush()
}

type gateEvent struct {
	event Event
	meta  UpdateMetadata
}

// enqueue queues a gate event; must be called with mu held.
func (m *Manager) enqueue(event Event, meta UpdateMetadata) {
	m.pending = append(m.pending, gateEvent{event: event, meta: meta})
}

// flush delivers queued gate events in the order they were queued. When
// another goroutine (or an outer listener call) is already delivering, it
// returns and leaves the queue to that delivery.
func (m *Manager) flush() {
	m.mu.Lock()
	if m.emitting {
		m.mu.Unlock()
		return
	}
	m.emitting = true
	for len(m.pending) > 0 && !m.isDestroyed {
		e := m.pending[0]
		m.pending = m.pending[1:]
		m.mu.Unlock()

		metrics.RecordReadinessEvent(string(e.event))
		m.gate.Emit(e.event, e.meta)

		m.mu.Lock()
	}
	m.pending = nil
	m.emitting = false
	m.mu.Unlock()
}

// touch advances lastUpdate; must be called with mu held.
func (m *Manager) touch() {
	now := m.now().UnixMilli()
	if now <= m.lastUpdate {
		now = m.lastUpdate + 1
	}
	m.lastUpdate = now
}

// Destroy stops the timeout, suppresses further emissions and removes the
// listeners of this manager. The shared splits emitter is cleared when its
// last manager is destroyed. Latched flags are kept. Destroy is idempotent.
func (m *Manager) Destroy() {
	m.mu.Lock()
	if m.isDestroyed {
		m.mu.Unlock()
		return
	}
	m.isDestroyed = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.touch()
	close(m.destroyedCh)
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	for _, remove := range unsubscribe {
		remove()
	}
	m.segments.emitter.RemoveAll()
	m.gate.RemoveAll()

	m.splits.mu.Lock()
	m.splits.refs--
	last := m.splits.refs == 0
	m.splits.mu.Unlock()
	if last {
		m.splits.emitter.RemoveAll()
	}
}

// IsReady reports whether SDKReady was emitted.
func (m *Manager) IsReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isReady
}

// IsDestroyed reports whether Destroy was called.
func (m *Manager) IsDestroyed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isDestroyed
}

// LastUpdate returns the millisecond timestamp of the latest state change.
// Successive values are strictly increasing.
func (m *Manager) LastUpdate() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastUpdate
}

// Status returns the caller-facing view of this manager.
func (m *Manager) Status() *Status {
	return &Status{m: m}
}
