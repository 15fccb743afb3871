// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package readiness

import (
	"sync"

	"github.com/tomtom215/splitsync/internal/events"
)

type signal int

const (
	signalSplitsArrived signal = iota
	signalSplitsCacheLoaded
	signalSegmentsArrived
)

// arrival is the payload of an arrival signal.
type arrival struct {
	isSplitKill bool
	names       []string
}

// SplitsEmitter receives "splits arrived" and "splits loaded from cache"
// signals from the splits sync path. One SplitsEmitter is shared by a main
// Manager and all of its Shared derivatives.
type SplitsEmitter struct {
	mu          sync.Mutex
	arrived     bool
	cacheLoaded bool
	refs        int
	emitter     *events.Emitter[signal, arrival]
}

func newSplitsEmitter() *SplitsEmitter {
	return &SplitsEmitter{emitter: events.New[signal, arrival]()}
}

// SplitsArrived signals that split storage was updated. A kill applied
// locally (isSplitKill) does not count as the first arrival: the split set
// may not have been fetched yet and declaring readiness on a kill alone
// would be premature.
func (e *SplitsEmitter) SplitsArrived(isSplitKill bool, names ...string) {
	e.mu.Lock()
	if !isSplitKill {
		e.arrived = true
	}
	e.mu.Unlock()

	e.emitter.Emit(signalSplitsArrived, arrival{isSplitKill: isSplitKill, names: names})
}

// SplitsCacheLoaded signals that split storage was populated from a durable cache.
func (e *SplitsEmitter) SplitsCacheLoaded() {
	e.mu.Lock()
	e.cacheLoaded = true
	e.mu.Unlock()

	e.emitter.Emit(signalSplitsCacheLoaded, arrival{})
}

// OnArrived registers fn for every splits-arrived signal and returns its
// remover. Polling uses it to follow whether the split set references segments.
func (e *SplitsEmitter) OnArrived(fn func(isSplitKill bool, names []string)) func() {
	return e.emitter.On(signalSplitsArrived, func(a arrival) {
		fn(a.isSplitKill, a.names)
	})
}

// OnceArrived registers fn for the next splits-arrived signal only.
func (e *SplitsEmitter) OnceArrived(fn func(isSplitKill bool, names []string)) func() {
	return e.emitter.Once(signalSplitsArrived, func(a arrival) {
		fn(a.isSplitKill, a.names)
	})
}

// Arrived reports whether splits have arrived at least once.
func (e *SplitsEmitter) Arrived() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.arrived
}

// CacheLoaded reports whether splits were loaded from a durable cache.
func (e *SplitsEmitter) CacheLoaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cacheLoaded
}

// SegmentsEmitter receives "segments arrived" signals. Every Manager owns
// its own SegmentsEmitter.
type SegmentsEmitter struct {
	mu      sync.Mutex
	arrived bool
	emitter *events.Emitter[signal, arrival]
}

func newSegmentsEmitter() *SegmentsEmitter {
	return &SegmentsEmitter{emitter: events.New[signal, arrival]()}
}

// SegmentsArrived signals that segment or membership storage was updated.
func (e *SegmentsEmitter) SegmentsArrived(names ...string) {
	e.mu.Lock()
	e.arrived = true
	e.mu.Unlock()

	e.emitter.Emit(signalSegmentsArrived, arrival{names: names})
}

// Arrived reports whether segments have arrived at least once.
func (e *SegmentsEmitter) Arrived() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.arrived
}
