// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package readiness

import "context"

// Status is the read-only view of a Manager handed to callers.
type Status struct {
	m *Manager
}

// StatusSnapshot is a point-in-time copy of the readiness flags.
type StatusSnapshot struct {
	IsReady          bool  `json:"isReady"`
	IsReadyFromCache bool  `json:"isReadyFromCache"`
	HasTimedOut      bool  `json:"hasTimedout"`
	IsTimedOut       bool  `json:"isTimedout"`
	IsDestroyed      bool  `json:"isDestroyed"`
	IsOperational    bool  `json:"isOperational"`
	LastUpdate       int64 `json:"lastUpdate"`
}

// Snapshot returns all flags read under a single lock.
func (s *Status) Snapshot() StatusSnapshot {
	m := s.m
	m.mu.Lock()
	defer m.mu.Unlock()

	return StatusSnapshot{
		IsReady:          m.isReady,
		IsReadyFromCache: m.isReadyFromCache,
		HasTimedOut:      m.hasTimedOut,
		IsTimedOut:       m.hasTimedOut && !m.isReady,
		IsDestroyed:      m.isDestroyed,
		IsOperational:    (m.isReady || m.isReadyFromCache) && !m.isDestroyed,
		LastUpdate:       m.lastUpdate,
	}
}

// IsReady reports whether SDKReady was emitted.
func (s *Status) IsReady() bool { return s.Snapshot().IsReady }

// IsReadyFromCache reports whether SDKReadyFromCache was emitted.
func (s *Status) IsReadyFromCache() bool { return s.Snapshot().IsReadyFromCache }

// HasTimedOut reports whether SDKReadyTimedOut was emitted, even if the
// manager became ready afterwards.
func (s *Status) HasTimedOut() bool { return s.Snapshot().HasTimedOut }

// IsTimedOut reports whether the manager timed out and is still not ready.
func (s *Status) IsTimedOut() bool { return s.Snapshot().IsTimedOut }

// IsDestroyed reports whether the manager was destroyed.
func (s *Status) IsDestroyed() bool { return s.Snapshot().IsDestroyed }

// IsOperational reports whether data can be evaluated: ready or ready from
// cache, and not destroyed.
func (s *Status) IsOperational() bool { return s.Snapshot().IsOperational }

// LastUpdate returns the millisecond timestamp of the latest state change.
func (s *Status) LastUpdate() int64 { return s.Snapshot().LastUpdate }

// On registers fn for a gate event.
func (s *Status) On(event Event, fn func(UpdateMetadata)) func() {
	return s.m.On(event, fn)
}

// Ready blocks until the manager is ready. It returns ErrReadyTimedOut if
// the ready timeout fired before, ErrDestroyed if the manager was destroyed,
// or the context error.
func (s *Status) Ready(ctx context.Context) error {
	snap := s.Snapshot()
	switch {
	case snap.IsDestroyed:
		return ErrDestroyed
	case snap.IsReady:
		return nil
	case snap.HasTimedOut:
		return ErrReadyTimedOut
	}

	select {
	case <-s.m.readyCh:
		return nil
	case <-s.m.timedOutCh:
		if s.IsReady() {
			return nil
		}
		return ErrReadyTimedOut
	case <-s.m.destroyedCh:
		return ErrDestroyed
	case <-ctx.Done():
		return ctx.Err()
	}
}
