// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package storage

import (
	"sort"
	"sync"
)

type segment struct {
	keys         map[string]struct{}
	changeNumber int64
}

// MemorySegments is an in-memory SegmentStorage.
type MemorySegments struct {
	mu       sync.RWMutex
	segments map[string]*segment
}

// NewMemorySegments creates an empty segment storage.
func NewMemorySegments() *MemorySegments {
	return &MemorySegments{segments: make(map[string]*segment)}
}

// RegisterSegments implements SegmentStorage.
func (s *MemorySegments) RegisterSegments(names ...string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := false
	for _, name := range names {
		if _, ok := s.segments[name]; ok {
			continue
		}
		s.segments[name] = &segment{keys: make(map[string]struct{}), changeNumber: -1}
		added = true
	}
	return added
}

// RegisteredSegments implements SegmentStorage.
func (s *MemorySegments) RegisteredSegments() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.segments))
	for name := range s.segments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ChangeNumber implements SegmentStorage.
func (s *MemorySegments) ChangeNumber(name string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if seg, ok := s.segments[name]; ok {
		return seg.changeNumber
	}
	return -1
}

// Update implements SegmentStorage. Unregistered segments are registered.
func (s *MemorySegments) Update(name string, added, removed []string, changeNumber int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	seg, ok := s.segments[name]
	if !ok {
		seg = &segment{keys: make(map[string]struct{}), changeNumber: -1}
		s.segments[name] = seg
	}

	changed := false
	for _, key := range added {
		if _, ok := seg.keys[key]; !ok {
			seg.keys[key] = struct{}{}
			changed = true
		}
	}
	for _, key := range removed {
		if _, ok := seg.keys[key]; ok {
			delete(seg.keys, key)
			changed = true
		}
	}
	if changeNumber > seg.changeNumber {
		seg.changeNumber = changeNumber
	}
	return changed
}

// IsInSegment implements SegmentStorage.
func (s *MemorySegments) IsInSegment(name, key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seg, ok := s.segments[name]
	if !ok {
		return false
	}
	_, in := seg.keys[key]
	return in
}
