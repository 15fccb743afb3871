// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package storage

import (
	"sort"
	"sync"
)

// MemoryMemberships is an in-memory MembershipStorage for one key.
type MemoryMemberships struct {
	mu           sync.RWMutex
	names        map[string]struct{}
	changeNumber int64
}

// NewMemoryMemberships creates an empty membership storage.
func NewMemoryMemberships() *MemoryMemberships {
	return &MemoryMemberships{names: make(map[string]struct{}), changeNumber: -1}
}

// ChangeNumber implements MembershipStorage.
func (s *MemoryMemberships) ChangeNumber() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changeNumber
}

// Reset implements MembershipStorage.
func (s *MemoryMemberships) Reset(names []string, changeNumber int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.advance(changeNumber)

	next := make(map[string]struct{}, len(names))
	for _, n := range names {
		next[n] = struct{}{}
	}
	if len(next) == len(s.names) {
		same := true
		for n := range next {
			if _, ok := s.names[n]; !ok {
				same = false
				break
			}
		}
		if same {
			return false
		}
	}
	s.names = next
	return true
}

// Apply implements MembershipStorage.
func (s *MemoryMemberships) Apply(added, removed []string, changeNumber int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.advance(changeNumber)

	changed := false
	for _, n := range added {
		if _, ok := s.names[n]; !ok {
			s.names[n] = struct{}{}
			changed = true
		}
	}
	for _, n := range removed {
		if _, ok := s.names[n]; ok {
			delete(s.names, n)
			changed = true
		}
	}
	return changed
}

// advance must be called with mu held.
func (s *MemoryMemberships) advance(changeNumber int64) {
	if changeNumber > s.changeNumber {
		s.changeNumber = changeNumber
	}
}

// IsInSegment implements MembershipStorage.
func (s *MemoryMemberships) IsInSegment(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.names[name]
	return ok
}

// Names implements MembershipStorage.
func (s *MemoryMemberships) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.names))
	for n := range s.names {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
