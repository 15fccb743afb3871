// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package storage

import (
	"sort"
	"sync"

	"github.com/tomtom215/splitsync/internal/metrics"
	"github.com/tomtom215/splitsync/internal/models"
)

// MemorySplits is an in-memory SplitStorage.
type MemorySplits struct {
	mu           sync.RWMutex
	splits       map[string]models.Split
	changeNumber int64
}

// NewMemorySplits creates an empty split storage.
func NewMemorySplits() *MemorySplits {
	return &MemorySplits{splits: make(map[string]models.Split), changeNumber: -1}
}

// ChangeNumber implements SplitStorage.
func (s *MemorySplits) ChangeNumber() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changeNumber
}

// Update implements SplitStorage.
func (s *MemorySplits) Update(added, removed []models.Split, changeNumber int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := len(added) > 0
	for i := range added {
		s.splits[added[i].Name] = added[i]
	}
	for i := range removed {
		if _, ok := s.splits[removed[i].Name]; ok {
			delete(s.splits, removed[i].Name)
			changed = true
		}
	}
	if changeNumber > s.changeNumber {
		s.changeNumber = changeNumber
	}

	metrics.RecordSplitsState(s.changeNumber, len(s.splits))
	return changed
}

// KillLocally implements SplitStorage.
func (s *MemorySplits) KillLocally(name, defaultTreatment string, changeNumber int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	split, ok := s.splits[name]
	if !ok || split.ChangeNumber >= changeNumber {
		return false
	}
	split.Killed = true
	split.DefaultTreatment = defaultTreatment
	split.ChangeNumber = changeNumber
	s.splits[name] = split
	return true
}

// Split implements SplitStorage.
func (s *MemorySplits) Split(name string) (models.Split, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	split, ok := s.splits[name]
	return split, ok
}

// All implements SplitStorage. Splits are sorted by name.
func (s *MemorySplits) All() []models.Split {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]models.Split, 0, len(s.splits))
	for _, split := range s.splits {
		all = append(all, split)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}

// Names implements SplitStorage.
func (s *MemorySplits) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.splits))
	for name := range s.splits {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UsesSegments implements SplitStorage. A storage that was never updated
// reports true, since the split set is unknown.
func (s *MemorySplits) UsesSegments() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.changeNumber == -1 {
		return true
	}
	for name := range s.splits {
		split := s.splits[name]
		if split.UsesSegments() {
			return true
		}
	}
	return false
}

// Clear implements SplitStorage.
func (s *MemorySplits) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.splits = make(map[string]models.Split)
	s.changeNumber = -1
}

// load replaces the whole content; used when restoring a snapshot.
func (s *MemorySplits) load(splits []models.Split, changeNumber int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.splits = make(map[string]models.Split, len(splits))
	for i := range splits {
		s.splits[splits[i].Name] = splits[i]
	}
	s.changeNumber = changeNumber
}
