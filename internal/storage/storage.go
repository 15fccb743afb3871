// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

// Package storage defines the accessors the sync engine needs on split,
// segment and membership data, with in-memory implementations and a
// BadgerDB-backed durable split snapshot.
//
// Every implementation keeps change numbers monotonic: an update carrying an
// older change number never lowers the stored one.
package storage

import "github.com/tomtom215/splitsync/internal/models"

// SplitStorage holds the split set.
type SplitStorage interface {
	// ChangeNumber returns the change number of the split set, -1 if never fetched.
	ChangeNumber() int64

	// Update stores added splits, deletes removed ones and advances the change
	// number. It reports whether the stored set changed.
	Update(added, removed []models.Split, changeNumber int64) bool

	// KillLocally marks a split killed with a new default treatment if its
	// change number is older than changeNumber. It reports whether it did.
	KillLocally(name, defaultTreatment string, changeNumber int64) bool

	Split(name string) (models.Split, bool)
	All() []models.Split
	Names() []string

	// UsesSegments reports whether any stored split references a segment.
	UsesSegments() bool

	Clear()
}

// SegmentStorage holds server-side segments keyed by name.
type SegmentStorage interface {
	// RegisterSegments records segment names referenced by splits. It reports
	// whether a new name was added.
	RegisterSegments(names ...string) bool
	RegisteredSegments() []string

	// ChangeNumber returns the change number of a segment, -1 if never fetched.
	ChangeNumber(name string) int64

	// Update applies key additions and removals and advances the segment
	// change number. It reports whether membership changed.
	Update(name string, added, removed []string, changeNumber int64) bool

	IsInSegment(name, key string) bool
}

// MembershipStorage holds the segments a single key belongs to.
type MembershipStorage interface {
	// ChangeNumber returns the latest applied change number, -1 if unknown.
	ChangeNumber() int64

	// Reset replaces the whole membership list. A negative changeNumber
	// leaves the stored one untouched. It reports whether the list changed.
	Reset(names []string, changeNumber int64) bool

	// Apply adds and removes individual segment names.
	Apply(added, removed []string, changeNumber int64) bool

	IsInSegment(name string) bool
	Names() []string
}

// CacheLoader is implemented by split storages that can be populated from a
// durable cache at startup.
type CacheLoader interface {
	LoadedFromCache() bool
}

// Storage bundles the storages of one client. Server-side engines use
// Segments; client-side engines use Memberships and LargeMemberships.
type Storage struct {
	Splits           SplitStorage
	Segments         SegmentStorage
	Memberships      MembershipStorage
	LargeMemberships MembershipStorage
}

// NewMemory returns a Storage backed entirely by memory.
func NewMemory() *Storage {
	return &Storage{
		Splits:           NewMemorySplits(),
		Segments:         NewMemorySegments(),
		Memberships:      NewMemoryMemberships(),
		LargeMemberships: NewMemoryMemberships(),
	}
}

// Shared returns a Storage for another key: splits and segments are shared,
// memberships are new.
func (s *Storage) Shared() *Storage {
	return &Storage{
		Splits:           s.Splits,
		Segments:         s.Segments,
		Memberships:      NewMemoryMemberships(),
		LargeMemberships: NewMemoryMemberships(),
	}
}

// LoadedFromCache reports whether the split storage was populated from a
// durable cache.
func (s *Storage) LoadedFromCache() bool {
	if l, ok := s.Splits.(CacheLoader); ok {
		return l.LoadedFromCache()
	}
	return false
}
