// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package storage

import (
	"testing"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/splitsync/internal/models"
)

func setupTestBadger(t *testing.T) *badger.DB {
	t.Helper()

	db, err := OpenBadger(t.TempDir())
	if err != nil {
		t.Fatalf("OpenBadger: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBadgerSplits_EmptyDatabase(t *testing.T) {
	t.Parallel()

	s, err := NewBadgerSplits(setupTestBadger(t))
	if err != nil {
		t.Fatalf("NewBadgerSplits: %v", err)
	}
	if s.LoadedFromCache() {
		t.Error("LoadedFromCache = true on an empty database")
	}
	if s.ChangeNumber() != -1 {
		t.Errorf("ChangeNumber = %d, want -1", s.ChangeNumber())
	}
}

func TestBadgerSplits_RestoresSnapshot(t *testing.T) {
	t.Parallel()

	db := setupTestBadger(t)

	first, err := NewBadgerSplits(db)
	if err != nil {
		t.Fatalf("NewBadgerSplits: %v", err)
	}
	first.Update([]models.Split{split("a", 10), split("b", 10, "employees")}, nil, 10)
	first.Update(nil, []models.Split{split("a", 11)}, 11)
	first.KillLocally("b", "off", 12)

	second, err := NewBadgerSplits(db)
	if err != nil {
		t.Fatalf("NewBadgerSplits (restore): %v", err)
	}
	if !second.LoadedFromCache() {
		t.Fatal("LoadedFromCache = false after restore")
	}
	if second.ChangeNumber() != 11 {
		t.Errorf("ChangeNumber = %d, want 11", second.ChangeNumber())
	}
	if _, ok := second.Split("a"); ok {
		t.Error("removed split restored")
	}
	b, ok := second.Split("b")
	if !ok || !b.Killed || b.DefaultTreatment != "off" {
		t.Errorf("restored split b = %+v", b)
	}
	if !second.UsesSegments() {
		t.Error("restored splits lost their segment matchers")
	}

	var _ CacheLoader = second
}

func TestBadgerSplits_Clear(t *testing.T) {
	t.Parallel()

	db := setupTestBadger(t)
	s, err := NewBadgerSplits(db)
	if err != nil {
		t.Fatalf("NewBadgerSplits: %v", err)
	}
	s.Update([]models.Split{split("a", 3)}, nil, 3)
	s.Clear()

	restored, err := NewBadgerSplits(db)
	if err != nil {
		t.Fatalf("NewBadgerSplits: %v", err)
	}
	if restored.LoadedFromCache() || len(restored.Names()) != 0 {
		t.Error("snapshot survived Clear")
	}
}
