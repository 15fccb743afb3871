// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package storage

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/splitsync/internal/logging"
	"github.com/tomtom215/splitsync/internal/models"
)

// Key prefixes for BadgerDB storage
const (
	splitKeyPrefix  = "split:"
	changeNumberKey = "meta:splits_change_number"
)

// BadgerSplits is a SplitStorage serving reads from memory and writing
// every mutation through to BadgerDB, so that a restarted process can
// become ready from cache before the first fetch completes.
type BadgerSplits struct {
	*MemorySplits
	db     *badger.DB
	loaded bool
}

// OpenBadger opens (or creates) a BadgerDB at path. An empty path opens an
// in-memory database.
func OpenBadger(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}
	return db, nil
}

// NewBadgerSplits restores the snapshot stored in db into memory.
func NewBadgerSplits(db *badger.DB) (*BadgerSplits, error) {
	s := &BadgerSplits{MemorySplits: NewMemorySplits(), db: db}

	var splits []models.Split
	changeNumber := int64(-1)

	err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(changeNumberKey))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			return nil
		case err != nil:
			return fmt.Errorf("get change number: %w", err)
		}
		if err := item.Value(func(val []byte) error {
			cn, perr := strconv.ParseInt(string(val), 10, 64)
			if perr != nil {
				return perr
			}
			changeNumber = cn
			return nil
		}); err != nil {
			return fmt.Errorf("decode change number: %w", err)
		}

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(splitKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var split models.Split
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &split)
			}); err != nil {
				return fmt.Errorf("decode split %s: %w", it.Item().Key(), err)
			}
			splits = append(splits, split)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changeNumber > -1 {
		s.MemorySplits.load(splits, changeNumber)
		s.loaded = true
		logging.Info().
			Str("component", "storage").
			Int("splits", len(splits)).
			Int64("change_number", changeNumber).
			Msg("Restored split snapshot")
	}
	return s, nil
}

// LoadedFromCache implements CacheLoader.
func (s *BadgerSplits) LoadedFromCache() bool {
	return s.loaded
}

// Update implements SplitStorage.
func (s *BadgerSplits) Update(added, removed []models.Split, changeNumber int64) bool {
	changed := s.MemorySplits.Update(added, removed, changeNumber)
	current := s.MemorySplits.ChangeNumber()

	err := s.db.Update(func(txn *badger.Txn) error {
		for i := range added {
			data, err := json.Marshal(&added[i])
			if err != nil {
				return fmt.Errorf("marshal split: %w", err)
			}
			if err := txn.Set([]byte(splitKeyPrefix+added[i].Name), data); err != nil {
				return fmt.Errorf("set split: %w", err)
			}
		}
		for i := range removed {
			if err := txn.Delete([]byte(splitKeyPrefix + removed[i].Name)); err != nil {
				return fmt.Errorf("delete split: %w", err)
			}
		}
		return txn.Set([]byte(changeNumberKey), []byte(strconv.FormatInt(current, 10)))
	})
	if err != nil {
		logging.Warn().Str("component", "storage").Err(err).Msg("Failed to persist split snapshot")
	}
	return changed
}

// KillLocally implements SplitStorage.
func (s *BadgerSplits) KillLocally(name, defaultTreatment string, changeNumber int64) bool {
	if !s.MemorySplits.KillLocally(name, defaultTreatment, changeNumber) {
		return false
	}
	split, ok := s.MemorySplits.Split(name)
	if !ok {
		return true
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		data, err := json.Marshal(&split)
		if err != nil {
			return err
		}
		return txn.Set([]byte(splitKeyPrefix+name), data)
	})
	if err != nil {
		logging.Warn().Str("component", "storage").Err(err).Str("split", name).Msg("Failed to persist killed split")
	}
	return true
}

// Clear implements SplitStorage.
func (s *BadgerSplits) Clear() {
	s.MemorySplits.Clear()
	if err := s.db.DropPrefix([]byte(splitKeyPrefix), []byte(changeNumberKey)); err != nil {
		logging.Warn().Str("component", "storage").Err(err).Msg("Failed to clear split snapshot")
	}
}
