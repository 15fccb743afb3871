// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package services

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/splitsync/internal/logging"
)

// ValueLogGC is satisfied by *badger.DB.
type ValueLogGC interface {
	RunValueLogGC(discardRatio float64) error
}

// DefaultGCDiscardRatio rewrites a value log file once half of it is stale.
const DefaultGCDiscardRatio = 0.5

// maxGCRounds bounds the rewrites of a single tick.
const maxGCRounds = 10

// BadgerGCService periodically reclaims value log space of the split
// snapshot. Every split update rewrites whole split records, so stale
// values accumulate between restarts.
type BadgerGCService struct {
	db       ValueLogGC
	interval time.Duration
	name     string
}

// NewBadgerGCService creates a new value log GC service.
func NewBadgerGCService(db ValueLogGC, interval time.Duration) *BadgerGCService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &BadgerGCService{
		db:       db,
		interval: interval,
		name:     "badger-gc",
	}
}

// Serve implements suture.Service.
func (s *BadgerGCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runGC(ctx)
		}
	}
}

// runGC rewrites value log files until nothing is left to reclaim.
func (s *BadgerGCService) runGC(ctx context.Context) {
	rounds := 0
	for ; rounds < maxGCRounds && ctx.Err() == nil; rounds++ {
		err := s.db.RunValueLogGC(DefaultGCDiscardRatio)
		if err == nil {
			continue
		}
		if errors.Is(err, badger.ErrNoRewrite) {
			break
		}
		// rejected while another GC runs, or an in-memory database
		logging.Debug().Err(err).Str("service", s.name).Msg("Value log GC skipped")
		break
	}

	if rounds > 0 {
		logging.Debug().Int("rewrites", rounds).Str("service", s.name).Msg("Value log GC completed")
	}
}

// String implements fmt.Stringer for logging.
func (s *BadgerGCService) String() string {
	return s.name
}
