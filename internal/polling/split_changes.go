// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package polling

import (
	"context"
	"sort"
	"sync"

	"github.com/tomtom215/splitsync/internal/controlplane"
	"github.com/tomtom215/splitsync/internal/logging"
	"github.com/tomtom215/splitsync/internal/models"
	"github.com/tomtom215/splitsync/internal/readiness"
	"github.com/tomtom215/splitsync/internal/storage"
)

// SplitChangesFetcher fetches split mutations.
type SplitChangesFetcher interface {
	FetchSplitChanges(ctx context.Context, since int64, opts controlplane.FetchOptions) (*models.SplitChanges, error)
}

// InlineUpdate is a split definition delivered inside a streaming
// notification, applied without contacting the control plane.
type InlineUpdate struct {
	Split        models.Split
	ChangeNumber int64
}

// ExecuteOptions tunes one run of the split changes updater.
type ExecuteOptions struct {
	NoCache bool
	Till    int64
	Inline  *InlineUpdate
}

// splitsMutation is the result of classifying a page of splits.
type splitsMutation struct {
	added    []models.Split
	removed  []models.Split
	segments []string
	names    []string
}

// SplitChangesUpdater fetches split changes since the stored change number
// and writes them to storage.
type SplitChangesUpdater struct {
	fetcher  SplitChangesFetcher
	splits   storage.SplitStorage
	segments storage.SegmentStorage // nil for client-side engines
	emitter  *readiness.SplitsEmitter
	cfg      Config

	mu         sync.Mutex
	startingUp bool
}

// NewSplitChangesUpdater creates an updater. segments is nil on client-side
// engines, which then skip segment registration.
func NewSplitChangesUpdater(fetcher SplitChangesFetcher, splits storage.SplitStorage, segments storage.SegmentStorage, emitter *readiness.SplitsEmitter, cfg Config) *SplitChangesUpdater {
	return &SplitChangesUpdater{
		fetcher:    fetcher,
		splits:     splits,
		segments:   segments,
		emitter:    emitter,
		cfg:        cfg,
		startingUp: true,
	}
}

// Execute runs one update. It reports whether it succeeded; failures are
// logged, never returned.
func (u *SplitChangesUpdater) Execute(ctx context.Context, opts ExecuteOptions) bool {
	since := u.splits.ChangeNumber()

	for retry := 0; ; retry++ {
		err := u.update(ctx, since, opts)
		if err == nil {
			return true
		}

		logging.Ctx(ctx).Warn().Str("component", "polling").Err(err).Int64("since", since).Msg("Split changes fetch failed")

		if !u.isStartingUp() || retry >= u.cfg.RetriesOnFailureBeforeReady || ctx.Err() != nil {
			u.setStartingUp(false)
			return false
		}
		logging.Ctx(ctx).Info().Str("component", "polling").Int("retry", retry+1).Msg("Retrying split changes fetch")
	}
}

func (u *SplitChangesUpdater) update(ctx context.Context, since int64, opts ExecuteOptions) error {
	changes, err := u.fetch(ctx, since, opts)
	if err != nil {
		return err
	}
	u.setStartingUp(false)

	mutation := u.computeMutation(changes.Splits)
	logging.Ctx(ctx).Debug().
		Str("component", "polling").
		Int("added", len(mutation.added)).
		Int("removed", len(mutation.removed)).
		Int64("till", changes.Till).
		Msg("Processing split changes")

	changed := u.splits.Update(mutation.added, mutation.removed, changes.Till)
	if u.segments != nil {
		u.segments.RegisterSegments(mutation.segments...)
	}

	if u.emitter == nil {
		return nil
	}
	if !u.emitter.Arrived() || (since != changes.Till && changed && (u.segments == nil || u.allSegmentsFetched())) {
		u.emitter.SplitsArrived(false, mutation.names...)
	}
	return nil
}

func (u *SplitChangesUpdater) fetch(ctx context.Context, since int64, opts ExecuteOptions) (*models.SplitChanges, error) {
	if opts.Inline != nil {
		return &models.SplitChanges{
			Splits: []models.Split{opts.Inline.Split},
			Since:  since,
			Till:   opts.Inline.ChangeNumber,
		}, nil
	}

	if u.isStartingUp() && u.cfg.RequestTimeoutBeforeReady > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.cfg.RequestTimeoutBeforeReady)
		defer cancel()
	}
	return u.fetcher.FetchSplitChanges(ctx, since, controlplane.FetchOptions{NoCache: opts.NoCache, Till: opts.Till})
}

// computeMutation splits a page into additions (active and matching the flag
// filter) and removals, and collects the segments referenced by additions.
func (u *SplitChangesUpdater) computeMutation(splits []models.Split) splitsMutation {
	var m splitsMutation
	seen := make(map[string]struct{})

	for i := range splits {
		split := &splits[i]
		m.names = append(m.names, split.Name)

		if !split.IsActive() || !u.matchesFilter(split) {
			m.removed = append(m.removed, *split)
			continue
		}
		m.added = append(m.added, *split)
		for _, name := range split.SegmentNames() {
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				m.segments = append(m.segments, name)
			}
		}
	}
	sort.Strings(m.segments)
	return m
}

func (u *SplitChangesUpdater) matchesFilter(split *models.Split) bool {
	switch {
	case len(u.cfg.FlagSets) > 0:
		return split.InSets(u.cfg.FlagSets)
	case len(u.cfg.FlagNames) > 0:
		for _, name := range u.cfg.FlagNames {
			if name == split.Name {
				return true
			}
		}
		return false
	}
	return true
}

// allSegmentsFetched reports whether every registered segment has been
// fetched at least once.
func (u *SplitChangesUpdater) allSegmentsFetched() bool {
	for _, name := range u.segments.RegisteredSegments() {
		if u.segments.ChangeNumber(name) == -1 {
			return false
		}
	}
	return true
}

func (u *SplitChangesUpdater) isStartingUp() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.startingUp
}

func (u *SplitChangesUpdater) setStartingUp(v bool) {
	u.mu.Lock()
	u.startingUp = v
	u.mu.Unlock()
}
