// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package polling

import (
	"context"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/splitsync/internal/controlplane"
	"github.com/tomtom215/splitsync/internal/logging"
	"github.com/tomtom215/splitsync/internal/readiness"
	"github.com/tomtom215/splitsync/internal/storage"
)

// maxSegmentPages guards against a control plane that never converges.
const maxSegmentPages = 1000

// SegmentChangesUpdater fetches key changes of the registered segments
// (server-side engines).
type SegmentChangesUpdater struct {
	fetcher     SegmentChangesFetcher
	segments    storage.SegmentStorage
	readiness   *readiness.Manager
	concurrency int

	mu           sync.Mutex
	firstRunDone bool
}

// NewSegmentChangesUpdater creates an updater.
func NewSegmentChangesUpdater(fetcher SegmentChangesFetcher, segments storage.SegmentStorage, rd *readiness.Manager, cfg Config) *SegmentChangesUpdater {
	concurrency := cfg.SegmentsConcurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	return &SegmentChangesUpdater{
		fetcher:     fetcher,
		segments:    segments,
		readiness:   rd,
		concurrency: concurrency,
	}
}

// Execute updates one segment, or every registered segment when name is
// empty. With fetchOnlyNew set, segments already fetched once are skipped.
// A till above zero asks the CDN for data no older than that change number.
func (u *SegmentChangesUpdater) Execute(ctx context.Context, fetchOnlyNew bool, name string, noCache bool, till int64) bool {
	names := []string{name}
	if name == "" {
		names = u.segments.RegisteredSegments()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.concurrency)

	changed := make([]bool, len(names))
	for i, segment := range names {
		g.Go(func() error {
			updated, err := u.updateSegment(gctx, segment, fetchOnlyNew, noCache, till)
			changed[i] = updated
			return err
		})
	}

	if err := g.Wait(); err != nil {
		if controlplane.StatusCode(err) == http.StatusForbidden {
			logging.Ctx(ctx).Error().Str("component", "polling").Err(err).Msg("Segment fetch forbidden, the SDK key may lack permissions; destroying client")
			if u.readiness != nil {
				u.readiness.Destroy()
			}
		} else {
			logging.Ctx(ctx).Warn().Str("component", "polling").Err(err).Msg("Segment changes fetch failed")
		}
		return false
	}

	anyChanged := false
	for _, c := range changed {
		anyChanged = anyChanged || c
	}

	u.mu.Lock()
	first := !u.firstRunDone
	u.firstRunDone = true
	u.mu.Unlock()

	if (anyChanged || first) && u.readiness != nil {
		u.readiness.Segments().SegmentsArrived(names...)
	}
	return true
}

// updateSegment pages through the changes of one segment until the control
// plane reports no newer data, applying each page.
func (u *SegmentChangesUpdater) updateSegment(ctx context.Context, name string, fetchOnlyNew, noCache bool, till int64) (bool, error) {
	since := u.segments.ChangeNumber(name)
	if fetchOnlyNew && since != -1 {
		return false, nil
	}

	changed := false
	for page := 0; page < maxSegmentPages; page++ {
		changes, err := u.fetcher.FetchSegmentChanges(ctx, name, since, controlplane.FetchOptions{NoCache: noCache, Till: till})
		if err != nil {
			return changed, err
		}

		if u.segments.Update(name, changes.Added, changes.Removed, changes.Till) {
			changed = true
		}
		if changes.Since == changes.Till || changes.Till == since {
			return changed, nil
		}
		since = changes.Till
	}

	logging.Ctx(ctx).Warn().Str("component", "polling").Str("segment", name).Msg("Segment changes did not converge")
	return changed, nil
}
