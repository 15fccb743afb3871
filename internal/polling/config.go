// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

/*
Package polling keeps storage synchronized by periodically fetching changes
from the control plane.

Components:
  - SyncTask: runs a sync function immediately and then every period
  - SplitChangesUpdater: fetches split mutations and registers segments
  - SegmentChangesUpdater: pages through segment changes (server-side)
  - MembershipsUpdater: fetches or applies the memberships of one key (client-side)
  - ServerSideManager: splits task followed by the segments task
  - ClientSideManager: splits task plus one memberships task per key

Updaters never return errors. A failed run is logged and reported as false;
the next scheduled run or streaming notification recovers.

Readiness:
The first successful splits run signals splits arrived. Segments arrive on
the first successful segments or memberships run. Client-side engines whose
split set references no segment declare segments arrived without fetching
memberships, and memberships polling is paused until a segment is referenced.
*/
package polling

import (
	"context"
	"time"

	"github.com/tomtom215/splitsync/internal/controlplane"
	"github.com/tomtom215/splitsync/internal/models"
)

// Task names used in logs and metrics
const (
	TaskSplits      = "splits"
	TaskSegments    = "segments"
	TaskMemberships = "memberships"
)

// Config configures the polling managers and updaters.
type Config struct {
	// FeaturesRefreshRate is the period of the splits task.
	FeaturesRefreshRate time.Duration

	// SegmentsRefreshRate is the period of the segments and memberships tasks.
	SegmentsRefreshRate time.Duration

	// RequestTimeoutBeforeReady bounds fetches issued before the first
	// successful run. Zero disables the bound.
	RequestTimeoutBeforeReady time.Duration

	// RetriesOnFailureBeforeReady is how many times a failed fetch is retried
	// immediately before the first successful run.
	RetriesOnFailureBeforeReady int

	// SegmentsConcurrency limits parallel segment fetches. Zero means 10.
	SegmentsConcurrency int

	// FlagSets and FlagNames filter which splits are stored. Flag sets win.
	FlagSets  []string
	FlagNames []string
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		FeaturesRefreshRate:         60 * time.Second,
		SegmentsRefreshRate:         60 * time.Second,
		RequestTimeoutBeforeReady:   5 * time.Second,
		RetriesOnFailureBeforeReady: 1,
		SegmentsConcurrency:         10,
	}
}

// Fetcher is the subset of the control plane client used by polling.
type Fetcher interface {
	SplitChangesFetcher
	SegmentChangesFetcher
	MembershipsFetcher
}

var _ Fetcher = (*controlplane.Client)(nil)

// SegmentChangesFetcher fetches one page of segment changes.
type SegmentChangesFetcher interface {
	FetchSegmentChanges(ctx context.Context, name string, since int64, opts controlplane.FetchOptions) (*models.SegmentChanges, error)
}

// MembershipsFetcher fetches the memberships of one key.
type MembershipsFetcher interface {
	FetchMemberships(ctx context.Context, key string, opts controlplane.FetchOptions) (*models.Memberships, error)
}
