// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package polling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/splitsync/internal/controlplane"
	"github.com/tomtom215/splitsync/internal/models"
)

var errUnavailable = errors.New("control plane unavailable")

// fakeFetcher serves canned responses and records calls.
type fakeFetcher struct {
	mu sync.Mutex

	splitChanges func(since int64, opts controlplane.FetchOptions) (*models.SplitChanges, error)
	segments     map[string][]models.SegmentChanges // pages keyed by since, in order
	segmentErr   error
	memberships  func(key string) (*models.Memberships, error)

	splitCalls      []int64
	splitOpts       []controlplane.FetchOptions
	segmentCalls    map[string][]int64
	membershipCalls []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		segments:     make(map[string][]models.SegmentChanges),
		segmentCalls: make(map[string][]int64),
	}
}

func (f *fakeFetcher) FetchSplitChanges(ctx context.Context, since int64, opts controlplane.FetchOptions) (*models.SplitChanges, error) {
	f.mu.Lock()
	f.splitCalls = append(f.splitCalls, since)
	f.splitOpts = append(f.splitOpts, opts)
	fn := f.splitChanges
	f.mu.Unlock()

	if fn == nil {
		return &models.SplitChanges{Since: since, Till: since}, nil
	}
	return fn(since, opts)
}

func (f *fakeFetcher) FetchSegmentChanges(ctx context.Context, name string, since int64, opts controlplane.FetchOptions) (*models.SegmentChanges, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.segmentCalls[name] = append(f.segmentCalls[name], since)
	if f.segmentErr != nil {
		return nil, f.segmentErr
	}
	for _, page := range f.segments[name] {
		if page.Since == since {
			p := page
			return &p, nil
		}
	}
	return &models.SegmentChanges{Name: name, Since: since, Till: since}, nil
}

func (f *fakeFetcher) FetchMemberships(ctx context.Context, key string, opts controlplane.FetchOptions) (*models.Memberships, error) {
	f.mu.Lock()
	f.membershipCalls = append(f.membershipCalls, key)
	fn := f.memberships
	f.mu.Unlock()

	if fn == nil {
		return &models.Memberships{}, nil
	}
	return fn(key)
}

func (f *fakeFetcher) splitCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.splitCalls)
}

func (f *fakeFetcher) membershipCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.membershipCalls)
}

func testSplit(name string, cn int64, segments ...string) models.Split {
	s := models.Split{Name: name, Status: models.StatusActive, ChangeNumber: cn, DefaultTreatment: "off"}
	for _, seg := range segments {
		s.Conditions = append(s.Conditions, models.Condition{
			MatcherGroup: models.MatcherGroup{Matchers: []models.Matcher{{
				MatcherType:                   models.MatcherInSegment,
				UserDefinedSegmentMatcherData: &models.UserDefinedSegmentMatcherData{SegmentName: seg},
			}}},
		})
	}
	return s
}

func testConfig() Config {
	return Config{
		FeaturesRefreshRate:         time.Hour,
		SegmentsRefreshRate:         time.Hour,
		RetriesOnFailureBeforeReady: 1,
	}
}

func int64Ptr(v int64) *int64 { return &v }

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
