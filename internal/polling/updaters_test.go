// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package polling

import (
	"context"
	"net/http"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/splitsync/internal/controlplane"
	"github.com/tomtom215/splitsync/internal/models"
	"github.com/tomtom215/splitsync/internal/readiness"
	"github.com/tomtom215/splitsync/internal/storage"
)

func TestSplitChangesUpdater_ComputeMutation(t *testing.T) {
	t.Parallel()

	archived := testSplit("archived", 5, "seg_archived")
	archived.Status = models.StatusArchived
	inSet := testSplit("in_set", 5, "seg_b", "seg_a")
	inSet.Sets = []string{"backend"}
	outOfSet := testSplit("out_of_set", 5, "seg_c")
	outOfSet.Sets = []string{"frontend"}

	tests := []struct {
		name         string
		cfg          Config
		wantAdded    []string
		wantRemoved  []string
		wantSegments []string
	}{
		{
			name:         "no filter",
			wantAdded:    []string{"in_set", "out_of_set"},
			wantRemoved:  []string{"archived"},
			wantSegments: []string{"seg_a", "seg_b", "seg_c"},
		},
		{
			name:         "flag sets",
			cfg:          Config{FlagSets: []string{"backend"}},
			wantAdded:    []string{"in_set"},
			wantRemoved:  []string{"archived", "out_of_set"},
			wantSegments: []string{"seg_a", "seg_b"},
		},
		{
			name:         "flag names",
			cfg:          Config{FlagNames: []string{"out_of_set"}},
			wantAdded:    []string{"out_of_set"},
			wantRemoved:  []string{"archived", "in_set"},
			wantSegments: []string{"seg_c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			u := NewSplitChangesUpdater(nil, storage.NewMemorySplits(), nil, nil, tt.cfg)
			m := u.computeMutation([]models.Split{archived, inSet, outOfSet})

			if got := splitNames(m.added); !reflect.DeepEqual(got, tt.wantAdded) {
				t.Errorf("added = %v, want %v", got, tt.wantAdded)
			}
			if got := splitNames(m.removed); !reflect.DeepEqual(got, tt.wantRemoved) {
				t.Errorf("removed = %v, want %v", got, tt.wantRemoved)
			}
			if !reflect.DeepEqual(m.segments, tt.wantSegments) {
				t.Errorf("segments = %v, want %v", m.segments, tt.wantSegments)
			}
		})
	}
}

func splitNames(splits []models.Split) []string {
	var names []string
	for _, s := range splits {
		names = append(names, s.Name)
	}
	return names
}

func TestSplitChangesUpdater_FirstRunSignalsArrival(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.splitChanges = func(since int64, _ controlplane.FetchOptions) (*models.SplitChanges, error) {
		return &models.SplitChanges{Splits: []models.Split{testSplit("a", 10, "seg")}, Since: since, Till: 10}, nil
	}
	store := storage.NewMemory()
	rd := readiness.NewManager(0)
	defer rd.Destroy()

	u := NewSplitChangesUpdater(f, store.Splits, store.Segments, rd.Splits(), testConfig())
	if !u.Execute(context.Background(), ExecuteOptions{}) {
		t.Fatal("Execute = false, want true")
	}

	if !rd.Splits().Arrived() {
		t.Error("splits not signaled as arrived")
	}
	if store.Splits.ChangeNumber() != 10 {
		t.Errorf("ChangeNumber = %d, want 10", store.Splits.ChangeNumber())
	}
	if got := store.Segments.RegisteredSegments(); !reflect.DeepEqual(got, []string{"seg"}) {
		t.Errorf("RegisteredSegments = %v, want [seg]", got)
	}
	if f.splitCalls[0] != -1 {
		t.Errorf("first fetch since = %d, want -1", f.splitCalls[0])
	}
}

func TestSplitChangesUpdater_UpdateWaitsForSegments(t *testing.T) {
	t.Parallel()

	till := int64(10)
	f := newFakeFetcher()
	f.splitChanges = func(since int64, _ controlplane.FetchOptions) (*models.SplitChanges, error) {
		return &models.SplitChanges{Splits: []models.Split{testSplit("a", till, "seg")}, Since: since, Till: till}, nil
	}
	store := storage.NewMemory()
	rd := readiness.NewManager(0)
	defer rd.Destroy()

	var arrivals atomic.Int32
	rd.Splits().OnArrived(func(bool, []string) { arrivals.Add(1) })

	u := NewSplitChangesUpdater(f, store.Splits, store.Segments, rd.Splits(), testConfig())
	u.Execute(context.Background(), ExecuteOptions{})

	// a later change while "seg" was never fetched is not signaled
	till = 20
	u.Execute(context.Background(), ExecuteOptions{})
	if arrivals.Load() != 1 {
		t.Errorf("arrivals = %d, want 1 while a registered segment is unfetched", arrivals.Load())
	}

	store.Segments.Update("seg", []string{"k"}, nil, 5)
	till = 30
	u.Execute(context.Background(), ExecuteOptions{})
	if arrivals.Load() != 2 {
		t.Errorf("arrivals = %d, want 2 once segments are fetched", arrivals.Load())
	}

	// no change, no signal
	u.Execute(context.Background(), ExecuteOptions{})
	if arrivals.Load() != 2 {
		t.Errorf("arrivals = %d, want 2 after a no-op run", arrivals.Load())
	}
}

func TestSplitChangesUpdater_RetriesBeforeReady(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	f := newFakeFetcher()
	f.splitChanges = func(since int64, _ controlplane.FetchOptions) (*models.SplitChanges, error) {
		if calls.Add(1) == 1 {
			return nil, errUnavailable
		}
		return &models.SplitChanges{Since: since, Till: 1}, nil
	}

	u := NewSplitChangesUpdater(f, storage.NewMemorySplits(), nil, nil, testConfig())
	if !u.Execute(context.Background(), ExecuteOptions{}) {
		t.Fatal("Execute = false, want success on retry")
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}

	// after startup, failures are not retried
	calls.Store(0)
	f.splitChanges = func(int64, controlplane.FetchOptions) (*models.SplitChanges, error) {
		calls.Add(1)
		return nil, errUnavailable
	}
	if u.Execute(context.Background(), ExecuteOptions{}) {
		t.Error("Execute = true, want false")
	}
	if calls.Load() != 1 {
		t.Errorf("calls after startup = %d, want 1", calls.Load())
	}
}

func TestSplitChangesUpdater_RequestTimeoutBeforeReady(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.splitChanges = func(since int64, _ controlplane.FetchOptions) (*models.SplitChanges, error) {
		return nil, errUnavailable
	}
	var sawDeadline atomic.Bool
	fetcher := deadlineRecorder{fakeFetcher: f, saw: &sawDeadline}

	cfg := testConfig()
	cfg.RequestTimeoutBeforeReady = time.Second
	cfg.RetriesOnFailureBeforeReady = 0

	u := NewSplitChangesUpdater(fetcher, storage.NewMemorySplits(), nil, nil, cfg)
	u.Execute(context.Background(), ExecuteOptions{})
	if !sawDeadline.Load() {
		t.Error("fetch before ready had no deadline")
	}

	sawDeadline.Store(false)
	u.Execute(context.Background(), ExecuteOptions{})
	if sawDeadline.Load() {
		t.Error("fetch after startup had a deadline")
	}
}

type deadlineRecorder struct {
	*fakeFetcher
	saw *atomic.Bool
}

func (d deadlineRecorder) FetchSplitChanges(ctx context.Context, since int64, opts controlplane.FetchOptions) (*models.SplitChanges, error) {
	if _, ok := ctx.Deadline(); ok {
		d.saw.Store(true)
	}
	return d.fakeFetcher.FetchSplitChanges(ctx, since, opts)
}

func TestSplitChangesUpdater_Inline(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	splits := storage.NewMemorySplits()
	splits.Update([]models.Split{testSplit("a", 10)}, nil, 10)

	u := NewSplitChangesUpdater(f, splits, nil, nil, testConfig())
	ok := u.Execute(context.Background(), ExecuteOptions{Inline: &InlineUpdate{Split: testSplit("b", 20), ChangeNumber: 20}})
	if !ok {
		t.Fatal("Execute = false, want true")
	}

	if f.splitCallCount() != 0 {
		t.Errorf("fetches = %d, want 0 for an inline update", f.splitCallCount())
	}
	if _, found := splits.Split("b"); !found {
		t.Error("inline split not stored")
	}
	if splits.ChangeNumber() != 20 {
		t.Errorf("ChangeNumber = %d, want 20", splits.ChangeNumber())
	}
}

func TestSplitChangesUpdater_ForwardsFetchOptions(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	u := NewSplitChangesUpdater(f, storage.NewMemorySplits(), nil, nil, testConfig())
	u.Execute(context.Background(), ExecuteOptions{NoCache: true, Till: 42})

	want := controlplane.FetchOptions{NoCache: true, Till: 42}
	if f.splitOpts[0] != want {
		t.Errorf("opts = %+v, want %+v", f.splitOpts[0], want)
	}
}

func TestSegmentChangesUpdater_Pages(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.segments["seg"] = []models.SegmentChanges{
		{Name: "seg", Added: []string{"k1"}, Since: -1, Till: 10},
		{Name: "seg", Added: []string{"k2"}, Removed: []string{"k1"}, Since: 10, Till: 20},
	}
	segments := storage.NewMemorySegments()
	segments.RegisterSegments("seg")
	rd := readiness.NewManager(0)
	defer rd.Destroy()

	u := NewSegmentChangesUpdater(f, segments, rd, testConfig())
	if !u.Execute(context.Background(), false, "", false, 0) {
		t.Fatal("Execute = false, want true")
	}

	if got := f.segmentCalls["seg"]; !reflect.DeepEqual(got, []int64{-1, 10, 20}) {
		t.Errorf("fetch since values = %v, want [-1 10 20]", got)
	}
	if segments.ChangeNumber("seg") != 20 {
		t.Errorf("ChangeNumber = %d, want 20", segments.ChangeNumber("seg"))
	}
	if segments.IsInSegment("seg", "k1") || !segments.IsInSegment("seg", "k2") {
		t.Error("segment pages not applied in order")
	}
	if !rd.Segments().Arrived() {
		t.Error("segments not signaled as arrived")
	}
}

func TestSegmentChangesUpdater_FirstRunSignalsWithoutChanges(t *testing.T) {
	t.Parallel()

	rd := readiness.NewManager(0)
	defer rd.Destroy()

	u := NewSegmentChangesUpdater(newFakeFetcher(), storage.NewMemorySegments(), rd, testConfig())
	u.Execute(context.Background(), false, "", false, 0)

	if !rd.Segments().Arrived() {
		t.Error("first run with no segments did not signal arrival")
	}
}

func TestSegmentChangesUpdater_FetchOnlyNew(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	segments := storage.NewMemorySegments()
	segments.RegisterSegments("known", "new")
	segments.Update("known", []string{"k"}, nil, 5)

	u := NewSegmentChangesUpdater(f, segments, nil, testConfig())
	u.Execute(context.Background(), true, "", false, 0)

	if _, fetched := f.segmentCalls["known"]; fetched {
		t.Error("already fetched segment was fetched again")
	}
	if _, fetched := f.segmentCalls["new"]; !fetched {
		t.Error("new segment was not fetched")
	}
}

func TestSegmentChangesUpdater_ForbiddenDestroys(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.segmentErr = &controlplane.HTTPError{Resource: controlplane.ResourceSegmentChanges, StatusCode: http.StatusForbidden}
	segments := storage.NewMemorySegments()
	segments.RegisterSegments("seg")
	rd := readiness.NewManager(0)

	u := NewSegmentChangesUpdater(f, segments, rd, testConfig())
	if u.Execute(context.Background(), false, "", false, 0) {
		t.Error("Execute = true, want false")
	}
	if !rd.IsDestroyed() {
		t.Error("readiness not destroyed on 403")
	}
}

func TestSegmentChangesUpdater_ErrorKeepsReadiness(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.segmentErr = errUnavailable
	segments := storage.NewMemorySegments()
	segments.RegisterSegments("seg")
	rd := readiness.NewManager(0)
	defer rd.Destroy()

	u := NewSegmentChangesUpdater(f, segments, rd, testConfig())
	if u.Execute(context.Background(), false, "", false, 0) {
		t.Error("Execute = true, want false")
	}
	if rd.IsDestroyed() {
		t.Error("readiness destroyed on a transient error")
	}
	if rd.Segments().Arrived() {
		t.Error("segments signaled after a failed run")
	}
}

func TestMembershipsUpdater_FetchAndReset(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.memberships = func(string) (*models.Memberships, error) {
		return &models.Memberships{
			MySegments:    models.MembershipList{Keys: []models.MembershipName{{Name: "beta"}}, ChangeNumber: int64Ptr(100)},
			LargeSegments: models.MembershipList{Keys: []models.MembershipName{{Name: "big"}}},
		}, nil
	}
	store := storage.NewMemory()
	store.Splits.Update([]models.Split{testSplit("a", 1, "beta")}, nil, 1)
	rd := readiness.NewManager(0)
	defer rd.Destroy()

	u := NewMembershipsUpdater("user-1", f, store, rd, testConfig())
	if !u.Execute(context.Background(), nil, false, 0) {
		t.Fatal("Execute = false, want true")
	}

	if !store.Memberships.IsInSegment("beta") || !store.LargeMemberships.IsInSegment("big") {
		t.Error("memberships not stored")
	}
	if store.Memberships.ChangeNumber() != 100 {
		t.Errorf("ChangeNumber = %d, want 100", store.Memberships.ChangeNumber())
	}
	if !rd.Segments().Arrived() {
		t.Error("segments not signaled as arrived")
	}
}

func TestMembershipsUpdater_InlineDelta(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	store := storage.NewMemory()
	store.Splits.Update([]models.Split{testSplit("a", 1, "beta")}, nil, 1)
	store.LargeMemberships.Reset([]string{"old"}, 5)

	u := NewMembershipsUpdater("user-1", f, store, nil, testConfig())
	ok := u.Execute(context.Background(), &MembershipsData{
		Kind:         models.TypeMembershipsLSUpdate,
		ChangeNumber: 10,
		Added:        []string{"new"},
		Removed:      []string{"old"},
	}, false, 0)
	if !ok {
		t.Fatal("Execute = false, want true")
	}

	if f.membershipCallCount() != 0 {
		t.Errorf("fetches = %d, want 0", f.membershipCallCount())
	}
	if got := store.LargeMemberships.Names(); !reflect.DeepEqual(got, []string{"new"}) {
		t.Errorf("large memberships = %v, want [new]", got)
	}
	if store.LargeMemberships.ChangeNumber() != 10 {
		t.Errorf("ChangeNumber = %d, want 10", store.LargeMemberships.ChangeNumber())
	}
	if len(store.Memberships.Names()) != 0 {
		t.Error("segment memberships touched by a large segment delta")
	}
}

func TestMembershipsUpdater_NoSignalWithoutSegments(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	store := storage.NewMemory()
	store.Splits.Update([]models.Split{testSplit("plain", 1)}, nil, 1)
	rd := readiness.NewManager(0)
	defer rd.Destroy()

	u := NewMembershipsUpdater("user-1", f, store, rd, testConfig())
	u.Execute(context.Background(), nil, false, 0)

	if rd.Segments().Arrived() {
		t.Error("segments signaled although no split references a segment")
	}

	// once a segment is referenced, the next run signals even without changes
	store.Splits.Update([]models.Split{testSplit("seg_flag", 2, "beta")}, nil, 2)
	u.Execute(context.Background(), nil, false, 0)
	if !rd.Segments().Arrived() {
		t.Error("segments not signaled after the split set started using segments")
	}
}
