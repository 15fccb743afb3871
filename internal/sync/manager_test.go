// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/splitsync/internal/controlplane"
	"github.com/tomtom215/splitsync/internal/events"
	"github.com/tomtom215/splitsync/internal/models"
	"github.com/tomtom215/splitsync/internal/polling"
	"github.com/tomtom215/splitsync/internal/push"
	"github.com/tomtom215/splitsync/internal/readiness"
	"github.com/tomtom215/splitsync/internal/storage"
)

type fakePolling struct {
	mu      sync.Mutex
	running bool
	starts  int
	stops   int
	syncs   int
}

func (f *fakePolling) Start(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = true
	f.starts++
}

func (f *fakePolling) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	f.stops++
}

func (f *fakePolling) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakePolling) SyncAll(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs++
	return true
}

func (f *fakePolling) counts() (starts, stops, syncs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops, f.syncs
}

type fakePush struct {
	emitter *events.Emitter[push.Event, struct{}]

	mu     sync.Mutex
	starts int
	stops  int
}

func newFakePush() *fakePush {
	return &fakePush{emitter: events.New[push.Event, struct{}]()}
}

func (f *fakePush) Start(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
}

func (f *fakePush) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakePush) On(event push.Event, fn func()) func() {
	return f.emitter.On(event, func(struct{}) { fn() })
}

func (f *fakePush) emit(event push.Event) {
	f.emitter.Emit(event, struct{}{})
}

type fakeSubmitter struct {
	mu       sync.Mutex
	started  bool
	stopped  bool
	flushErr error
}

func (f *fakeSubmitter) Start(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
}

func (f *fakeSubmitter) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeSubmitter) Flush(context.Context) error { return f.flushErr }

// cachedSplits reports a durable cache load.
type cachedSplits struct {
	*storage.MemorySplits
}

func (cachedSplits) LoadedFromCache() bool { return true }

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

func newTestManager(t *testing.T, cfg Config, pu PushManager, submitters ...Submitter) (*Manager, *fakePolling, *readiness.Manager) {
	t.Helper()
	pm := &fakePolling{}
	rd := readiness.NewManager(0)
	t.Cleanup(rd.Destroy)
	m := NewManager(cfg, pm, pu, storage.NewMemory(), rd, submitters...)
	t.Cleanup(m.Close)
	return m, pm, rd
}

func TestManager_SyncDisabled(t *testing.T) {
	t.Parallel()

	pu := newFakePush()
	m, pm, _ := newTestManager(t, Config{SyncEnabled: false, StreamingEnabled: true}, pu)

	m.Start(context.Background())
	waitFor(t, "initial SyncAll", func() bool { _, _, syncs := pm.counts(); return syncs == 1 })

	m.Start(context.Background())
	m.Stop()
	m.Start(context.Background())
	time.Sleep(20 * time.Millisecond)

	starts, _, syncs := pm.counts()
	if syncs != 1 {
		t.Errorf("SyncAll calls = %d, want exactly 1", syncs)
	}
	if starts != 0 {
		t.Errorf("polling starts = %d, want 0", starts)
	}
	if pu.starts != 0 {
		t.Errorf("push starts = %d, want 0", pu.starts)
	}
}

func TestManager_StreamingDisabled(t *testing.T) {
	t.Parallel()

	pu := newFakePush()
	m, pm, _ := newTestManager(t, Config{SyncEnabled: true, StreamingEnabled: false}, pu)

	m.Start(context.Background())
	m.Start(context.Background())

	starts, _, syncs := pm.counts()
	if starts != 1 {
		t.Errorf("polling starts = %d, want 1", starts)
	}
	if syncs != 0 {
		t.Errorf("SyncAll calls = %d, want 0", syncs)
	}
	if pu.starts != 0 {
		t.Errorf("push started with streaming disabled")
	}
	if got := m.Mode(); got != ModePolling {
		t.Errorf("Mode = %s, want %s", got, ModePolling)
	}

	// push events are ignored without streaming
	pu.emit(push.SubsystemUp)
	if !pm.IsRunning() {
		t.Error("polling stopped by a push event with streaming disabled")
	}

	m.Stop()
	if pm.IsRunning() {
		t.Error("polling still running after Stop")
	}
	if got := m.Mode(); got != ModeStopped {
		t.Errorf("Mode = %s after Stop, want %s", got, ModeStopped)
	}
}

func TestManager_StreamingSwitchesModes(t *testing.T) {
	t.Parallel()

	pu := newFakePush()
	m, pm, _ := newTestManager(t, Config{SyncEnabled: true, StreamingEnabled: true}, pu)

	m.Start(context.Background())
	if pu.starts != 1 {
		t.Fatalf("push starts = %d, want 1", pu.starts)
	}
	waitFor(t, "initial SyncAll", func() bool { _, _, syncs := pm.counts(); return syncs == 1 })
	if pm.IsRunning() {
		t.Error("polling started before push went down")
	}

	pu.emit(push.SubsystemDown)
	if !pm.IsRunning() {
		t.Fatal("polling not started on DOWN")
	}
	if got := m.Mode(); got != ModePolling {
		t.Errorf("Mode = %s, want %s", got, ModePolling)
	}

	// a second DOWN keeps the running polling
	pu.emit(push.SubsystemDown)
	if starts, _, _ := pm.counts(); starts != 1 {
		t.Errorf("polling starts = %d, want 1", starts)
	}

	pu.emit(push.SubsystemUp)
	if pm.IsRunning() {
		t.Error("polling still running after UP")
	}
	waitFor(t, "catch-up SyncAll", func() bool { _, _, syncs := pm.counts(); return syncs == 2 })
	if got := m.Mode(); got != ModeStreaming {
		t.Errorf("Mode = %s, want %s", got, ModeStreaming)
	}

	m.Stop()
	if pu.stops != 1 {
		t.Errorf("push stops = %d, want 1", pu.stops)
	}

	// events after Stop are ignored
	pu.emit(push.SubsystemDown)
	if pm.IsRunning() {
		t.Error("polling started by DOWN after Stop")
	}
}

func TestManager_SubmittersFollowLifecycle(t *testing.T) {
	t.Parallel()

	ok := &fakeSubmitter{}
	failing := &fakeSubmitter{flushErr: errors.New("upload failed")}
	m, _, _ := newTestManager(t, Config{SyncEnabled: true}, nil, ok, failing)

	m.Start(context.Background())
	if !ok.started || !failing.started {
		t.Error("submitters not started")
	}

	err := m.Flush(context.Background())
	if !errors.Is(err, failing.flushErr) {
		t.Errorf("Flush() error = %v, want %v", err, failing.flushErr)
	}

	m.Stop()
	if !ok.stopped || !failing.stopped {
		t.Error("submitters not stopped")
	}
}

func TestManager_CacheLoaded(t *testing.T) {
	t.Parallel()

	store := storage.NewMemory()
	store.Splits = cachedSplits{storage.NewMemorySplits()}
	rd := readiness.NewManager(0)
	defer rd.Destroy()

	fromCache := make(chan struct{}, 2)
	rd.On(readiness.SDKReadyFromCache, func(readiness.UpdateMetadata) { fromCache <- struct{}{} })

	m := NewManager(Config{SyncEnabled: true}, &fakePolling{}, nil, store, rd)
	defer m.Close()

	m.Start(context.Background())
	if !rd.Splits().CacheLoaded() {
		t.Error("splits cache loaded signal not emitted on first start")
	}
	select {
	case <-fromCache:
	case <-time.After(time.Second):
		t.Fatal("SDK_READY_FROM_CACHE not emitted")
	}

	m.Stop()
	m.Start(context.Background())
	select {
	case <-fromCache:
		t.Error("SDK_READY_FROM_CACHE emitted twice")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestManager_SharedServerSide(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestManager(t, Config{SyncEnabled: true}, nil)
	if _, err := m.Shared("user-2", readiness.NewManager(0), storage.NewMemory()); !errors.Is(err, ErrNotClientSide) {
		t.Errorf("Shared() error = %v, want ErrNotClientSide", err)
	}
}

// membershipsFetcher serves empty changes and counts memberships fetches per key.
type membershipsFetcher struct {
	mu    sync.Mutex
	calls map[string]int
}

func (f *membershipsFetcher) FetchSplitChanges(ctx context.Context, since int64, opts controlplane.FetchOptions) (*models.SplitChanges, error) {
	return &models.SplitChanges{Since: since, Till: since}, nil
}

func (f *membershipsFetcher) FetchSegmentChanges(ctx context.Context, name string, since int64, opts controlplane.FetchOptions) (*models.SegmentChanges, error) {
	return &models.SegmentChanges{Name: name, Since: since, Till: since}, nil
}

func (f *membershipsFetcher) FetchMemberships(ctx context.Context, key string, opts controlplane.FetchOptions) (*models.Memberships, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[key]++
	return &models.Memberships{}, nil
}

func (f *membershipsFetcher) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func TestManager_SharedClientSide(t *testing.T) {
	t.Parallel()

	f := &membershipsFetcher{calls: make(map[string]int)}
	store := storage.NewMemory()
	rd := readiness.NewManager(0)
	defer rd.Destroy()

	cfg := polling.DefaultConfig()
	pm := polling.NewClientSideManager(f, "user-1", store, rd, cfg)
	defer pm.Close()

	m := NewManager(Config{SyncEnabled: false}, pm, nil, store, rd)
	defer m.Close()
	m.Start(context.Background())

	sharedRd := rd.Shared(0)
	defer sharedRd.Destroy()
	s, err := m.Shared("user-2", sharedRd, store.Shared())
	if err != nil {
		t.Fatalf("Shared() error = %v", err)
	}

	// sync disabled: a single fetch for the new key
	waitFor(t, "shared key fetch", func() bool { return f.count("user-2") >= 1 })
	if s.IsRunning() {
		t.Error("shared key polled periodically with sync disabled")
	}
	if err := s.Flush(context.Background()); err != nil {
		t.Errorf("Flush() error = %v", err)
	}

	s.Stop()
	if _, ok := pm.Get("user-2"); ok {
		t.Error("key still registered after Stop")
	}
	s.Stop()
}
