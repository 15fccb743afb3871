// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package push

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/splitsync/internal/controlplane"
	"github.com/tomtom215/splitsync/internal/models"
	"github.com/tomtom215/splitsync/internal/polling"
	"github.com/tomtom215/splitsync/internal/readiness"
	"github.com/tomtom215/splitsync/internal/sse"
	"github.com/tomtom215/splitsync/internal/storage"
)

type managerFixture struct {
	m         *Manager
	auth      *fakeAuth
	transport *fakeTransport
	splits    *fakeSplitsSync
	segments  *fakeSegmentsSync
	store     *storage.Storage
	ups       atomic.Int32
	downs     atomic.Int32
}

func newServerFixture(t *testing.T, respond func(n int, keys []string) (*controlplane.AuthResponse, error)) *managerFixture {
	t.Helper()

	f := &managerFixture{
		auth:      &fakeAuth{respond: respond},
		transport: &fakeTransport{},
		splits:    &fakeSplitsSync{},
		segments:  &fakeSegmentsSync{},
		store:     storage.NewMemory(),
	}
	rd := readiness.NewManager(0)
	t.Cleanup(rd.Destroy)

	f.m = NewServerSideManager(testManagerConfig(f.transport), f.auth, f.store, rd, f.splits, f.segments)
	f.m.On(SubsystemUp, func() { f.ups.Add(1) })
	f.m.On(SubsystemDown, func() { f.downs.Add(1) })
	t.Cleanup(f.m.Stop)
	return f
}

func testManagerConfig(transport *fakeTransport) Config {
	cfg := DefaultConfig()
	cfg.ConnDelay = 0
	cfg.RetryBackoffBase = 5 * time.Millisecond
	cfg.Workers = testWorkerConfig()
	cfg.Transport = func(h sse.Handler) Transport {
		transport.handler = h
		return transport
	}
	return cfg
}

func enabledAuth(t *testing.T) func(int, []string) (*controlplane.AuthResponse, error) {
	token := signedToken(t, map[string][]string{
		"xxx_splits":  {"subscribe"},
		"control_pri": {"subscribe", "channel-metadata:publishers"},
	}, time.Hour)
	return func(int, []string) (*controlplane.AuthResponse, error) {
		return &controlplane.AuthResponse{PushEnabled: true, Token: token}, nil
	}
}

func TestManager_ConnectsAndComesUp(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t, enabledAuth(t))
	f.m.Start(context.Background())
	if !f.m.IsRunning() {
		t.Error("IsRunning = false after Start")
	}

	waitFor(t, "stream open", func() bool { return f.transport.openCount() == 1 })
	if got := f.m.State(); got != StateConnecting {
		t.Errorf("State = %s before the stream opened, want %s", got, StateConnecting)
	}

	f.transport.handler.OnOpen()
	if got := f.m.State(); got != StateConnected {
		t.Errorf("State = %s, want %s", got, StateConnected)
	}
	if f.ups.Load() != 1 {
		t.Errorf("UP events = %d, want 1", f.ups.Load())
	}

	f.m.Stop()
	if f.m.IsRunning() {
		t.Error("IsRunning = true after Stop")
	}
	if got := f.m.State(); got != StateDisconnected {
		t.Errorf("State = %s after Stop, want %s", got, StateDisconnected)
	}
	if f.transport.closeCount() == 0 {
		t.Error("stream not closed on Stop")
	}
	if f.downs.Load() != 0 {
		t.Errorf("DOWN events = %d on Stop, want 0", f.downs.Load())
	}
}

func TestManager_PushDisabled(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t, func(int, []string) (*controlplane.AuthResponse, error) {
		return &controlplane.AuthResponse{PushEnabled: false}, nil
	})
	f.m.Start(context.Background())

	waitFor(t, "DOWN", func() bool { return f.downs.Load() == 1 })
	if got := f.m.State(); got != StateDisconnected {
		t.Errorf("State = %s, want %s", got, StateDisconnected)
	}
	if f.transport.openCount() != 0 {
		t.Error("stream opened while push is disabled")
	}
}

func TestManager_NonRetryableDownOnce(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t, enabledAuth(t))
	f.m.Start(context.Background())
	waitFor(t, "stream open", func() bool { return f.transport.openCount() == 1 })
	f.transport.handler.OnOpen()

	f.transport.handler.OnMessage(streamMessage(t, "", sse.OccupancyPrefix+"control_pri", 10, map[string]any{
		"type": "CONTROL", "controlType": "STREAMING_DISABLED",
	}))
	f.transport.handler.OnError(&sse.ErrorEvent{Data: `{"code":40300}`})
	f.transport.handler.OnMessage(streamMessage(t, "", "control_pri", 20, map[string]any{
		"type": "CONTROL", "controlType": "STREAMING_DISABLED",
	}))

	if f.downs.Load() != 1 {
		t.Errorf("DOWN events = %d, want exactly 1", f.downs.Load())
	}
	if got := f.m.State(); got != StateDisconnected {
		t.Errorf("State = %s, want %s", got, StateDisconnected)
	}

	time.Sleep(30 * time.Millisecond)
	if n := f.auth.callCount(); n != 1 {
		t.Errorf("auth calls = %d, want no reconnection", n)
	}
}

func TestManager_RetryableReconnects(t *testing.T) {
	t.Parallel()

	ok := enabledAuth(t)
	f := newServerFixture(t, func(n int, keys []string) (*controlplane.AuthResponse, error) {
		if n == 1 {
			return nil, errors.New("connection refused")
		}
		return ok(n, keys)
	})
	f.m.Start(context.Background())

	waitFor(t, "DOWN", func() bool { return f.downs.Load() == 1 })
	waitFor(t, "reconnection", func() bool { return f.transport.openCount() == 1 })
	if f.auth.callCount() != 2 {
		t.Errorf("auth calls = %d, want 2", f.auth.callCount())
	}

	// a broken stream reconnects too
	f.transport.handler.OnOpen()
	f.transport.handler.OnError(errors.New("unexpected EOF"))
	if f.downs.Load() != 2 {
		t.Errorf("DOWN events = %d, want 2", f.downs.Load())
	}
	waitFor(t, "second reconnection", func() bool { return f.transport.openCount() == 2 })
}

func TestManager_StreamingReset(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t, enabledAuth(t))
	f.m.Start(context.Background())
	waitFor(t, "stream open", func() bool { return f.transport.openCount() == 1 })
	f.transport.handler.OnOpen()

	f.transport.handler.OnMessage(streamMessage(t, "", "control_pri", 10, map[string]any{
		"type": "CONTROL", "controlType": "STREAMING_RESET",
	}))
	waitFor(t, "reconnection", func() bool { return f.transport.openCount() == 2 })
	if f.downs.Load() != 0 {
		t.Errorf("DOWN events = %d on reset, want 0", f.downs.Load())
	}
}

func TestManager_DispatchesUpdates(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t, enabledAuth(t))
	f.splits.apply = func(polling.ExecuteOptions) { f.store.Splits.Update(nil, nil, 20) }
	f.m.Start(context.Background())
	waitFor(t, "stream open", func() bool { return f.transport.openCount() == 1 })
	f.transport.handler.OnOpen()

	f.transport.handler.OnMessage(streamMessage(t, "", "xxx_splits", 1, map[string]any{
		"type": "SPLIT_UPDATE", "changeNumber": 20,
	}))
	waitFor(t, "splits fetch", func() bool { return len(f.splits.snapshot()) == 1 })

	f.transport.handler.OnMessage(streamMessage(t, "", "xxx_segments", 2, map[string]any{
		"type": "SEGMENT_UPDATE", "changeNumber": 5, "segmentName": "beta",
	}))
	waitFor(t, "segment fetch", func() bool {
		for _, c := range f.segments.snapshot() {
			if c.name == "beta" && c.noCache {
				return true
			}
		}
		return false
	})
}

func TestManager_DropsUpdatesWhilePaused(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t, enabledAuth(t))
	f.m.Start(context.Background())
	waitFor(t, "stream open", func() bool { return f.transport.openCount() == 1 })
	f.transport.handler.OnOpen()

	f.transport.handler.OnMessage(streamMessage(t, "", "control_pri", 1, map[string]any{
		"type": "CONTROL", "controlType": "STREAMING_PAUSED",
	}))
	if f.downs.Load() != 1 {
		t.Fatalf("DOWN events = %d after pause, want 1", f.downs.Load())
	}

	f.transport.handler.OnMessage(streamMessage(t, "", "xxx_splits", 2, map[string]any{
		"type": "SPLIT_UPDATE", "changeNumber": 20,
	}))
	time.Sleep(20 * time.Millisecond)
	if n := len(f.splits.snapshot()); n != 0 {
		t.Errorf("splits fetches = %d while paused, want 0", n)
	}
}

func TestManager_MalformedMessageDropped(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t, enabledAuth(t))
	f.m.Start(context.Background())
	waitFor(t, "stream open", func() bool { return f.transport.openCount() == 1 })
	f.transport.handler.OnOpen()

	f.transport.handler.OnMessage(sse.Event{Type: "message", Data: "{garbage"})
	if got := f.m.State(); got != StateConnected {
		t.Errorf("State = %s after a malformed message, want %s", got, StateConnected)
	}
}

func TestManager_ClientSideKeys(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	auth := &fakeAuth{respond: enabledAuth(t)}
	store := storage.NewMemory()
	rd := readiness.NewManager(0)
	defer rd.Destroy()

	m := NewClientSideManager(testManagerConfig(transport), auth, store, rd, &fakeSplitsSync{})
	defer m.Stop()

	m.Add("user-1", &fakeMembershipsSync{}, store)
	m.Start(context.Background())
	waitFor(t, "first auth", func() bool { return auth.callCount() == 1 })
	if keys := auth.lastKeys(); len(keys) != 1 || keys[0] != "user-1" {
		t.Errorf("auth keys = %v, want [user-1]", keys)
	}

	m.Add("user-2", &fakeMembershipsSync{}, store.Shared())
	waitFor(t, "re-authentication", func() bool { return len(auth.lastKeys()) == 2 })
	if keys := auth.lastKeys(); keys[0] != "user-1" || keys[1] != "user-2" {
		t.Errorf("auth keys = %v, want [user-1 user-2]", keys)
	}

	// re-adding a known key does not re-authenticate
	calls := auth.callCount()
	m.Add("user-2", &fakeMembershipsSync{}, store.Shared())
	time.Sleep(20 * time.Millisecond)
	if auth.callCount() != calls {
		t.Errorf("auth calls = %d after re-adding a key, want %d", auth.callCount(), calls)
	}
}

func TestManager_ClientSideKeysBatched(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	auth := &fakeAuth{respond: enabledAuth(t)}
	store := storage.NewMemory()
	rd := readiness.NewManager(0)
	defer rd.Destroy()

	m := NewClientSideManager(testManagerConfig(transport), auth, store, rd, &fakeSplitsSync{})
	defer m.Stop()

	m.Add("user-1", &fakeMembershipsSync{}, store)
	m.Start(context.Background())
	waitFor(t, "first auth", func() bool { return auth.callCount() == 1 })

	// keys added in the same tick share one re-authentication
	m.Add("c", &fakeMembershipsSync{}, store.Shared())
	m.Add("a", &fakeMembershipsSync{}, store.Shared())
	m.Add("b", &fakeMembershipsSync{}, store.Shared())
	waitFor(t, "re-authentication", func() bool { return auth.callCount() >= 2 })
	time.Sleep(30 * time.Millisecond)

	if got := auth.callCount(); got != 2 {
		t.Errorf("auth calls = %d, want 2", got)
	}
	want := []string{"a", "b", "c", "user-1"}
	if keys := auth.lastKeys(); !reflect.DeepEqual(keys, want) {
		t.Errorf("auth keys = %v, want %v", keys, want)
	}
}

func TestManager_TokenRefresh(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	auth := &fakeAuth{respond: enabledAuth(t)}
	store := storage.NewMemory()
	rd := readiness.NewManager(0)
	defer rd.Destroy()

	// the token lives one hour; reconnect 50ms after it was issued
	cfg := testManagerConfig(transport)
	cfg.TokenRefreshMargin = time.Hour - 50*time.Millisecond
	m := NewServerSideManager(cfg, auth, store, rd, &fakeSplitsSync{}, &fakeSegmentsSync{})
	defer m.Stop()

	m.Start(context.Background())
	waitFor(t, "stream open", func() bool { return transport.openCount() >= 1 })
	transport.handler.OnOpen()

	waitFor(t, "token refresh", func() bool { return auth.callCount() >= 2 && transport.openCount() >= 2 })
}

func TestManager_TokenShorterThanMargin(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	auth := &fakeAuth{respond: enabledAuth(t)}
	store := storage.NewMemory()
	rd := readiness.NewManager(0)
	defer rd.Destroy()

	cfg := testManagerConfig(transport)
	cfg.TokenRefreshMargin = 2 * time.Hour
	m := NewServerSideManager(cfg, auth, store, rd, &fakeSplitsSync{}, &fakeSegmentsSync{})
	defer m.Stop()

	m.Start(context.Background())
	waitFor(t, "stream open", func() bool { return transport.openCount() == 1 })
	time.Sleep(50 * time.Millisecond)
	if got := auth.callCount(); got != 1 {
		t.Errorf("auth calls = %d, want 1 without a refresh", got)
	}
}

func TestManager_MembershipsRouting(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	store := storage.NewMemory()
	rd := readiness.NewManager(0)
	defer rd.Destroy()

	m := NewClientSideManager(testManagerConfig(transport), &fakeAuth{respond: enabledAuth(t)}, store, rd, &fakeSplitsSync{})
	defer m.Stop()

	user1 := &fakeMembershipsSync{}
	user2 := &fakeMembershipsSync{}
	m.Add("user-1", user1, store)
	m.Add("user-2", user2, store.Shared())
	m.Start(context.Background())
	waitFor(t, "stream open", func() bool { return transport.openCount() >= 1 })
	transport.handler.OnOpen()

	// key list adding user-1 only
	list := []byte(`{"a":["` + hashKey("user-1").dec() + `"],"r":[]}`)
	transport.handler.OnMessage(streamMessage(t, "", "xxx_memberships", 1, map[string]any{
		"type": "MEMBERSHIPS_MS_UPDATE", "cn": 10, "n": []string{"beta"}, "u": int(models.StrategyKeyList),
		"c": int(models.CompressionNone), "d": encodePayload(t, list, models.CompressionNone),
	}))
	waitFor(t, "user-1 delta", func() bool { return len(user1.snapshot()) == 1 })

	data := user1.snapshot()[0].data
	if data == nil || len(data.Added) != 1 || data.Added[0] != "beta" || data.ChangeNumber != 10 {
		t.Errorf("user-1 delta = %+v, want beta added at 10", data)
	}
	time.Sleep(20 * time.Millisecond)
	if n := len(user2.snapshot()); n != 0 {
		t.Errorf("user-2 updates = %d for a key list without it, want 0", n)
	}

	// segment removal reaches every key
	transport.handler.OnMessage(streamMessage(t, "", "xxx_memberships", 2, map[string]any{
		"type": "MEMBERSHIPS_LS_UPDATE", "cn": 20, "n": []string{"big"}, "u": int(models.StrategySegmentRemoval),
	}))
	waitFor(t, "removal for both keys", func() bool {
		return len(user1.snapshot()) == 2 && len(user2.snapshot()) == 1
	})
	if got := user2.snapshot()[0].data; got == nil || len(got.Removed) != 1 || got.Kind != models.TypeMembershipsLSUpdate {
		t.Errorf("user-2 removal = %+v", got)
	}

	// unbounded fetch without delay reaches every key
	transport.handler.OnMessage(streamMessage(t, "", "xxx_memberships", 3, map[string]any{
		"type": "MEMBERSHIPS_MS_UPDATE", "cn": 30, "u": int(models.StrategyUnboundedFetchRequest),
	}))
	waitFor(t, "fetch for both keys", func() bool {
		return len(user1.snapshot()) == 3 && len(user2.snapshot()) == 2
	})
	if got := user2.snapshot()[1].data; got != nil {
		t.Errorf("unbounded fetch carried a delta: %+v", got)
	}
}
