// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package push

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/splitsync/internal/controlplane"
	"github.com/tomtom215/splitsync/internal/models"
	"github.com/tomtom215/splitsync/internal/polling"
	"github.com/tomtom215/splitsync/internal/sse"
)

// fakeAuth answers FetchAuth with respond and records the requested keys.
type fakeAuth struct {
	mu      sync.Mutex
	calls   [][]string
	respond func(n int, keys []string) (*controlplane.AuthResponse, error)
}

func (f *fakeAuth) FetchAuth(ctx context.Context, userKeys []string) (*controlplane.AuthResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, userKeys)
	n := len(f.calls)
	respond := f.respond
	f.mu.Unlock()
	return respond(n, userKeys)
}

func (f *fakeAuth) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeAuth) lastKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

// fakeTransport records Open and Close and exposes the handler so tests
// can drive the callbacks.
type fakeTransport struct {
	handler sse.Handler

	mu     sync.Mutex
	opens  []*models.AuthToken
	closes int
}

func (f *fakeTransport) Open(token *models.AuthToken) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens = append(f.opens, token)
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
}

func (f *fakeTransport) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opens)
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// fakeSplitsSync records Execute calls; apply, when set, mutates storage.
type fakeSplitsSync struct {
	mu    sync.Mutex
	calls []polling.ExecuteOptions
	apply func(opts polling.ExecuteOptions)
}

func (f *fakeSplitsSync) Execute(ctx context.Context, opts polling.ExecuteOptions) bool {
	f.mu.Lock()
	f.calls = append(f.calls, opts)
	apply := f.apply
	f.mu.Unlock()
	if apply != nil {
		apply(opts)
	}
	return true
}

func (f *fakeSplitsSync) snapshot() []polling.ExecuteOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]polling.ExecuteOptions(nil), f.calls...)
}

type segmentCall struct {
	fetchOnlyNew bool
	name         string
	noCache      bool
	till         int64
}

// fakeSegmentsSync records Execute calls; apply, when set, mutates storage.
type fakeSegmentsSync struct {
	mu    sync.Mutex
	calls []segmentCall
	apply func(call segmentCall)
}

func (f *fakeSegmentsSync) Execute(ctx context.Context, fetchOnlyNew bool, name string, noCache bool, till int64) bool {
	call := segmentCall{fetchOnlyNew: fetchOnlyNew, name: name, noCache: noCache, till: till}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	apply := f.apply
	f.mu.Unlock()
	if apply != nil {
		apply(call)
	}
	return true
}

func (f *fakeSegmentsSync) snapshot() []segmentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]segmentCall(nil), f.calls...)
}

type membershipsCall struct {
	data *polling.MembershipsData
	till int64
}

// fakeMembershipsSync records Update calls; apply, when set, mutates storage.
type fakeMembershipsSync struct {
	mu    sync.Mutex
	calls []membershipsCall
	apply func(call membershipsCall)
}

func (f *fakeMembershipsSync) Update(ctx context.Context, data *polling.MembershipsData, noCache bool, till int64) bool {
	call := membershipsCall{data: data, till: till}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	apply := f.apply
	f.mu.Unlock()
	if apply != nil {
		apply(call)
	}
	return true
}

func (f *fakeMembershipsSync) snapshot() []membershipsCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]membershipsCall(nil), f.calls...)
}

// signedToken builds a streaming JWT granting channels.
func signedToken(t *testing.T, channels map[string][]string, lifetime time.Duration) string {
	t.Helper()

	capability, err := json.Marshal(channels)
	if err != nil {
		t.Fatalf("marshal capability: %v", err)
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iat":           now.Unix(),
		"exp":           now.Add(lifetime).Unix(),
		capabilityClaim: string(capability),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

// streamMessage builds a "message" event as the streaming server sends it.
func streamMessage(t *testing.T, name, channel string, timestamp int64, data any) sse.Event {
	t.Helper()

	inner, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	outer, err := json.Marshal(map[string]any{
		"id":        "msg-1",
		"name":      name,
		"channel":   channel,
		"timestamp": timestamp,
		"data":      string(inner),
	})
	if err != nil {
		t.Fatalf("marshal message: %v", err)
	}
	return sse.Event{Type: "message", Data: string(outer)}
}

func testWorkerConfig() WorkerConfig {
	return WorkerConfig{
		FetchBackoffBase:       time.Millisecond,
		FetchBackoffMax:        2 * time.Millisecond,
		MaxRetries:             2,
		MembershipsBackoffBase: time.Millisecond,
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
