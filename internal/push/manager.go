// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

/*
Package push keeps the local copy fresh from streaming notifications.

The Manager authenticates against the control plane, opens the streaming
connection with the granted channels and dispatches decoded notifications
to per-entity update workers. Connection health is published as
SubsystemUp and SubsystemDown events; the sync manager polls while push is
down.

Connection lifecycle:

	DISCONNECTED -> CONNECTING -> CONNECTED
	CONNECTED -> (retryable error) -> RECONNECTING -> CONNECTING
	any -> (non-retryable error or Stop) -> DISCONNECTED

A token is refreshed by reconnecting TokenRefreshMargin before it expires.
Retryable failures reconnect under exponential backoff. Non-retryable
failures (auth rejected, push disabled for the SDK key, STREAMING_DISABLED)
disconnect until the next Start.
*/
package push

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/splitsync/internal/backoff"
	"github.com/tomtom215/splitsync/internal/events"
	"github.com/tomtom215/splitsync/internal/logging"
	"github.com/tomtom215/splitsync/internal/metrics"
	"github.com/tomtom215/splitsync/internal/models"
	"github.com/tomtom215/splitsync/internal/polling"
	"github.com/tomtom215/splitsync/internal/readiness"
	"github.com/tomtom215/splitsync/internal/sse"
	"github.com/tomtom215/splitsync/internal/storage"
)

// Transport is a streaming connection.
type Transport interface {
	Open(token *models.AuthToken)
	Close()
}

// Config configures a Manager.
type Config struct {
	StreamingURL string
	SDKVersion   string
	HTTPClient   *http.Client

	// ConnDelay is the wait before opening the stream when the control
	// plane does not say.
	ConnDelay time.Duration

	// RetryBackoffBase is the first reconnection delay after a retryable
	// error.
	RetryBackoffBase time.Duration

	// TokenRefreshMargin is how long before token expiry to reconnect.
	TokenRefreshMargin time.Duration

	Workers WorkerConfig

	// Transport overrides the SSE client.
	Transport func(sse.Handler) Transport
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		StreamingURL:       "https://streaming.split.io",
		ConnDelay:          60 * time.Second,
		RetryBackoffBase:   backoff.DefaultBase,
		TokenRefreshMargin: 600 * time.Second,
		Workers:            DefaultWorkerConfig(),
	}
}

// client is a user key registered on a client-side Manager.
type client struct {
	hash  keyHash
	sync  MembershipsSync
	store *storage.Storage

	ms *MembershipsWorker
	ls *MembershipsWorker
}

func (c *client) start(ctx context.Context, cfg WorkerConfig) {
	c.ms = NewMembershipsWorker(ctx, "memberships", cfg, c.store.Memberships, c.sync)
	c.ls = NewMembershipsWorker(ctx, "large_memberships", cfg, c.store.LargeMemberships, c.sync)
}

// workers returns the running workers of c; Manager.mu must be held.
func (c *client) workers() []*MembershipsWorker {
	if c.ms == nil {
		return nil
	}
	return []*MembershipsWorker{c.ms, c.ls}
}

// Manager runs the push subsystem.
type Manager struct {
	cfg        Config
	auth       *Authenticator
	store      *storage.Storage
	emitter    *readiness.SplitsEmitter
	splits     SplitsSync
	segments   SegmentsSync
	clientSide bool

	transport    Transport
	keeper       *keeper
	listeners    *events.Emitter[Event, struct{}]
	retryBackoff *backoff.Backoff

	mu              sync.Mutex
	ctx             context.Context
	cancel          context.CancelFunc
	running         bool
	disconnected    bool
	state           State
	authGen         uint64
	connectTimer    *time.Timer
	refreshTimer    *time.Timer
	reauthScheduled bool
	splitsWorker    *SplitsWorker
	segmentsWorker  *SegmentsWorker
	clients         map[string]*client
}

// NewServerSideManager creates a Manager authenticating with the SDK key
// alone. Segment updates are applied through segments.
func NewServerSideManager(cfg Config, auth AuthFetcher, store *storage.Storage, rd *readiness.Manager, splits SplitsSync, segments SegmentsSync) *Manager {
	return newManager(cfg, auth, store, rd, splits, segments, false)
}

// NewClientSideManager creates a Manager authenticating with the user keys
// registered through Add.
func NewClientSideManager(cfg Config, auth AuthFetcher, store *storage.Storage, rd *readiness.Manager, splits SplitsSync) *Manager {
	return newManager(cfg, auth, store, rd, splits, nil, true)
}

func newManager(cfg Config, auth AuthFetcher, store *storage.Storage, rd *readiness.Manager, splits SplitsSync, segments SegmentsSync, clientSide bool) *Manager {
	m := &Manager{
		cfg:          cfg,
		auth:         NewAuthenticator(auth),
		store:        store,
		emitter:      rd.Splits(),
		splits:       splits,
		segments:     segments,
		clientSide:   clientSide,
		listeners:    events.New[Event, struct{}](),
		disconnected: true,
		state:        StateDisconnected,
		clients:      make(map[string]*client),
	}
	m.keeper = newKeeper(m.handleEvent)
	m.retryBackoff = backoff.New(m.connectPush, cfg.RetryBackoffBase, backoff.DefaultMax)

	handler := &streamHandler{m: m}
	if cfg.Transport != nil {
		m.transport = cfg.Transport(handler)
	} else {
		m.transport = sse.NewClient(sse.Config{
			StreamingURL: cfg.StreamingURL,
			SDKVersion:   cfg.SDKVersion,
			HTTPClient:   cfg.HTTPClient,
		}, handler)
	}
	return m
}

// On registers fn for event and returns a function removing it.
func (m *Manager) On(event Event, fn func()) func() {
	return m.listeners.On(event, func(struct{}) { fn() })
}

// State returns the connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsRunning reports whether the Manager was started and not stopped.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Start connects. It is a no-op while running. Canceling ctx stops the
// Manager.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.ctx = runCtx
	m.cancel = cancel
	m.running = true
	m.disconnected = false

	m.splitsWorker = NewSplitsWorker(runCtx, m.cfg.Workers, m.store.Splits, m.emitter, m.splits, m.segments)
	if m.segments != nil {
		m.segmentsWorker = NewSegmentsWorker(runCtx, m.cfg.Workers, m.store.Segments, m.segments)
	}
	for _, c := range m.clients {
		c.start(runCtx, m.cfg.Workers)
	}
	m.mu.Unlock()

	m.keeper.reset()
	logging.Info().Str("component", "push").Bool("client_side", m.clientSide).Msg("Starting push manager")

	go func() {
		<-runCtx.Done()
		m.stopRun(runCtx)
	}()

	m.connectPush()
}

// Stop disconnects and stops every worker.
func (m *Manager) Stop() {
	m.mu.Lock()
	ctx := m.ctx
	m.mu.Unlock()
	m.stopRun(ctx)
}

func (m *Manager) stopRun(ctx context.Context) {
	m.mu.Lock()
	if !m.running || m.ctx != ctx {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	m.disconnect()
	cancel()
	logging.Info().Str("component", "push").Msg("Push manager stopped")
}

// Add registers a user key on a client-side Manager. A key added while
// running triggers a re-authentication; keys added in the same tick share
// one.
func (m *Manager) Add(key string, ms MembershipsSync, store *storage.Storage) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.clients[key]; ok {
		return
	}
	c := &client{hash: hashKey(key), sync: ms, store: store}
	m.clients[key] = c

	if !m.running {
		return
	}
	c.start(m.ctx, m.cfg.Workers)
	if !m.disconnected && !m.reauthScheduled {
		m.reauthScheduled = true
		time.AfterFunc(0, func() {
			m.mu.Lock()
			m.reauthScheduled = false
			m.mu.Unlock()
			m.connectPush()
		})
	}
}

// Remove unregisters a user key. The current token keeps its channel
// until the next re-authentication.
func (m *Manager) Remove(key string) {
	m.mu.Lock()
	var workers []*MembershipsWorker
	if c, ok := m.clients[key]; ok {
		workers = c.workers()
		delete(m.clients, key)
	}
	m.mu.Unlock()

	for _, w := range workers {
		w.Stop()
	}
}

// connectPush authenticates and schedules the stream opening.
func (m *Manager) connectPush() {
	m.mu.Lock()
	if m.disconnected {
		m.mu.Unlock()
		return
	}
	m.state = StateConnecting
	m.authGen++
	gen := m.authGen
	ctx := logging.ContextWithNewCorrelationID(m.ctx)

	var keys []string
	if m.clientSide {
		keys = make([]string, 0, len(m.clients))
		for key := range m.clients {
			keys = append(keys, key)
		}
		sort.Strings(keys)
	}
	m.mu.Unlock()

	logging.Ctx(ctx).Debug().Str("component", "push").Int("user_keys", len(keys)).Msg("Authenticating for streaming")
	go m.authenticate(ctx, gen, keys)
}

func (m *Manager) authenticate(ctx context.Context, gen uint64, keys []string) {
	token, err := m.auth.Authenticate(ctx, keys)

	m.mu.Lock()
	// superseded by a disconnection or a newer authentication, or a key
	// was added and its re-authentication is pending
	if m.disconnected || gen != m.authGen || (m.clientSide && len(m.clients) > len(keys)) {
		m.mu.Unlock()
		return
	}
	if err == nil && token.PushEnabled {
		m.scheduleLocked(ctx, gen, token)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	switch {
	case err != nil && IsRetryable(err):
		logging.Ctx(ctx).Warn().Str("component", "push").Err(err).Msg("Streaming authentication failed, will retry")
		m.handleEvent(RetryableError)
	case err != nil:
		logging.Ctx(ctx).Error().Str("component", "push").Err(err).Msg("Streaming authentication rejected")
		m.handleEvent(NonRetryableError)
	default:
		logging.Ctx(ctx).Info().Str("component", "push").Msg("Streaming is disabled for this SDK key")
		m.handleEvent(NonRetryableError)
	}
}

// scheduleLocked schedules the token refresh and the stream opening; mu
// must be held.
func (m *Manager) scheduleLocked(ctx context.Context, gen uint64, token *models.AuthToken) {
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}
	refresh := time.Duration(token.ExpiresAt-token.IssuedAt)*time.Second - m.cfg.TokenRefreshMargin
	if refresh > 0 {
		m.refreshTimer = time.AfterFunc(refresh, m.connectPush)
	} else {
		logging.Ctx(ctx).Warn().Str("component", "push").Int64("lifetime_seconds", token.ExpiresAt-token.IssuedAt).Msg("Token lifetime shorter than refresh margin, not scheduling a refresh")
	}

	delay := token.ConnDelay
	if delay < 0 {
		delay = m.cfg.ConnDelay
	}
	if m.connectTimer != nil {
		m.connectTimer.Stop()
	}
	m.connectTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.disconnected || gen != m.authGen {
			return
		}
		m.connectTimer = nil
		m.transport.Open(token)
	})

	logging.Ctx(ctx).Debug().
		Str("component", "push").
		Dur("conn_delay", delay).
		Dur("refresh_in", refresh).
		Int("channels", len(token.Channels)).
		Msg("Streaming connection scheduled")
}

// disconnect closes the stream, cancels timers and stops the workers. It
// returns false when already disconnected.
func (m *Manager) disconnect() bool {
	m.mu.Lock()
	if m.disconnected {
		m.mu.Unlock()
		return false
	}
	m.disconnected = true
	m.state = StateDisconnected
	m.authGen++
	if m.connectTimer != nil {
		m.connectTimer.Stop()
		m.connectTimer = nil
	}
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}
	m.transport.Close()
	m.mu.Unlock()

	m.retryBackoff.Reset()
	m.stopWorkers()
	return true
}

func (m *Manager) stopWorkers() {
	m.mu.Lock()
	splits := m.splitsWorker
	segments := m.segmentsWorker
	var workers []*MembershipsWorker
	for _, c := range m.clients {
		workers = append(workers, c.workers()...)
	}
	m.mu.Unlock()

	if splits != nil {
		splits.Stop()
	}
	if segments != nil {
		segments.Stop()
	}
	for _, w := range workers {
		w.Stop()
	}
}

// handleEvent applies an event to the connection and forwards it to
// listeners.
func (m *Manager) handleEvent(event Event) {
	var follow Event

	switch event {
	case SubsystemUp:
		m.mu.Lock()
		if m.disconnected {
			m.mu.Unlock()
			return
		}
		m.state = StateConnected
		m.mu.Unlock()
		m.retryBackoff.Reset()
		logging.Info().Str("component", "push").Msg("Streaming up")

	case SubsystemDown:
		m.stopWorkers()
		logging.Info().Str("component", "push").Msg("Streaming down")

	case RetryableError:
		m.mu.Lock()
		if m.disconnected {
			m.mu.Unlock()
			return
		}
		m.state = StateReconnecting
		m.transport.Close()
		m.mu.Unlock()
		delay := m.retryBackoff.ScheduleCall()
		logging.Info().Str("component", "push").Dur("delay", delay).Msg("Reconnecting to streaming")
		follow = SubsystemDown

	case NonRetryableError:
		if !m.disconnect() {
			return
		}
		logging.Warn().Str("component", "push").Msg("Streaming disabled, falling back to polling")
		follow = SubsystemDown

	case StreamingReset:
		m.mu.Lock()
		if m.disconnected {
			m.mu.Unlock()
			return
		}
		if m.refreshTimer != nil {
			m.refreshTimer.Stop()
			m.refreshTimer = nil
		}
		m.mu.Unlock()
		logging.Info().Str("component", "push").Msg("Streaming reset requested")
		m.connectPush()
	}

	metrics.RecordPushEvent(string(event))
	m.listeners.Emit(event, struct{}{})
	if follow != "" {
		m.handleEvent(follow)
	}
}

// dispatch hands an update notification to its worker.
func (m *Manager) dispatch(n models.Notification) {
	m.mu.Lock()
	splits := m.splitsWorker
	segments := m.segmentsWorker
	m.mu.Unlock()

	switch v := n.(type) {
	case *models.SplitUpdate:
		if splits == nil {
			return
		}
		var split *models.Split
		if v.PreviousChangeNumber != nil && v.Data != "" {
			s, err := decodeSplit(v)
			if err != nil {
				logging.Warn().Str("component", "push").Err(err).Int64("change_number", v.ChangeNumber).Msg("Failed to decode inline split, fetching instead")
			} else {
				split = s
			}
		}
		splits.Put(v.ChangeNumber, v.PreviousChangeNumber, split)

	case *models.SplitKill:
		if splits != nil {
			splits.KillSplit(v.ChangeNumber, v.SplitName, v.DefaultTreatment)
		}

	case *models.SegmentUpdate:
		if segments != nil {
			segments.Put(v.ChangeNumber, v.SegmentName)
		}

	case *models.MembershipsUpdate:
		if m.clientSide {
			m.handleMemberships(v)
		}
	}
}

// handleMemberships routes a memberships notification to the workers of
// the affected keys.
func (m *Manager) handleMemberships(n *models.MembershipsUpdate) {
	type target struct {
		key    string
		hash   keyHash
		worker *MembershipsWorker
	}

	m.mu.Lock()
	targets := make([]target, 0, len(m.clients))
	for key, c := range m.clients {
		if c.ms == nil {
			continue
		}
		w := c.ms
		if n.Kind == models.TypeMembershipsLSUpdate {
			w = c.ls
		}
		targets = append(targets, target{key: key, hash: c.hash, worker: w})
	}
	m.mu.Unlock()

	switch n.Strategy {
	case models.StrategyBoundedFetchRequest:
		bitmap, err := decodePayload(n.Data, n.Compression)
		if err != nil {
			logging.Warn().Str("component", "push").Err(err).Msg("Failed to decode memberships bitmap, fetching for every key")
			break
		}
		for _, t := range targets {
			if t.hash.inBitmap(bitmap) {
				t.worker.Put(n.ChangeNumber, nil, membershipDelay(n, t.key))
			}
		}
		return

	case models.StrategyKeyList:
		list, err := decodeKeyList(n)
		if err != nil {
			logging.Warn().Str("component", "push").Err(err).Msg("Failed to decode memberships key list, fetching for every key")
			break
		}
		if len(n.Names) == 0 {
			logging.Warn().Str("component", "push").Msg("Memberships key list without segment name, fetching for every key")
			break
		}
		added := make(map[string]struct{}, len(list.Added))
		for _, h := range list.Added {
			added[h] = struct{}{}
		}
		removed := make(map[string]struct{}, len(list.Removed))
		for _, h := range list.Removed {
			removed[h] = struct{}{}
		}
		for _, t := range targets {
			data := &polling.MembershipsData{Kind: n.Kind, ChangeNumber: n.ChangeNumber}
			dec := t.hash.dec()
			if _, ok := added[dec]; ok {
				data.Added = []string{n.Names[0]}
			} else if _, ok := removed[dec]; ok {
				data.Removed = []string{n.Names[0]}
			} else {
				continue
			}
			t.worker.Put(n.ChangeNumber, data, 0)
		}
		return

	case models.StrategySegmentRemoval:
		if len(n.Names) == 0 {
			logging.Warn().Str("component", "push").Msg("Segment removal without segment names, fetching for every key")
			break
		}
		for _, t := range targets {
			t.worker.Put(n.ChangeNumber, &polling.MembershipsData{
				Kind:         n.Kind,
				ChangeNumber: n.ChangeNumber,
				Removed:      n.Names,
			}, 0)
		}
		return
	}

	// unbounded fetch request, and the fallback of undecodable payloads
	for _, t := range targets {
		t.worker.Put(n.ChangeNumber, nil, membershipDelay(n, t.key))
	}
}

// streamHandler receives the transport callbacks.
type streamHandler struct {
	m *Manager
}

func (h *streamHandler) OnOpen() {
	h.m.keeper.reset()
	h.m.keeper.handleOpen()
}

func (h *streamHandler) OnMessage(e sse.Event) {
	n, err := ParseMessage(e)
	if err != nil {
		metrics.RecordParseError()
		logging.Warn().Str("component", "push").Err(err).Msg("Dropping malformed notification")
		return
	}
	if n == nil {
		return
	}
	metrics.RecordNotification(string(n.Type()))

	switch v := n.(type) {
	case *models.Occupancy:
		h.m.keeper.handleOccupancy(v)
	case *models.Control:
		h.m.keeper.handleControl(v)
	default:
		if !h.m.keeper.isStreamingUp() {
			logging.Debug().Str("component", "push").Str("type", string(n.Type())).Msg("Dropping notification while streaming is paused")
			return
		}
		h.m.dispatch(n)
	}
}

func (h *streamHandler) OnError(err error) {
	if isRetryableStreamError(err) {
		logging.Warn().Str("component", "push").Err(err).Msg("Streaming connection failed")
		h.m.handleEvent(RetryableError)
		return
	}

	var status *sse.StatusError
	if errors.As(err, &status) {
		logging.Error().Str("component", "push").Int("status", status.StatusCode).Msg("Streaming connection rejected")
	} else {
		logging.Error().Str("component", "push").Err(err).Msg("Streaming connection rejected")
	}
	h.m.handleEvent(NonRetryableError)
}
