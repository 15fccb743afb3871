// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package push

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/splitsync/internal/backoff"
	"github.com/tomtom215/splitsync/internal/logging"
	"github.com/tomtom215/splitsync/internal/metrics"
	"github.com/tomtom215/splitsync/internal/polling"
)

// WorkerConfig tunes the catch-up loops of the update workers.
type WorkerConfig struct {
	// FetchBackoffBase and FetchBackoffMax bound the delay between catch-up
	// fetches of the splits and segments workers.
	FetchBackoffBase time.Duration
	FetchBackoffMax  time.Duration

	// MaxRetries is the number of fetches before bypassing the CDN, and
	// again before giving up.
	MaxRetries int

	// MembershipsBackoffBase is the first retry delay of memberships workers.
	MembershipsBackoffBase time.Duration
}

// DefaultWorkerConfig returns production defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		FetchBackoffBase:       10 * time.Second,
		FetchBackoffMax:        60 * time.Second,
		MaxRetries:             10,
		MembershipsBackoffBase: backoff.DefaultBase,
	}
}

// catchUp fetches until storage reaches the highest announced change
// number. It retries under backoff; after MaxRetries fetches it bypasses
// the CDN by requesting that change number explicitly, and after
// MaxRetries more it gives up until the next notification.
//
// At most one fetch runs at a time. A notification arriving during a fetch
// only raises the target; the running loop picks it up when the fetch
// returns.
type catchUp struct {
	name    string
	ctx     context.Context
	cfg     WorkerConfig
	current func() int64
	fetch   func(ctx context.Context, till int64, inline *polling.InlineUpdate)
	// onFetched runs after a fetch that was not superseded by a newer
	// notification.
	onFetched func()

	backoff *backoff.Backoff

	mu              sync.Mutex
	maxChangeNumber int64
	handleNewEvent  bool
	isHandlingEvent bool
	cdnBypass       bool
	fetching        bool
	inline          *polling.InlineUpdate
}

func newCatchUp(ctx context.Context, name string, cfg WorkerConfig, current func() int64, fetch func(context.Context, int64, *polling.InlineUpdate)) *catchUp {
	c := &catchUp{
		name:            name,
		ctx:             ctx,
		cfg:             cfg,
		current:         current,
		fetch:           fetch,
		maxChangeNumber: -1,
	}
	c.backoff = backoff.New(c.handle, cfg.FetchBackoffBase, cfg.FetchBackoffMax)
	return c
}

// put raises the target to changeNumber. Stale notifications, at or below
// the stored or already targeted change number, are ignored. inline is
// applied instead of fetching when set.
func (c *catchUp) put(changeNumber int64, inline *polling.InlineUpdate) {
	current := c.current()

	c.mu.Lock()
	if changeNumber <= current || changeNumber <= c.maxChangeNumber {
		c.mu.Unlock()
		return
	}
	c.maxChangeNumber = changeNumber
	c.handleNewEvent = true
	c.cdnBypass = false
	c.inline = inline
	handling := c.isHandlingEvent
	c.mu.Unlock()

	// the backoff is reset before handling so that a retry scheduled by
	// the loop is never canceled after the fact
	pending := c.backoff.Pending()
	c.backoff.Reset()
	if pending || !handling {
		c.handle()
	}
}

// handle starts a fetch unless one is running or storage caught up.
func (c *catchUp) handle() {
	current := c.current()

	c.mu.Lock()
	c.isHandlingEvent = true
	if c.maxChangeNumber <= current {
		c.isHandlingEvent = false
		c.mu.Unlock()
		return
	}
	if c.fetching {
		c.mu.Unlock()
		return
	}
	c.fetching = true
	c.handleNewEvent = false
	till, inline := c.request()
	c.mu.Unlock()

	go c.loop(till, inline)
}

// request returns the parameters of the next fetch; mu must be held.
func (c *catchUp) request() (int64, *polling.InlineUpdate) {
	var till int64
	if c.cdnBypass {
		till = c.maxChangeNumber
	}
	return till, c.inline
}

func (c *catchUp) loop(till int64, inline *polling.InlineUpdate) {
	ctx := logging.ContextWithNewCorrelationID(c.ctx)
	for {
		mode := "fetch"
		switch {
		case inline != nil:
			mode = "inline"
		case till > 0:
			mode = "cdn_bypass"
		}
		metrics.RecordWorkerFetch(c.name, mode)
		c.fetch(ctx, till, inline)

		var next bool
		till, inline, next = c.afterFetch()
		if !next {
			return
		}
	}
}

// afterFetch decides what follows a fetch. It returns true with the
// parameters of the next fetch when the loop should fetch again right away.
func (c *catchUp) afterFetch() (int64, *polling.InlineUpdate, bool) {
	c.mu.Lock()
	if !c.isHandlingEvent {
		c.fetching = false
		c.mu.Unlock()
		return 0, nil, false
	}
	if c.handleNewEvent {
		c.mu.Unlock()
		return c.refetch()
	}
	c.mu.Unlock()

	if c.onFetched != nil {
		c.onFetched()
	}

	current := c.current()
	attempts := c.backoff.Attempts() + 1

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isHandlingEvent {
		c.fetching = false
		return 0, nil, false
	}
	if c.handleNewEvent && c.maxChangeNumber > current {
		c.handleNewEvent = false
		till, inline := c.request()
		return till, inline, true
	}

	if c.maxChangeNumber <= current {
		logging.Debug().Str("component", "push").Str("worker", c.name).Int("attempts", attempts).Bool("cdn_bypass", c.cdnBypass).Msg("Refresh completed")
		c.isHandlingEvent = false
		c.fetching = false
		return 0, nil, false
	}

	if attempts < c.cfg.MaxRetries {
		c.fetching = false
		c.backoff.ScheduleCall()
		return 0, nil, false
	}

	if c.cdnBypass {
		logging.Debug().Str("component", "push").Str("worker", c.name).Int("attempts", attempts).Msg("No changes fetched with CDN bypassed")
		metrics.RecordWorkerExhausted(c.name)
		c.isHandlingEvent = false
		c.fetching = false
		return 0, nil, false
	}

	c.backoff.Reset()
	c.cdnBypass = true
	c.handleNewEvent = false
	till, inline := c.request()
	return till, inline, true
}

// refetch restarts the loop for a target raised during the last fetch.
func (c *catchUp) refetch() (int64, *polling.InlineUpdate, bool) {
	current := c.current()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxChangeNumber <= current {
		c.isHandlingEvent = false
		c.fetching = false
		return 0, nil, false
	}
	c.handleNewEvent = false
	till, inline := c.request()
	return till, inline, true
}

// stop halts the loop after the running fetch and cancels scheduled retries.
func (c *catchUp) stop() {
	c.mu.Lock()
	c.isHandlingEvent = false
	c.mu.Unlock()
	c.backoff.Reset()
}
