// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

/*
Package sse is the streaming transport: an HTTP Server-Sent Events client
that subscribes to the channels granted by a streaming token.

Connection URL:

	<streaming>/sse?channels=<csv>&accessToken=<token>&v=1.1&heartbeats=true

Control channels (control_*) are requested with the
[?occupancy=metrics.publishers] prefix so that the stream also carries
publisher occupancy.

Callbacks:
  - OnOpen once the server accepted the request
  - OnMessage for every "message" event
  - OnError for "error" events, non-2xx responses and broken streams

Open closes any previous connection first. Callbacks of a closed
connection are suppressed: every connection carries a generation and a
callback is delivered only while its generation is current.
*/
package sse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/tomtom215/splitsync/internal/logging"
	"github.com/tomtom215/splitsync/internal/metrics"
	"github.com/tomtom215/splitsync/internal/models"
)

// APIVersion is the streaming protocol version requested.
const APIVersion = "1.1"

// OccupancyPrefix asks for publisher occupancy on a control channel. Messages
// of those channels carry it in their channel name.
const OccupancyPrefix = "[?occupancy=metrics.publishers]"

const maxErrorBodySize = 64 * 1024

// ErrStreamClosed reports that the server ended the stream.
var ErrStreamClosed = errors.New("sse: stream closed by server")

// ErrorEvent is an "error" event sent by the streaming server.
type ErrorEvent struct {
	Data string
}

func (e *ErrorEvent) Error() string {
	return "sse: error event: " + e.Data
}

// StatusError is returned when the server rejects the connection.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sse: unexpected status %d", e.StatusCode)
}

// Handler receives connection callbacks. Callbacks run on the connection
// goroutine and may call Open or Close.
type Handler interface {
	OnOpen()
	OnMessage(Event)
	OnError(error)
}

// Config configures a Client.
type Config struct {
	StreamingURL string
	SDKVersion   string

	// HTTPClient overrides the default client. It must not set a timeout.
	HTTPClient *http.Client
}

// Client manages one streaming connection at a time.
type Client struct {
	cfg     Config
	http    *http.Client
	handler Handler

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
}

// NewClient creates a client delivering callbacks to handler.
func NewClient(cfg Config, handler Handler) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{cfg: cfg, http: httpClient, handler: handler}
}

// Open connects with token, closing any previous connection.
func (c *Client) Open(token *models.AuthToken) {
	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.generation++
	gen := c.generation
	c.cancel = cancel
	c.mu.Unlock()

	connID := uuid.New().String()[:8]
	reqURL := c.URL(token)
	logging.Debug().
		Str("component", "sse").
		Str("conn_id", connID).
		Str("url", logging.RedactURL(reqURL)).
		Msg("Opening streaming connection")

	go c.run(ctx, gen, connID, reqURL)
}

// Close closes the current connection, if any. Its pending callbacks are
// dropped.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel == nil {
		return
	}
	c.cancel()
	c.cancel = nil
	c.generation++
	metrics.SetStreamingConnected(false)
	logging.Debug().Str("component", "sse").Msg("Closed streaming connection")
}

// URL builds the connection URL for token.
func (c *Client) URL(token *models.AuthToken) string {
	names := token.ChannelNames()
	sort.Strings(names)

	channels := make([]string, 0, len(names))
	for _, name := range names {
		if strings.HasPrefix(name, "control_") {
			name = OccupancyPrefix + name
		}
		channels = append(channels, url.QueryEscape(name))
	}

	return c.cfg.StreamingURL + "/sse?channels=" + strings.Join(channels, ",") +
		"&accessToken=" + url.QueryEscape(token.Token) +
		"&v=" + APIVersion +
		"&heartbeats=true"
}

// current reports whether gen is the live connection.
func (c *Client) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation == gen
}

func (c *Client) run(ctx context.Context, gen uint64, connID, reqURL string) {
	err := c.stream(ctx, gen, connID, reqURL)
	if ctx.Err() != nil {
		return
	}
	if err == nil {
		err = ErrStreamClosed
	}

	logging.Debug().Str("component", "sse").Str("conn_id", connID).Err(err).Msg("Streaming connection ended")
	if c.current(gen) {
		metrics.SetStreamingConnected(false)
		c.handler.OnError(err)
	}
}

func (c *Client) stream(ctx context.Context, gen uint64, connID, reqURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create streaming request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if c.cfg.SDKVersion != "" {
		req.Header.Set("SplitSDKVersion", c.cfg.SDKVersion)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("streaming request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logging.Trace().Err(closeErr).Msg("Failed to close streaming body")
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if !c.current(gen) {
		return nil
	}
	logging.Info().Str("component", "sse").Str("conn_id", connID).Msg("Streaming connection open")
	metrics.SetStreamingConnected(true)
	c.handler.OnOpen()

	scanner := NewScanner(resp.Body)
	for scanner.Next() {
		if !c.current(gen) {
			return nil
		}
		event := scanner.Event()
		if event.Type == "error" {
			return &ErrorEvent{Data: event.Data}
		}
		c.handler.OnMessage(event)
	}
	return scanner.Err()
}
