// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

/*
Package controlplane is the HTTP client for the feature flag control plane.

It serves four resources:
  - GET <sdk>/splitChanges?since=N[&till=N][&sets=..|&names=..]
  - GET <sdk>/segmentChanges/<name>?since=N[&till=N]
  - GET <sdk>/memberships/<key>[?till=N]
  - GET <auth>/v2/auth[?users=k1&users=k2]

Every request carries the SDK key as a bearer token and the SDK version
header. A fetch with NoCache set sends Cache-Control: no-cache so that
intermediate caches revalidate; a fetch with Till set asks the CDN for a
response no older than that change number.

Resilience:
  - Circuit Breaker: one breaker per client, opening after a 60% failure
    rate over at least 10 requests. Client errors (4xx) do not count.
  - Rate Limiting: a token bucket shared by all resources.

Retries are not performed here. The polling tasks and update workers own
their retry policies.
*/
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/splitsync/internal/logging"
	"github.com/tomtom215/splitsync/internal/metrics"
)

// maxErrorBodySize limits how much of an error response is kept.
const maxErrorBodySize = 64 * 1024

// maxErrorMessageBody bounds the body quoted by HTTPError.Error.
const maxErrorMessageBody = 512

// Resource names used for metrics and errors
const (
	ResourceSplitChanges   = "splitChanges"
	ResourceSegmentChanges = "segmentChanges"
	ResourceMemberships    = "memberships"
	ResourceAuth           = "auth"
)

// Config configures a Client.
type Config struct {
	SDKKey     string
	SDKVersion string
	SDKURL     string
	AuthURL    string

	// Timeout bounds every request. Zero means 30 seconds.
	Timeout time.Duration

	// RequestsPerSecond and Burst configure the shared rate limiter.
	// Zero RequestsPerSecond disables limiting.
	RequestsPerSecond float64
	Burst             int

	// FlagSets and FlagNames restrict /splitChanges. At most one is used,
	// flag sets first.
	FlagSets  []string
	FlagNames []string

	// HTTPClient overrides the default client, mostly for tests.
	HTTPClient *http.Client
}

// FetchOptions tunes a single fetch.
type FetchOptions struct {
	// NoCache asks intermediaries to revalidate.
	NoCache bool

	// Till, when positive, bypasses CDN caches older than this change number.
	Till int64
}

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	Resource   string
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s request failed with status %d", e.Resource, e.StatusCode)
	}
	return fmt.Sprintf("%s request failed with status %d: %s", e.Resource, e.StatusCode, logging.Truncate(e.Body, maxErrorMessageBody))
}

// IsClientError reports whether the status is in the 4xx range.
func (e *HTTPError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// StatusCode extracts the HTTP status of err, or 0 when err is not an HTTPError.
func StatusCode(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}

// Client talks to the control plane. It is safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]byte]
	name    string
}

// NewClient creates a control plane client.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	name := "control-plane"
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: limiter,
		breaker: newBreaker(name),
		name:    name,
	}
}

// get performs a GET through the rate limiter and circuit breaker and
// returns the response body of a 2xx response.
func (c *Client) get(ctx context.Context, resource, reqURL string, noCache bool) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s rate limit wait: %w", resource, err)
		}
	}

	return execute(c.breaker, c.name, func() ([]byte, error) {
		return c.do(ctx, resource, reqURL, noCache)
	})
}

func (c *Client) do(ctx context.Context, resource, reqURL string, noCache bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", resource, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.SDKKey)
	req.Header.Set("Accept", "application/json")
	if c.cfg.SDKVersion != "" {
		req.Header.Set("SplitSDKVersion", c.cfg.SDKVersion)
	}
	if noCache {
		req.Header.Set("Cache-Control", "no-cache")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordFetch(resource, 0, time.Since(start))
		return nil, fmt.Errorf("%s request failed: %w", resource, err)
	}
	defer resp.Body.Close()
	metrics.RecordFetch(resource, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{
			Resource:   resource,
			StatusCode: resp.StatusCode,
			URL:        req.URL.Path,
			Body:       string(readBodyForError(resp.Body)),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", resource, err)
	}
	return body, nil
}

// readBodyForError reads at most maxErrorBodySize bytes of an error body.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("\n... (truncated)")...)
	}
	return body
}

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}
