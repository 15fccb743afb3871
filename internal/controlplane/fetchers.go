// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package controlplane

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/splitsync/internal/models"
)

// AuthResponse is the raw body of the auth endpoint.
type AuthResponse struct {
	PushEnabled bool   `json:"pushEnabled"`
	Token       string `json:"token"`
	ConnDelay   *int64 `json:"connDelay,omitempty"` // seconds
}

// FetchSplitChanges fetches split mutations since the given change number.
func (c *Client) FetchSplitChanges(ctx context.Context, since int64, opts FetchOptions) (*models.SplitChanges, error) {
	q := "since=" + formatInt(since)
	if opts.Till > 0 {
		q += "&till=" + formatInt(opts.Till)
	}
	if filter := c.filterQuery(); filter != "" {
		q += "&" + filter
	}

	body, err := c.get(ctx, ResourceSplitChanges, c.cfg.SDKURL+"/splitChanges?"+q, opts.NoCache)
	if err != nil {
		return nil, err
	}

	var changes models.SplitChanges
	if err := json.Unmarshal(body, &changes); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", ResourceSplitChanges, err)
	}
	return &changes, nil
}

// FetchSegmentChanges fetches one page of key changes of a segment.
func (c *Client) FetchSegmentChanges(ctx context.Context, name string, since int64, opts FetchOptions) (*models.SegmentChanges, error) {
	q := "since=" + formatInt(since)
	if opts.Till > 0 {
		q += "&till=" + formatInt(opts.Till)
	}
	reqURL := c.cfg.SDKURL + "/segmentChanges/" + url.PathEscape(name) + "?" + q

	body, err := c.get(ctx, ResourceSegmentChanges, reqURL, opts.NoCache)
	if err != nil {
		return nil, err
	}

	var changes models.SegmentChanges
	if err := json.Unmarshal(body, &changes); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", ResourceSegmentChanges, err)
	}
	if changes.Name == "" {
		changes.Name = name
	}
	return &changes, nil
}

// FetchMemberships fetches the segment and large-segment memberships of a key.
func (c *Client) FetchMemberships(ctx context.Context, key string, opts FetchOptions) (*models.Memberships, error) {
	reqURL := c.cfg.SDKURL + "/memberships/" + url.PathEscape(key)
	if opts.Till > 0 {
		reqURL += "?till=" + formatInt(opts.Till)
	}

	body, err := c.get(ctx, ResourceMemberships, reqURL, opts.NoCache)
	if err != nil {
		return nil, err
	}

	var m models.Memberships
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", ResourceMemberships, err)
	}
	return &m, nil
}

// FetchAuth requests a streaming token. userKeys is used by client-side
// engines to subscribe to their membership channels.
func (c *Client) FetchAuth(ctx context.Context, userKeys []string) (*AuthResponse, error) {
	reqURL := c.cfg.AuthURL + "/v2/auth"
	if len(userKeys) > 0 {
		q := url.Values{}
		for _, k := range userKeys {
			q.Add("users", k)
		}
		reqURL += "?" + q.Encode()
	}

	body, err := c.get(ctx, ResourceAuth, reqURL, false)
	if err != nil {
		return nil, err
	}

	var resp AuthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", ResourceAuth, err)
	}
	return &resp, nil
}

// filterQuery renders the flag filter. Values are sorted and deduplicated
// so that equivalent configurations share CDN cache entries.
func (c *Client) filterQuery() string {
	switch {
	case len(c.cfg.FlagSets) > 0:
		return "sets=" + url.QueryEscape(joinSorted(c.cfg.FlagSets))
	case len(c.cfg.FlagNames) > 0:
		return "names=" + url.QueryEscape(joinSorted(c.cfg.FlagNames))
	}
	return ""
}

func joinSorted(values []string) string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}
