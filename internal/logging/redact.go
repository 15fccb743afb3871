// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package logging

import (
	"net/url"
	"strings"
)

// sensitiveParams are query parameters stripped by RedactURL.
var sensitiveParams = []string{"accessToken", "access_token", "token", "apikey"}

// RedactKey masks an SDK key or token, keeping the last 4 characters.
// Example: "abcdefghijklmnop" -> "****mnop"
func RedactKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "***"
	}
	return "****" + key[len(key)-4:]
}

// RedactURL masks credentials carried in the query string of raw.
// Unparseable input is replaced entirely.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	if u.RawQuery == "" {
		return raw
	}

	q := u.Query()
	changed := false
	for _, p := range sensitiveParams {
		if v := q.Get(p); v != "" {
			q.Set(p, RedactKey(v))
			changed = true
		}
	}
	if !changed {
		return raw
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Truncate shortens s to maxLen bytes, appending "..." when cut.
// Used for response bodies attached to errors.
func Truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
