// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package models

import "time"

// AuthToken is the outcome of a push authentication. When PushEnabled is
// false the remaining fields are empty and streaming must not be attempted.
type AuthToken struct {
	PushEnabled bool
	Token       string

	// ConnDelay is how long to wait before opening the stream; negative
	// when the control plane did not say.
	ConnDelay time.Duration

	// decoded JWT claims
	IssuedAt  int64
	ExpiresAt int64
	Channels  map[string][]string
}

// ChannelNames returns the channels the token authorizes, in no particular order.
func (t *AuthToken) ChannelNames() []string {
	names := make([]string, 0, len(t.Channels))
	for name := range t.Channels {
		names = append(names, name)
	}
	return names
}
