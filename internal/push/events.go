// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package push

// Event is a push subsystem event delivered to Manager listeners.
type Event string

// Push subsystem events
const (
	// SubsystemUp means notifications are flowing; polling can stop.
	SubsystemUp Event = "PUSH_SUBSYSTEM_UP"

	// SubsystemDown means notifications are not flowing; polling must run.
	SubsystemDown Event = "PUSH_SUBSYSTEM_DOWN"

	// RetryableError is raised internally when the connection failed and
	// will be retried under backoff.
	RetryableError Event = "PUSH_RETRYABLE_ERROR"

	// NonRetryableError is raised internally when streaming is disabled
	// for good.
	NonRetryableError Event = "PUSH_NONRETRYABLE_ERROR"

	// StreamingReset asks for a reconnection with a fresh token.
	StreamingReset Event = "STREAMING_RESET"
)

// State is the connection state of the Manager.
type State string

// Manager states
const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateReconnecting State = "RECONNECTING"
)
