// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package models

// NotificationType tags the variants of Notification.
type NotificationType string

// Notification types delivered over the streaming channel
const (
	TypeSplitUpdate         NotificationType = "SPLIT_UPDATE"
	TypeSplitKill           NotificationType = "SPLIT_KILL"
	TypeSegmentUpdate       NotificationType = "SEGMENT_UPDATE"
	TypeMembershipsMSUpdate NotificationType = "MEMBERSHIPS_MS_UPDATE"
	TypeMembershipsLSUpdate NotificationType = "MEMBERSHIPS_LS_UPDATE"
	TypeControl             NotificationType = "CONTROL"
	TypeOccupancy           NotificationType = "OCCUPANCY"
)

// ControlType is the payload of a CONTROL notification.
type ControlType string

// Control types
const (
	ControlStreamingPaused   ControlType = "STREAMING_PAUSED"
	ControlStreamingResumed  ControlType = "STREAMING_RESUMED"
	ControlStreamingDisabled ControlType = "STREAMING_DISABLED"
	ControlStreamingReset    ControlType = "STREAMING_RESET"
)

// Compression identifies how an inline payload is encoded before base64.
type Compression int

// Compression schemes
const (
	CompressionNone Compression = 0
	CompressionGzip Compression = 1
	CompressionZlib Compression = 2
)

// UpdateStrategy tells a memberships worker how to interpret an update.
type UpdateStrategy int

// Memberships update strategies
const (
	StrategyUnboundedFetchRequest UpdateStrategy = 0
	StrategyBoundedFetchRequest   UpdateStrategy = 1
	StrategyKeyList               UpdateStrategy = 2
	StrategySegmentRemoval        UpdateStrategy = 3
)

// Notification is a decoded streaming message. Notifications are ephemeral:
// they drive workers and are never persisted.
type Notification interface {
	Type() NotificationType
	Meta() Envelope
}

// Envelope carries the fields shared by every notification.
type Envelope struct {
	Channel   string
	Timestamp int64
}

// SplitUpdate announces a new split change number. When PreviousChangeNumber
// is set and Data is not empty, Data holds the updated split definition.
type SplitUpdate struct {
	Envelope
	ChangeNumber         int64
	PreviousChangeNumber *int64
	Compression          Compression
	Data                 string
}

// SplitKill announces a split killed at ChangeNumber.
type SplitKill struct {
	Envelope
	ChangeNumber     int64
	SplitName        string
	DefaultTreatment string
}

// SegmentUpdate announces a new change number for a server-side segment.
type SegmentUpdate struct {
	Envelope
	ChangeNumber int64
	SegmentName  string
}

// MembershipsUpdate announces a change of client-side (large) segment memberships.
type MembershipsUpdate struct {
	Envelope
	Kind         NotificationType
	ChangeNumber int64
	Strategy     UpdateStrategy
	Compression  Compression
	Data         string
	Names        []string
	HashSeed     uint32
	Algorithm    int
	Interval     int64
}

// Control carries a streaming control command.
type Control struct {
	Envelope
	ControlType ControlType
}

// Occupancy reports the number of publishers on a control channel.
type Occupancy struct {
	Envelope
	Publishers int
}

// Type implements Notification.
func (SplitUpdate) Type() NotificationType { return TypeSplitUpdate }

// Type implements Notification.
func (SplitKill) Type() NotificationType { return TypeSplitKill }

// Type implements Notification.
func (SegmentUpdate) Type() NotificationType { return TypeSegmentUpdate }

// Type implements Notification.
func (n MembershipsUpdate) Type() NotificationType { return n.Kind }

// Type implements Notification.
func (Control) Type() NotificationType { return TypeControl }

// Type implements Notification.
func (Occupancy) Type() NotificationType { return TypeOccupancy }

// Meta implements Notification.
func (e Envelope) Meta() Envelope { return e }
