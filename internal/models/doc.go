// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

/*
Package models defines the data structures exchanged with the feature flag
control plane and passed between the sync engine components.

Model Categories:

1. Control plane payloads:
  - Split: a feature flag definition, replaced wholesale on every fetch
  - SplitChanges: a page of split mutations between two change numbers
  - SegmentChanges: a page of key additions/removals for one segment
  - Memberships: the segment and large-segment lists of a single user key

2. Streaming notifications (see Notification):
  - SplitUpdate, SplitKill, SegmentUpdate, MembershipsUpdate
  - Control, Occupancy

3. Authentication:
  - AuthToken: push authorization and decoded JWT claims

Change numbers are int64 values stamped by the control plane. A stored change
number never decreases; "newer" always means strictly greater. -1 denotes an
entity that has never been fetched.
*/
package models
