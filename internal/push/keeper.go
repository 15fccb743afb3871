// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package push

import (
	"strings"
	"sync"

	"github.com/tomtom215/splitsync/internal/models"
)

// region tracks one control channel.
type region struct {
	suffix        string
	hasPublishers bool
	occupancyTime int64
	controlTime   int64
}

// keeper derives the streaming health from occupancy and control
// notifications and reports edges through emit.
type keeper struct {
	emit func(Event)

	mu            sync.Mutex
	regions       []*region
	hasResumed    bool
	hasPublishers bool
}

func newKeeper(emit func(Event)) *keeper {
	k := &keeper{emit: emit}
	k.reset()
	return k
}

// reset restores the initial state: resumed, with publishers, no timestamps.
func (k *keeper) reset() {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.regions = []*region{
		{suffix: "control_pri", hasPublishers: true, occupancyTime: -1, controlTime: -1},
		{suffix: "control_sec", hasPublishers: true, occupancyTime: -1, controlTime: -1},
	}
	k.hasResumed = true
	k.hasPublishers = true
}

func (k *keeper) handleOpen() {
	k.emit(SubsystemUp)
}

func (k *keeper) isStreamingUp() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.hasResumed && k.hasPublishers
}

func (k *keeper) region(channel string) *region {
	for _, r := range k.regions {
		if strings.HasSuffix(channel, r.suffix) {
			return r
		}
	}
	return nil
}

// handleOccupancy applies an occupancy notification newer than the last one
// of its region.
func (k *keeper) handleOccupancy(n *models.Occupancy) {
	k.mu.Lock()
	r := k.region(n.Channel)
	if r == nil || n.Timestamp <= r.occupancyTime {
		k.mu.Unlock()
		return
	}
	r.occupancyTime = n.Timestamp
	r.hasPublishers = n.Publishers != 0

	now := false
	for _, reg := range k.regions {
		now = now || reg.hasPublishers
	}

	var event Event
	if k.hasResumed {
		switch {
		case !now && k.hasPublishers:
			event = SubsystemDown
		case now && !k.hasPublishers:
			event = SubsystemUp
		}
	}
	k.hasPublishers = now
	k.mu.Unlock()

	if event != "" {
		k.emit(event)
	}
}

// handleControl applies a control notification newer than the last one of
// its region. STREAMING_RESET is forwarded without tracking.
func (k *keeper) handleControl(n *models.Control) {
	if n.ControlType == models.ControlStreamingReset {
		k.emit(StreamingReset)
		return
	}

	k.mu.Lock()
	r := k.region(n.Channel)
	if r == nil || n.Timestamp <= r.controlTime {
		k.mu.Unlock()
		return
	}
	r.controlTime = n.Timestamp

	var event Event
	switch {
	case n.ControlType == models.ControlStreamingDisabled:
		event = NonRetryableError
	case k.hasPublishers && n.ControlType == models.ControlStreamingPaused && k.hasResumed:
		event = SubsystemDown
	case k.hasPublishers && n.ControlType == models.ControlStreamingResumed && !k.hasResumed:
		event = SubsystemUp
	}
	k.hasResumed = n.ControlType != models.ControlStreamingPaused
	k.mu.Unlock()

	if event != "" {
		k.emit(event)
	}
}
