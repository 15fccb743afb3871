// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package sync

import (
	"github.com/tomtom215/splitsync/internal/controlplane"
	"github.com/tomtom215/splitsync/internal/polling"
	"github.com/tomtom215/splitsync/internal/push"
	"github.com/tomtom215/splitsync/internal/readiness"
	"github.com/tomtom215/splitsync/internal/storage"
)

// EngineConfig configures a complete synchronization engine.
type EngineConfig struct {
	Sync    Config
	Polling polling.Config
	Push    push.Config
}

// NewServerSide wires polling and push for a server-side engine: all
// segments are synchronized and streaming authenticates with the SDK key.
func NewServerSide(cfg EngineConfig, client *controlplane.Client, store *storage.Storage, rd *readiness.Manager, submitters ...Submitter) *Manager {
	pm := polling.NewServerSideManager(client, store, rd, cfg.Polling)

	var pu PushManager
	if cfg.Sync.StreamingEnabled {
		pu = push.NewServerSideManager(cfg.Push, client, store, rd, pm.SplitsUpdater(), pm.SegmentsUpdater())
	}
	return NewManager(cfg.Sync, pm, pu, store, rd, submitters...)
}

// NewClientSide wires polling and push for a client-side engine bound to
// key. More keys are added with Manager.Shared.
func NewClientSide(cfg EngineConfig, client *controlplane.Client, key string, store *storage.Storage, rd *readiness.Manager, submitters ...Submitter) *Manager {
	pm := polling.NewClientSideManager(client, key, store, rd, cfg.Polling)

	var pu PushManager
	if cfg.Sync.StreamingEnabled {
		cpu := push.NewClientSideManager(cfg.Push, client, store, rd, pm.SplitsUpdater())
		if task, ok := pm.Get(key); ok {
			cpu.Add(key, task, store)
		}
		pu = cpu
	}
	return NewManager(cfg.Sync, pm, pu, store, rd, submitters...)
}
