// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package services

import (
	"context"
	"time"

	"github.com/tomtom215/splitsync/internal/logging"
)

// Engine matches the lifecycle of the synchronization engines.
//
// Satisfied by *sync.Manager, *sync.SharedSync, *localhost.Manager and
// *localhost.SharedSync.
type Engine interface {
	Start(ctx context.Context)
	Stop()
	Flush(ctx context.Context) error
}

// EngineService wraps a synchronization engine as a supervised service.
//
// It adapts the Start/Stop lifecycle pattern to suture's Serve pattern:
//  1. Calls Start(ctx) to begin synchronization
//  2. Waits for context cancellation
//  3. Flushes pending submitter data, then calls Stop()
type EngineService struct {
	engine       Engine
	name         string
	flushTimeout time.Duration
}

// NewEngineService creates a new engine service wrapper.
func NewEngineService(name string, engine Engine, flushTimeout time.Duration) *EngineService {
	if flushTimeout <= 0 {
		flushTimeout = 5 * time.Second
	}
	return &EngineService{
		engine:       engine,
		name:         name,
		flushTimeout: flushTimeout,
	}
}

// Serve implements suture.Service.
//
// Start spawns the engine goroutines and returns immediately. Stop blocks
// until they exit. A flush failure is logged; it never prevents Stop.
func (s *EngineService) Serve(ctx context.Context) error {
	s.engine.Start(ctx)

	<-ctx.Done()

	// ctx is already canceled, flush on a fresh one
	flushCtx, cancel := context.WithTimeout(context.Background(), s.flushTimeout)
	defer cancel()
	if err := s.engine.Flush(flushCtx); err != nil {
		logging.Warn().Err(err).Str("service", s.name).Msg("Flush on shutdown failed")
	}

	s.engine.Stop()

	return ctx.Err()
}

// String implements fmt.Stringer for logging.
// Suture uses this to identify the service in log messages.
func (s *EngineService) String() string {
	return s.name
}
