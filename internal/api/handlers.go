// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package api

import (
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/splitsync/internal/models"
	"github.com/tomtom215/splitsync/internal/readiness"
)

// StatusSource reports the readiness flags of a client.
type StatusSource interface {
	Snapshot() readiness.StatusSnapshot
}

// SplitSource is the read side of the split storage.
type SplitSource interface {
	ChangeNumber() int64
	Names() []string
	Split(name string) (models.Split, bool)
}

// HandlerConfig wires a Handler to the running engine.
type HandlerConfig struct {
	Status  StatusSource
	Splits  SplitSource
	Mode    func() string // nil reports "unknown"
	Version string
}

// Handler serves the status endpoints.
type Handler struct {
	status  StatusSource
	splits  SplitSource
	mode    func() string
	version string
	started time.Time
}

// NewHandler creates a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	mode := cfg.Mode
	if mode == nil {
		mode = func() string { return "unknown" }
	}
	return &Handler{
		status:  cfg.Status,
		splits:  cfg.Splits,
		mode:    mode,
		version: cfg.Version,
		started: time.Now(),
	}
}

// StatusResponse is the payload of GET /api/v1/status.
type StatusResponse struct {
	Version   string                   `json:"version"`
	Uptime    string                   `json:"uptime"`
	Mode      string                   `json:"mode"`
	Readiness readiness.StatusSnapshot `json:"readiness"`
	Splits    SplitsSummary            `json:"splits"`
}

// SplitsSummary describes the stored split set.
type SplitsSummary struct {
	ChangeNumber int64    `json:"changeNumber"`
	Count        int      `json:"count"`
	Names        []string `json:"names,omitempty"`
}

// Health reports process liveness.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n")) //nolint:errcheck // best effort
}

// Ready reports 200 while the client is ready and not destroyed, 503 otherwise.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	snap := h.status.Snapshot()
	rw := NewResponseWriter(w, r)

	switch {
	case snap.IsDestroyed:
		rw.ServiceUnavailable("client destroyed")
	case !snap.IsReady:
		rw.ServiceUnavailable("flag set not synchronized yet")
	default:
		rw.Success(snap)
	}
}

// Status reports readiness, sync mode and a split summary.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(StatusResponse{
		Version:   h.version,
		Uptime:    time.Since(h.started).Truncate(time.Second).String(),
		Mode:      h.mode(),
		Readiness: h.status.Snapshot(),
		Splits:    h.summary(false),
	})
}

// Splits lists the stored split names with the change number.
func (h *Handler) Splits(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(h.summary(true))
}

// Split returns one stored split definition.
func (h *Handler) Split(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	rw := NewResponseWriter(w, r)

	split, ok := h.splits.Split(name)
	if !ok {
		rw.NotFound("split " + name + " not found")
		return
	}
	rw.Success(split)
}

func (h *Handler) summary(withNames bool) SplitsSummary {
	names := h.splits.Names()
	s := SplitsSummary{
		ChangeNumber: h.splits.ChangeNumber(),
		Count:        len(names),
	}
	if withNames {
		sort.Strings(names)
		s.Names = names
	}
	return s
}
