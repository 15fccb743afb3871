// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

/*
Package api provides the status HTTP server of the splitsync daemon.

The server is read-only: it exposes liveness, readiness and a summary of the
synchronized flag set so orchestrators and operators can observe the engine.

Endpoints:

  - GET /health: process liveness, always 200
  - GET /ready: 200 once the flag set is ready, 503 before that or after destroy
  - GET /metrics: Prometheus metrics
  - GET /api/v1/status: readiness flags, sync mode and split summary
  - GET /api/v1/splits: names and change number of the stored splits
  - GET /api/v1/splits/{name}: one stored split definition

Middleware Stack:

Routes are served by Chi with the following global middleware, in order:

  - RequestID: X-Request-ID propagated into the logging correlation ID
  - RealIP and Recoverer from chi/middleware
  - CORS via go-chi/cors (no origins allowed unless configured)
  - Metrics: per-route request count and duration
  - RateLimit via go-chi/httprate on /api/v1 (by client IP)

Usage Example:

	handler := api.NewHandler(api.HandlerConfig{
	    Status:  rd.Status(),
	    Splits:  store.Splits,
	    Mode:    func() string { return string(engine.Mode()) },
	    Version: version,
	})
	router := api.NewRouter(handler, api.DefaultChiMiddlewareConfig())
	srv := &http.Server{Addr: ":8080", Handler: router}

Responses:

JSON endpoints use the APIResponse envelope written with goccy/go-json:

	{"success": true, "data": {...}, "meta": {"request_id": "...", "timestamp": "..."}}

Thread Safety:

Handler only reads through the StatusSource and SplitSource interfaces, whose
implementations are safe for concurrent use.
*/
package api
