// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

// Package metrics declares the Prometheus collectors of the sync engine.
//
// Collectors are package-level and registered on the default registry through
// promauto; the daemon exposes them on /metrics. Library code records values
// through the Record* helpers so that label sets stay consistent.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Readiness Metrics
	ReadinessEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "splitsync_readiness_events_total",
			Help: "Total number of readiness gate events emitted",
		},
		[]string{"event"}, // "init::ready", "init::cache-ready", "init::timeout", "state::update"
	)

	// Control Plane Fetch Metrics
	FetchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "splitsync_fetch_requests_total",
			Help: "Total number of control plane requests",
		},
		[]string{"resource", "status_code"}, // resource: "splitChanges", "segmentChanges", "memberships", "auth"
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "splitsync_fetch_duration_seconds",
			Help:    "Duration of control plane requests in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"resource"},
	)

	// Sync Task Metrics
	SyncTaskRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "splitsync_sync_task_runs_total",
			Help: "Total number of sync task executions",
		},
		[]string{"task", "result"}, // result: "success", "failure"
	)

	SplitsChangeNumber = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "splitsync_splits_change_number",
			Help: "Change number of the local split set",
		},
	)

	SplitsStored = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "splitsync_splits_stored",
			Help: "Number of splits held in storage",
		},
	)

	// Streaming Metrics
	PushEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "splitsync_push_events_total",
			Help: "Total number of push subsystem events",
		},
		[]string{"event"}, // "PUSH_SUBSYSTEM_UP", "PUSH_SUBSYSTEM_DOWN", "PUSH_RETRYABLE_ERROR", "PUSH_NONRETRYABLE_ERROR"
	)

	StreamingNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "splitsync_streaming_notifications_total",
			Help: "Total number of streaming notifications received",
		},
		[]string{"type"},
	)

	StreamingParseErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "splitsync_streaming_parse_errors_total",
			Help: "Total number of streaming messages dropped because they could not be parsed",
		},
	)

	StreamingConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "splitsync_streaming_connected",
			Help: "Whether the streaming connection is open (1) or not (0)",
		},
	)

	SyncMode = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "splitsync_sync_mode",
			Help: "Active sync mode: 0 = stopped, 1 = polling, 2 = streaming",
		},
	)

	// Update Worker Metrics
	WorkerFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "splitsync_worker_fetches_total",
			Help: "Total number of catch-up fetches issued by update workers",
		},
		[]string{"worker", "mode"}, // mode: "fetch", "cdn_bypass", "inline"
	)

	WorkerExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "splitsync_worker_exhausted_total",
			Help: "Total number of catch-up loops that gave up before reaching the target change number",
		},
		[]string{"worker"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "splitsync_circuit_breaker_state",
			Help: "Current circuit breaker state: 0 = closed, 1 = half-open, 2 = open",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "splitsync_circuit_breaker_requests_total",
			Help: "Total number of requests through the circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "splitsync_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Status Server Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "splitsync_api_requests_total",
			Help: "Total number of status API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "splitsync_api_request_duration_seconds",
			Help:    "Status API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

// Sync mode values of the SyncMode gauge
const (
	ModeStopped   = 0
	ModePolling   = 1
	ModeStreaming = 2
)

// RecordReadinessEvent counts a readiness gate event.
func RecordReadinessEvent(event string) {
	ReadinessEvents.WithLabelValues(event).Inc()
}

// RecordFetch records one control plane request. statusCode 0 means the
// request failed before a response was received.
func RecordFetch(resource string, statusCode int, duration time.Duration) {
	code := "error"
	if statusCode > 0 {
		code = strconv.Itoa(statusCode)
	}
	FetchRequests.WithLabelValues(resource, code).Inc()
	FetchDuration.WithLabelValues(resource).Observe(duration.Seconds())
}

// RecordSyncTask records the outcome of a sync task run.
func RecordSyncTask(task string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	SyncTaskRuns.WithLabelValues(task, result).Inc()
}

// RecordSplitsState updates the split storage gauges.
func RecordSplitsState(changeNumber int64, count int) {
	SplitsChangeNumber.Set(float64(changeNumber))
	SplitsStored.Set(float64(count))
}

// RecordPushEvent counts a push subsystem event.
func RecordPushEvent(event string) {
	PushEvents.WithLabelValues(event).Inc()
}

// RecordNotification counts a decoded streaming notification.
func RecordNotification(notificationType string) {
	StreamingNotifications.WithLabelValues(notificationType).Inc()
}

// RecordParseError counts a dropped streaming message.
func RecordParseError() {
	StreamingParseErrors.Inc()
}

// SetStreamingConnected updates the streaming connection gauge.
func SetStreamingConnected(connected bool) {
	if connected {
		StreamingConnected.Set(1)
		return
	}
	StreamingConnected.Set(0)
}

// SetSyncMode updates the sync mode gauge.
func SetSyncMode(mode int) {
	SyncMode.Set(float64(mode))
}

// RecordWorkerFetch counts a catch-up fetch of an update worker.
func RecordWorkerFetch(worker, mode string) {
	WorkerFetches.WithLabelValues(worker, mode).Inc()
}

// RecordWorkerExhausted counts a catch-up loop that gave up.
func RecordWorkerExhausted(worker string) {
	WorkerExhausted.WithLabelValues(worker).Inc()
}

// RecordAPIRequest records a status API request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
