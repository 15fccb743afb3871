// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	io_prometheus_client "github.com/prometheus/client_model/go"
)

// histogramCount extracts the sample count of a Prometheus histogram
func histogramCount(t *testing.T, observer prometheus.Observer) uint64 {
	t.Helper()
	metric, ok := observer.(prometheus.Metric)
	if !ok {
		t.Fatalf("observer %T is not a metric", observer)
	}
	var m io_prometheus_client.Metric
	if err := metric.Write(&m); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func TestRecordFetch(t *testing.T) {
	tests := []struct {
		name       string
		resource   string
		statusCode int
		wantLabel  string
	}{
		{"success", "splitChanges", 200, "200"},
		{"server error", "segmentChanges", 503, "503"},
		{"transport failure", "memberships", 0, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(FetchRequests.WithLabelValues(tt.resource, tt.wantLabel))
			RecordFetch(tt.resource, tt.statusCode, 15*time.Millisecond)
			after := testutil.ToFloat64(FetchRequests.WithLabelValues(tt.resource, tt.wantLabel))

			if after != before+1 {
				t.Errorf("counter = %v, want %v", after, before+1)
			}
		})
	}
}

func TestRecordFetch_Duration(t *testing.T) {
	before := histogramCount(t, FetchDuration.WithLabelValues("auth"))
	RecordFetch("auth", 200, 250*time.Millisecond)
	if got := histogramCount(t, FetchDuration.WithLabelValues("auth")); got != before+1 {
		t.Errorf("sample count = %d, want %d", got, before+1)
	}
}

func TestRecordSyncTask(t *testing.T) {
	before := testutil.ToFloat64(SyncTaskRuns.WithLabelValues("splits", "failure"))
	RecordSyncTask("splits", false)
	if got := testutil.ToFloat64(SyncTaskRuns.WithLabelValues("splits", "failure")); got != before+1 {
		t.Errorf("failure counter = %v, want %v", got, before+1)
	}
}

func TestGauges(t *testing.T) {
	RecordSplitsState(1234, 7)
	if got := testutil.ToFloat64(SplitsChangeNumber); got != 1234 {
		t.Errorf("SplitsChangeNumber = %v, want 1234", got)
	}
	if got := testutil.ToFloat64(SplitsStored); got != 7 {
		t.Errorf("SplitsStored = %v, want 7", got)
	}

	SetStreamingConnected(true)
	if got := testutil.ToFloat64(StreamingConnected); got != 1 {
		t.Errorf("StreamingConnected = %v, want 1", got)
	}
	SetStreamingConnected(false)
	if got := testutil.ToFloat64(StreamingConnected); got != 0 {
		t.Errorf("StreamingConnected = %v, want 0", got)
	}

	SetSyncMode(ModeStreaming)
	if got := testutil.ToFloat64(SyncMode); got != ModeStreaming {
		t.Errorf("SyncMode = %v, want %v", got, ModeStreaming)
	}
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(WorkerFetches.WithLabelValues("splits", "cdn_bypass"))
	RecordWorkerFetch("splits", "cdn_bypass")
	if got := testutil.ToFloat64(WorkerFetches.WithLabelValues("splits", "cdn_bypass")); got != before+1 {
		t.Errorf("WorkerFetches = %v, want %v", got, before+1)
	}

	beforeParse := testutil.ToFloat64(StreamingParseErrors)
	RecordParseError()
	if got := testutil.ToFloat64(StreamingParseErrors); got != beforeParse+1 {
		t.Errorf("StreamingParseErrors = %v, want %v", got, beforeParse+1)
	}
}
