// SPDX-License-Identifier: MIT

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRequest(t *testing.T) {
	requestsTotal.Reset()

	RecordRequest(OutcomePassedThrough)
	RecordRequest(OutcomePassedThrough)
	RecordRequest(OutcomeMocked)

	if got := testutil.ToFloat64(requestsTotal.WithLabelValues(OutcomePassedThrough)); got != 2 {
		t.Errorf("expected passed_through=2, got %f", got)
	}
	if got := testutil.ToFloat64(requestsTotal.WithLabelValues(OutcomeMocked)); got != 1 {
		t.Errorf("expected mocked=1, got %f", got)
	}
}

func TestRecordPluginError(t *testing.T) {
	pluginErrorsTotal.Reset()

	RecordPluginError("throttle", "beforeRequest")
	RecordPluginError("throttle", "beforeRequest")

	if got := testutil.ToFloat64(pluginErrorsTotal.WithLabelValues("throttle", "beforeRequest")); got != 2 {
		t.Errorf("expected throttle/beforeRequest=2, got %f", got)
	}
}

func TestObserveUpstreamDuration(t *testing.T) {
	ObserveUpstreamDuration(25 * time.Millisecond)

	if count := testutil.CollectAndCount(upstreamDuration); count == 0 {
		t.Error("expected upstreamDuration to have observations, got 0")
	}
}

func TestSetRecordingBufferDepth(t *testing.T) {
	SetRecordingBufferDepth(7)
	if got := testutil.ToFloat64(recordingBufferDepth); got != 7 {
		t.Errorf("expected recordingBufferDepth=7, got %f", got)
	}
}

func TestSetSessionsActive(t *testing.T) {
	SetSessionsActive(3)
	if got := testutil.ToFloat64(sessionsActive); got != 3 {
		t.Errorf("expected sessionsActive=3, got %f", got)
	}
}

func TestRecordLeafCertMinted(t *testing.T) {
	before := testutil.ToFloat64(leafCertsMinted)

	RecordLeafCertMinted()
	RecordLeafCertMinted()

	if got := testutil.ToFloat64(leafCertsMinted); got != before+2 {
		t.Errorf("expected leafCertsMinted to increase by 2, got %f (was %f)", got, before)
	}
}
