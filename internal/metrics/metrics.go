// SPDX-License-Identifier: MIT

// Package metrics exposes the counters and gauges the admin server publishes
// at /metrics: one counter per admission outcome, a plugin-fault counter,
// and live gauges for the recording buffer and session table depth.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devproxy_requests_total",
		Help: "Total proxied requests by admission outcome.",
	}, []string{"outcome"})

	pluginErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devproxy_plugin_errors_total",
		Help: "Total handler failures (errors or recovered panics) by plugin and event.",
	}, []string{"plugin", "event"})

	upstreamDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "devproxy_upstream_duration_seconds",
		Help:    "Duration of forwarded upstream requests in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2.0, 12), // 10ms .. ~40s
	})

	recordingBufferDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "devproxy_recording_buffer_depth",
		Help: "Number of request log lines currently held in the recording buffer.",
	})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "devproxy_sessions_active",
		Help: "Number of in-flight proxy sessions.",
	})

	leafCertsMinted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "devproxy_leaf_certificates_minted_total",
		Help: "Total per-host leaf certificates minted for TLS interception.",
	})
)

// Outcome labels for RecordRequest.
const (
	OutcomePassedThrough = "passed_through"
	OutcomeIntercepted   = "intercepted"
	OutcomeMocked        = "mocked"
	OutcomeExcluded      = "excluded"
)

// RecordRequest increments the admission-outcome counter.
func RecordRequest(outcome string) {
	requestsTotal.WithLabelValues(outcome).Inc()
}

// RecordPluginError increments the plugin-fault counter for a failed or
// panicking handler.
func RecordPluginError(plugin, event string) {
	pluginErrorsTotal.WithLabelValues(plugin, event).Inc()
}

// ObserveUpstreamDuration records how long a forwarded request took.
func ObserveUpstreamDuration(d time.Duration) {
	upstreamDuration.Observe(d.Seconds())
}

// SetRecordingBufferDepth reports the recording buffer's current length.
func SetRecordingBufferDepth(n int) {
	recordingBufferDepth.Set(float64(n))
}

// SetSessionsActive reports the session store's current length.
func SetSessionsActive(n int) {
	sessionsActive.Set(float64(n))
}

// RecordLeafCertMinted increments the leaf-certificate mint counter.
func RecordLeafCertMinted() {
	leafCertsMinted.Inc()
}
