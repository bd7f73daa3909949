// SPDX-License-Identifier: MIT

package adminapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	xlog "github.com/devproxy-oss/devproxy/internal/log"
	"github.com/devproxy-oss/devproxy/internal/model"
	"github.com/devproxy-oss/devproxy/internal/recording"
)

func TestHandleHealthz(t *testing.T) {
	s := NewServer("127.0.0.1:0", nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body healthzResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
}

func TestHandleRequests_NilRecorder(t *testing.T) {
	s := NewServer("127.0.0.1:0", nil)

	req := httptest.NewRequest(http.MethodGet, "/requests", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleRequests_ReturnsSnapshot(t *testing.T) {
	buf := recording.NewBuffer()
	buf.Start()
	buf.Append(model.NewRequestLog(model.MessagePassedThrough, 1, "GET", "https://x/y"))

	s := NewServer("127.0.0.1:0", buf)

	req := httptest.NewRequest(http.MethodGet, "/requests", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body requestsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Recording)
	assert.Equal(t, 1, body.Count)

	assert.Equal(t, 1, buf.Len(), "reading the snapshot endpoint must not drain the buffer")
}

func TestHandleMetrics_ServesPrometheusFormat(t *testing.T) {
	s := NewServer("127.0.0.1:0", nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}

func TestHandleLogs_ReturnsBufferedEntries(t *testing.T) {
	xlog.Configure(xlog.Config{Level: "debug"})
	xlog.ClearRecentLogs()
	xlog.WithComponent("adminapi-test").Info().Str(xlog.FieldEvent, "test.logged").Msg("hello")

	s := NewServer("127.0.0.1:0", nil)
	req := httptest.NewRequest(http.MethodGet, "/logs", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body logsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Entries)
}

func TestHandleClearLogs_EmptiesBuffer(t *testing.T) {
	xlog.Configure(xlog.Config{Level: "debug"})
	xlog.WithComponent("adminapi-test").Info().Str(xlog.FieldEvent, "test.logged").Msg("hello")

	s := NewServer("127.0.0.1:0", nil)
	req := httptest.NewRequest(http.MethodDelete, "/logs", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, xlog.GetRecentLogs())
}

func TestHandleSetLogLevel_AppliesValidLevel(t *testing.T) {
	xlog.Configure(xlog.Config{Level: "info"})
	s := NewServer("127.0.0.1:0", nil)

	req := httptest.NewRequest(http.MethodPut, "/log-level", bytes.NewBufferString(`{"level":"debug"}`))
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleSetLogLevel_RejectsUnknownLevel(t *testing.T) {
	xlog.Configure(xlog.Config{Level: "info"})
	s := NewServer("127.0.0.1:0", nil)

	req := httptest.NewRequest(http.MethodPut, "/log-level", bytes.NewBufferString(`{"level":"not-a-level"}`))
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOTelHTTP_TracesRequestsExceptHealthAndMetrics(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	prevTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prevTP)

	s := NewServer("127.0.0.1:0", nil)

	for _, path := range []string{"/healthz", "/metrics", "/requests"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		s.httpServer.Handler.ServeHTTP(rec, req)
	}
	require.NoError(t, tp.Shutdown(context.Background()))

	spans := exporter.GetSpans()
	assert.Len(t, spans, 1, "only the non-filtered /requests route should produce a span")
}

func TestSecurityHeadersPresent(t *testing.T) {
	s := NewServer("127.0.0.1:0", nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}
