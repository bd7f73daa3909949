// SPDX-License-Identifier: MIT

// Package adminapi exposes the proxy's local operator surface: a liveness
// probe, a Prometheus scrape endpoint, and a read-only snapshot of the
// recording buffer. It is bound to loopback by default and carries the same
// recoverer/request-ID/security-header/rate-limit stack used by the rest of
// this codebase's HTTP servers.
package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	xlog "github.com/devproxy-oss/devproxy/internal/log"
	"github.com/devproxy-oss/devproxy/internal/recording"
)

// Server is the admin HTTP server. Zero value is not usable; build one with
// NewServer.
type Server struct {
	httpServer *http.Server
	recorder   *recording.Buffer
	startedAt  time.Time
}

// NewServer builds an admin server bound to addr (e.g. "127.0.0.1:8001").
// recorder may be nil, in which case /requests always reports an empty
// snapshot.
func NewServer(addr string, recorder *recording.Buffer) *Server {
	s := &Server{recorder: recorder, startedAt: time.Now()}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(securityHeaders)
	r.Use(httprate.Limit(60, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
	r.Use(xlog.Middleware())

	r.Get("/healthz", s.handleHealthz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/requests", s.handleRequests)
	r.Get("/logs", s.handleLogs)
	r.Delete("/logs", s.handleClearLogs)
	r.Put("/log-level", s.handleSetLogLevel)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           otelHTTP(r),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// otelHTTP wraps the admin router with automatic span creation, reusing
// whatever tracer provider internal/tracing installed (a no-op one if
// tracing is disabled, so this costs nothing when off). Health and metrics
// polling is excluded so a scrape loop doesn't spam traces.
func otelHTTP(next http.Handler) http.Handler {
	return otelhttp.NewHandler(
		next,
		"adminapi",
		otelhttp.WithTracerProvider(otel.GetTracerProvider()),
		otelhttp.WithFilter(shouldTraceAdminRequest),
	)
}

func shouldTraceAdminRequest(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/metrics":
		return false
	}
	return true
}

// ListenAndServe runs the admin server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		xlog.L().Debug().Str("address", s.httpServer.Addr).Msg("adminapi listening")
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

type healthzResponse struct {
	Status    string `json:"status"`
	UptimeSec int64  `json:"uptimeSeconds"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	xlog.Base().Trace().Msg("healthz probe")
	resp := healthzResponse{Status: "ok", UptimeSec: int64(time.Since(s.startedAt).Seconds())}
	writeJSON(w, http.StatusOK, resp)
}

type requestsResponse struct {
	Recording bool `json:"recording"`
	Count     int  `json:"count"`
	Lines     any  `json:"lines"`
}

func (s *Server) handleRequests(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeJSON(w, http.StatusOK, requestsResponse{Lines: []struct{}{}})
		return
	}
	lines := s.recorder.Snapshot()
	writeJSON(w, http.StatusOK, requestsResponse{
		Recording: s.recorder.Recording(),
		Count:     len(lines),
		Lines:     lines,
	})
}

type logsResponse struct {
	Entries []xlog.LogEntry    `json:"entries"`
	Metrics xlog.BufferMetrics `json:"metrics"`
}

// handleLogs returns the diagnostic ring buffer of recently logged
// structured entries, fed by every component's xlog.WithComponent calls
// across the process, not just this server's own request log.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, logsResponse{
		Entries: xlog.GetRecentLogs(),
		Metrics: xlog.GetBufferMetrics(),
	})
}

func (s *Server) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	xlog.ClearRecentLogs()
	w.WriteHeader(http.StatusNoContent)
}

type setLogLevelRequest struct {
	Level string `json:"level"`
}

// handleSetLogLevel adjusts the global log level without a restart; the
// principal recorded in the resulting log line is the admin surface
// itself, since this endpoint carries no operator identity of its own.
func (s *Server) handleSetLogLevel(w http.ResponseWriter, r *http.Request) {
	var body setLogLevelRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := xlog.SetLevel(r.Context(), "adminapi", nil, body.Level); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"level": body.Level})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// securityHeaders adds the baseline hardening headers to every admin
// response; this surface has no HTML rendering, so the policy is
// deliberately tighter than a browser-facing CSP.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}
