// SPDX-License-Identifier: MIT

// Package engine implements the interception engine: the admission
// pipeline that decides which CONNECTs to decrypt, allocates per-session
// state, dispatches the plugin lifecycle events around each request, and
// forwards unmocked requests upstream with the Via header attached.
package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/devproxy-oss/devproxy/internal/events"
	xlog "github.com/devproxy-oss/devproxy/internal/log"
	"github.com/devproxy-oss/devproxy/internal/metrics"
	"github.com/devproxy-oss/devproxy/internal/model"
	"github.com/devproxy-oss/devproxy/internal/plugin"
	"github.com/devproxy-oss/devproxy/internal/platform/httpx"
	platformnet "github.com/devproxy-oss/devproxy/internal/platform/net"
	"github.com/devproxy-oss/devproxy/internal/recording"
	"github.com/devproxy-oss/devproxy/internal/respstate"
	"github.com/devproxy-oss/devproxy/internal/session"
	"github.com/devproxy-oss/devproxy/internal/urlmatch"
)

// upstreamTimeout caps how long a forwarded request may take, so a wedged
// origin can never hang a session indefinitely.
const upstreamTimeout = 5 * time.Minute

// HeaderFilter is one entry of the operator-configured filterByHeaders
// list: at least one configured filter must match for a request to be
// admitted. An empty Value matches any value for that header name.
type HeaderFilter struct {
	Name  string
	Value string
}

// ProcessFilter restricts decryption to specific process ids or process
// names, resolved by the platform process resolver. Both lists empty means
// "no process filter" (decrypt based on host alone).
type ProcessFilter struct {
	PIDs          map[int]bool
	ProcessNames  map[string]bool
	ResolveName   func(pid int) string
}

// Engine is the interception engine. Construct with New, then wire it as
// the mitm.Interceptor implementation for a mitm.Proxy.
type Engine struct {
	Matcher        *urlmatch.Matcher
	Bus            *events.Bus
	Sessions       *session.Store
	Recorder       *recording.Buffer
	Registry       *plugin.Registry
	GlobalData     *plugin.GlobalData
	HeaderFilters  []HeaderFilter
	ProcessFilter  *ProcessFilter
	ProductVersion string

	transport *http.Client
}

// New wires an Engine from its already-constructed collaborators.
func New(matcher *urlmatch.Matcher, bus *events.Bus, sessions *session.Store, recorder *recording.Buffer, registry *plugin.Registry, globalData *plugin.GlobalData) *Engine {
	return &Engine{
		Matcher:        matcher,
		Bus:            bus,
		Sessions:       sessions,
		Recorder:       recorder,
		Registry:       registry,
		GlobalData:     globalData,
		ProductVersion: "0.1.0",
		transport:      httpx.NewForwardingClient(upstreamTimeout),
	}
}

// DecryptHost implements mitm.Interceptor. It is the CONNECT-time decision:
// host-watch set plus the optional process filter.
func (e *Engine) DecryptHost(ctx context.Context, host string, processID int) bool {
	if !e.Matcher.HostWatched(host) {
		return false
	}
	if e.ProcessFilter == nil {
		return true
	}
	return e.ProcessFilter.allows(processID)
}

func (f *ProcessFilter) allows(pid int) bool {
	if f == nil {
		return true
	}
	if len(f.PIDs) == 0 && len(f.ProcessNames) == 0 {
		return true
	}
	if f.PIDs[pid] {
		return true
	}
	if len(f.ProcessNames) > 0 && f.ResolveName != nil {
		name := f.ResolveName(pid)
		if name != "" && f.ProcessNames[name] {
			return true
		}
	}
	return false
}

// ServeHTTP implements mitm.Interceptor. It is the per-request admission
// pipeline described in the control-flow overview: host check already
// happened at CONNECT time, so here we run the full-URL matcher, the
// header filter, session allocation, before-request, and either the
// short-circuit or upstream-forward path.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rawURL := r.URL.String()

	if !e.Matcher.URLWatched(rawURL) {
		metrics.RecordRequest(metrics.OutcomeExcluded)
		e.passThroughUnwatched(w, r)
		return
	}
	if !passesHeaderFilter(r.Header, e.HeaderFilters) {
		metrics.RecordRequest(metrics.OutcomeExcluded)
		e.passThroughUnwatched(w, r)
		return
	}

	sessionID, sessionData := e.Sessions.Allocate()
	ctx = xlog.ContextWithSessionID(ctx, strconv.FormatUint(uint64(sessionID), 10))
	metrics.SetSessionsActive(e.Sessions.Len())
	defer func() {
		e.Sessions.Free(sessionID)
		metrics.SetSessionsActive(e.Sessions.Len())
	}()

	req := &model.ProxyRequest{
		Method: r.Method,
		URL:    rawURL,
		Header: r.Header.Clone(),
	}
	req.KeepBody()
	if r.Body != nil {
		body, _ := io.ReadAll(r.Body)
		req.SetBody(body)
		_ = r.Body.Close()
	}

	var state respstate.State
	resp := &model.ProxyResponse{Header: make(http.Header)}

	e.emitLog(ctx, model.NewRequestLog(model.MessageInterceptedRequest, uint64(sessionID), req.Method, req.URL))

	e.Bus.Dispatch(ctx, events.BeforeRequest, &BeforeRequestArgs{
		Request:       req,
		Response:      resp,
		ResponseState: &state,
		Session:       sessionData,
		SessionID:     sessionID,
		GlobalData:    e.GlobalData,
	})

	if !state.HasBeenSet() {
		e.emitLog(ctx, model.NewRequestLog(model.MessagePassedThrough, uint64(sessionID), req.Method, req.URL))
		e.forwardUpstream(ctx, r, req, resp, &state, sessionData, sessionID)
		metrics.RecordRequest(metrics.OutcomeIntercepted)
	} else {
		e.emitLog(ctx, model.NewRequestLog(model.MessageMocked, uint64(sessionID), req.Method, req.URL))
		metrics.RecordRequest(metrics.OutcomeMocked)
	}

	e.Bus.Dispatch(ctx, events.BeforeResponse, &BeforeResponseArgs{
		Request:       req,
		Response:      resp,
		ResponseState: &state,
		Session:       sessionData,
		SessionID:     sessionID,
		GlobalData:    e.GlobalData,
	})

	writeResponse(w, resp)

	e.Bus.Dispatch(ctx, events.AfterResponse, &AfterResponseArgs{
		Request:    req,
		Response:   resp,
		Session:    sessionData,
		SessionID:  sessionID,
		GlobalData: e.GlobalData,
	})
	e.emitLog(ctx, model.NewRequestLog(model.MessageFinishedProcessing, uint64(sessionID), req.Method, req.URL))
}

// forwardUpstream performs the real request when no plugin short-circuited
// before-request, attaching the Via header and marking the response set so
// the rest of the pipeline treats it uniformly with a mocked response.
func (e *Engine) forwardUpstream(ctx context.Context, orig *http.Request, req *model.ProxyRequest, resp *model.ProxyResponse, state *respstate.State, sd *session.Data, id session.Identity) {
	outbound := orig.Clone(ctx)
	outbound.RequestURI = ""
	outbound.Header.Set("Via", "1.1 dev-proxy/"+e.ProductVersion)

	start := time.Now()
	upstreamResp, err := e.transport.Do(outbound)
	metrics.ObserveUpstreamDuration(time.Since(start))
	if err != nil {
		resp.StatusCode = http.StatusBadGateway
		resp.Header.Set("Content-Type", "text/plain")
		resp.SetBody([]byte(fmt.Sprintf("upstream error: %v", err)))
		state.MarkSet()
		return
	}
	defer upstreamResp.Body.Close()

	body, _ := io.ReadAll(upstreamResp.Body)
	resp.StatusCode = upstreamResp.StatusCode
	resp.Header = upstreamResp.Header.Clone()
	resp.SetBody(body)
	state.MarkSet()

	e.emitLog(ctx, model.NewRequestLog(model.MessageInterceptedResponse, uint64(id), req.Method, req.URL))
}

// passThroughUnwatched forwards a request the matcher or header filter
// rejected, with no session, no logs, no plugin dispatch at all.
func (e *Engine) passThroughUnwatched(w http.ResponseWriter, r *http.Request) {
	outbound := r.Clone(r.Context())
	outbound.RequestURI = ""
	resp, err := e.transport.Do(outbound)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func writeResponse(w http.ResponseWriter, resp *model.ProxyResponse) {
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(resp.Body())
}

// passesHeaderFilter implements the optional filterByHeaders admission
// gate: with no filters configured, everything passes. With filters
// configured, at least one must match (empty Value matches any value).
func passesHeaderFilter(h http.Header, filters []HeaderFilter) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		values := h.Values(f.Name)
		if len(values) == 0 {
			continue
		}
		if f.Value == "" {
			return true
		}
		for _, v := range values {
			if strings.Contains(v, f.Value) {
				return true
			}
		}
	}
	return false
}

// emitLog dispatches after-request-log synchronously and, if recording is
// active, appends the line to the buffer.
func (e *Engine) emitLog(ctx context.Context, line model.RequestLog) {
	e.Recorder.Append(line)
	metrics.SetRecordingBufferDepth(e.Recorder.Len())
	xlog.WithComponent("engine").Debug().
		Str(xlog.FieldEvent, string(line.MessageType)).
		Str(xlog.FieldMethod, line.Method).
		Str(xlog.FieldURL, platformnet.SanitizeURL(line.URL)).
		Uint64(xlog.FieldSessionID, line.SessionID).
		Msg(strings.Join(line.MessageLines, " "))
	e.Bus.Dispatch(ctx, events.AfterRequestLog, &AfterRequestLogArgs{Log: line, GlobalData: e.GlobalData})
}

// StartRecording begins recording; idempotent.
func (e *Engine) StartRecording() {
	e.Recorder.Start()
}

// StopRecording drains the recording buffer and raises recording-stopped
// with the snapshot. The buffer is already empty by the time handlers run,
// so a new recording may start immediately without racing them.
func (e *Engine) StopRecording(ctx context.Context) []model.RequestLog {
	snapshot := e.Recorder.Stop()
	e.Bus.Dispatch(ctx, events.RecordingStopped, &RecordingStoppedArgs{
		Snapshot:   snapshot,
		GlobalData: e.GlobalData,
	})
	return snapshot
}

// RaiseMockRequest dispatches mock-request, for the `w` hotkey.
func (e *Engine) RaiseMockRequest(ctx context.Context) {
	e.Bus.Dispatch(ctx, events.MockRequest, &MockRequestArgs{GlobalData: e.GlobalData})
}

// Init dispatches the synchronous init event, once, after all plugins have
// registered.
func (e *Engine) Init(ctx context.Context) {
	e.Bus.Dispatch(ctx, events.Init, &InitArgs{GlobalData: e.GlobalData})
}

// OptionsLoaded dispatches the synchronous options-loaded event, once,
// after CLI parsing.
func (e *Engine) OptionsLoaded(ctx context.Context) {
	e.Bus.Dispatch(ctx, events.OptionsLoaded, &OptionsLoadedArgs{GlobalData: e.GlobalData})
}
