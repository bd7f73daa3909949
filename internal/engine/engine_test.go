// SPDX-License-Identifier: MIT

package engine

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/devproxy-oss/devproxy/internal/events"
	"github.com/devproxy-oss/devproxy/internal/model"
	"github.com/devproxy-oss/devproxy/internal/plugin"
	"github.com/devproxy-oss/devproxy/internal/recording"
	"github.com/devproxy-oss/devproxy/internal/session"
	"github.com/devproxy-oss/devproxy/internal/urlmatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrigin(t *testing.T) *httptest.Server {
	t.Helper()
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Origin", "yes")
		w.Header().Set("X-Seen-Via", r.Header.Get("Via"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello"))
	}))
	t.Cleanup(origin.Close)
	return origin
}

func newTestEngine(t *testing.T, patterns []string) *Engine {
	t.Helper()
	compiled, err := urlmatch.Compile(patterns)
	require.NoError(t, err)

	return New(urlmatch.NewMatcher(compiled), events.NewBus(), session.NewStore(), recording.NewBuffer(), plugin.NewRegistry(), plugin.NewGlobalData())
}

func doRequest(t *testing.T, e *Engine, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestEngine_PassThroughAddsViaHeader(t *testing.T) {
	origin := newOrigin(t)
	e := newTestEngine(t, []string{origin.URL + "/*"})
	rec := doRequest(t, e, origin.URL+"/things")

	assert.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, "1.1 dev-proxy/"+e.ProductVersion, rec.Header().Get("X-Seen-Via"), "the forwarded request must carry the Via header")
	assert.Equal(t, 0, e.Sessions.Len(), "session must be freed after the request completes")
}

func TestEngine_ExcludeWinsSkipsSession(t *testing.T) {
	origin := newOrigin(t)
	e := newTestEngine(t, []string{
		origin.URL + "/*",
		"!" + origin.URL + "/health",
	})
	rec := doRequest(t, e, origin.URL+"/health")

	// The excluded path still reaches the origin through the unwatched
	// pass-through path, but no session is ever allocated for it.
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, e.Sessions.Len())
}

func TestEngine_PluginShortCircuitsBeforeRequest(t *testing.T) {
	origin := newOrigin(t)
	e := newTestEngine(t, []string{origin.URL + "/*"})

	e.Bus.Subscribe(events.BeforeRequest, "mocker", func(ctx context.Context, args any) error {
		a := args.(*BeforeRequestArgs)
		a.Response.StatusCode = http.StatusTeapot
		a.Response.SetBody([]byte("mocked"))
		a.ResponseState.MarkSet()
		return nil
	})

	rec := doRequest(t, e, origin.URL+"/things")
	assert.Equal(t, http.StatusTeapot, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Equal(t, "mocked", string(body))
}

func TestEngine_PluginShortCircuitEmitsMockedRequestLog(t *testing.T) {
	origin := newOrigin(t)
	e := newTestEngine(t, []string{origin.URL + "/*"})
	e.StartRecording()

	var afterRequestLogKinds []model.MessageKind
	e.Bus.Subscribe(events.AfterRequestLog, "recorder-spy", func(ctx context.Context, args any) error {
		a := args.(*AfterRequestLogArgs)
		afterRequestLogKinds = append(afterRequestLogKinds, a.Log.MessageType)
		return nil
	})
	e.Bus.Subscribe(events.BeforeRequest, "mocker", func(ctx context.Context, args any) error {
		a := args.(*BeforeRequestArgs)
		a.Response.StatusCode = http.StatusTeapot
		a.Response.SetBody([]byte("mocked"))
		a.ResponseState.MarkSet()
		return nil
	})

	doRequest(t, e, origin.URL+"/things")

	assert.Contains(t, afterRequestLogKinds, model.MessageMocked,
		"a plugin short-circuit must still produce a mocked RequestLog line")
	assert.NotContains(t, afterRequestLogKinds, model.MessagePassedThrough,
		"a short-circuited request was never forwarded, so it must not also claim to have passed through")

	snapshot := e.Recorder.Snapshot()
	var sawMocked bool
	for _, line := range snapshot {
		if line.MessageType == model.MessageMocked {
			sawMocked = true
		}
	}
	assert.True(t, sawMocked, "the mocked line must land in the recording buffer too")
}

func TestEngine_HeaderFilterRejectsWithoutHeader(t *testing.T) {
	origin := newOrigin(t)
	e := newTestEngine(t, []string{origin.URL + "/*"})
	e.HeaderFilters = []HeaderFilter{{Name: "X-Trial", Value: "yes"}}

	req := httptest.NewRequest(http.MethodGet, origin.URL+"/things", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, 0, e.Sessions.Len(), "request without the required header must not get a session")
}

func TestPassesHeaderFilter(t *testing.T) {
	h := http.Header{}
	h.Set("X-Trial", "yes")

	assert.True(t, passesHeaderFilter(h, nil))
	assert.True(t, passesHeaderFilter(h, []HeaderFilter{{Name: "X-Trial", Value: "yes"}}))
	assert.False(t, passesHeaderFilter(h, []HeaderFilter{{Name: "X-Trial", Value: "no"}}))
	assert.False(t, passesHeaderFilter(h, []HeaderFilter{{Name: "X-Missing"}}))
	assert.True(t, passesHeaderFilter(h, []HeaderFilter{{Name: "X-Trial"}}), "empty filter value matches any value")
}

func TestStartStopRecording(t *testing.T) {
	origin := newOrigin(t)
	e := newTestEngine(t, []string{origin.URL + "/*"})
	e.StartRecording()
	doRequest(t, e, origin.URL+"/things")

	var stopped bool
	e.Bus.Subscribe(events.RecordingStopped, "watcher", func(ctx context.Context, args any) error {
		a := args.(*RecordingStoppedArgs)
		stopped = len(a.Snapshot) > 0
		return nil
	})

	snapshot := e.StopRecording(context.Background())
	assert.NotEmpty(t, snapshot)
	assert.True(t, stopped)
}
