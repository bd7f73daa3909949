// SPDX-License-Identifier: MIT

package engine

import (
	"github.com/devproxy-oss/devproxy/internal/model"
	"github.com/devproxy-oss/devproxy/internal/plugin"
	"github.com/devproxy-oss/devproxy/internal/respstate"
	"github.com/devproxy-oss/devproxy/internal/session"
)

// BeforeRequestArgs is the payload dispatched to before-request handlers.
// A plugin that wants to short-circuit sets Response and calls
// ResponseState.MarkSet.
type BeforeRequestArgs struct {
	Request       *model.ProxyRequest
	Response      *model.ProxyResponse
	ResponseState *respstate.State
	Session       *session.Data
	SessionID     session.Identity
	GlobalData    *plugin.GlobalData
}

// BeforeResponseArgs is the payload dispatched to before-response handlers.
// Plugins may mutate Response in place; ResponseState.MarkModified records
// that they did.
type BeforeResponseArgs struct {
	Request       *model.ProxyRequest
	Response      *model.ProxyResponse
	ResponseState *respstate.State
	Session       *session.Data
	SessionID     session.Identity
	GlobalData    *plugin.GlobalData
}

// AfterResponseArgs is the payload dispatched to after-response handlers,
// the last chance to read (never mutate) the final response before
// SessionData is freed.
type AfterResponseArgs struct {
	Request    *model.ProxyRequest
	Response   *model.ProxyResponse
	Session    *session.Data
	SessionID  session.Identity
	GlobalData *plugin.GlobalData
}

// AfterRequestLogArgs is dispatched once per RequestLog emitted, including
// lines plugins themselves produce.
type AfterRequestLogArgs struct {
	Log        model.RequestLog
	GlobalData *plugin.GlobalData
}

// MockRequestArgs is dispatched when the operator raises the `w` hotkey.
type MockRequestArgs struct {
	GlobalData *plugin.GlobalData
}

// RecordingStoppedArgs is dispatched when recording stops, carrying the
// drained snapshot so handlers never race a newly started recording.
type RecordingStoppedArgs struct {
	Snapshot   []model.RequestLog
	GlobalData *plugin.GlobalData
}

// InitArgs is dispatched once, synchronously, after every plugin has
// registered.
type InitArgs struct {
	GlobalData *plugin.GlobalData
}

// OptionsLoadedArgs is dispatched once, synchronously, after CLI parsing.
type OptionsLoadedArgs struct {
	GlobalData *plugin.GlobalData
}
