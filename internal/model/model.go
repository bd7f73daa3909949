// SPDX-License-Identifier: MIT

// Package model holds the data shared across the interception engine: the
// request/response envelopes the MITM layer hands the engine, the request
// log line shape emitted to subscribers, and the throttling convention
// plugins use to coordinate rate limiting through session/global data.
package model

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// ProxyRequest is the request half of an intercepted exchange. The MITM
// library owns the underlying connection; the engine never copies it, it
// only reads/annotates the fields below.
type ProxyRequest struct {
	Method    string
	URL       string // absolute URL, e.g. "https://api.example.com/things"
	Header    http.Header
	ProcessID int // 0 when the platform adapter could not resolve one

	bodyCaptured bool
	bodyBytes    []byte
	bodyString   string
}

// KeepBody marks the request body for lazy materialization. Calling it more
// than once is harmless.
func (r *ProxyRequest) KeepBody() { r.bodyCaptured = true }

// BodyCaptured reports whether a subscriber asked for the body.
func (r *ProxyRequest) BodyCaptured() bool { return r.bodyCaptured }

// SetBody materializes the captured body. Only meaningful after KeepBody.
func (r *ProxyRequest) SetBody(b []byte) {
	r.bodyBytes = b
	r.bodyString = string(b)
}

// Body returns the captured body bytes, or nil if never captured.
func (r *ProxyRequest) Body() []byte { return r.bodyBytes }

// BodyString returns the captured body as a string, or "" if never captured.
func (r *ProxyRequest) BodyString() string { return r.bodyString }

// ProxyResponse is the response half of an intercepted exchange, either
// produced by the real origin or synthesized by a plugin.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header

	bodyCaptured bool
	bodyBytes    []byte
	bodyString   string
}

func (r *ProxyResponse) KeepBody() { r.bodyCaptured = true }

func (r *ProxyResponse) BodyCaptured() bool { return r.bodyCaptured }

func (r *ProxyResponse) SetBody(b []byte) {
	r.bodyBytes = b
	r.bodyString = string(b)
}

func (r *ProxyResponse) Body() []byte { return r.bodyBytes }

func (r *ProxyResponse) BodyString() string { return r.bodyString }

// MessageKind classifies a RequestLog line. Values mirror the lifecycle
// narration the engine and plugins emit (intercepted-request, mocked,
// passed-through, intercepted-response, finished-processing-request, plus
// whatever free-form kinds plugins choose for their own narration).
type MessageKind string

const (
	MessageInterceptedRequest  MessageKind = "intercepted-request"
	MessagePassedThrough       MessageKind = "passed-through"
	MessageMocked              MessageKind = "mocked"
	MessageInterceptedResponse MessageKind = "intercepted-response"
	MessageFinishedProcessing  MessageKind = "finished-processing-request"
	MessagePlugin              MessageKind = "plugin"
	MessageError               MessageKind = "error"
)

// RequestLog is the structured log line the engine and plugins emit. Its
// wire shape (messageLines/messageType/method/url) is part of the external
// JSON reporter contract and must not change field names.
type RequestLog struct {
	MessageLines []string    `json:"messageLines"`
	MessageType  MessageKind `json:"messageType"`
	Method       string      `json:"method,omitempty"`
	URL          string      `json:"url,omitempty"`

	// CorrelationID and SessionID are ambient additions for log
	// correlation/tracing; they are never part of the external wire shape.
	CorrelationID uuid.UUID `json:"-"`
	SessionID     uint64    `json:"-"`
	Timestamp     time.Time `json:"-"`
}

// NewRequestLog builds a RequestLog stamped with a fresh correlation id.
func NewRequestLog(kind MessageKind, sessionID uint64, method, url string, lines ...string) RequestLog {
	return RequestLog{
		MessageLines:  lines,
		MessageType:   kind,
		Method:        method,
		URL:           url,
		CorrelationID: uuid.New(),
		SessionID:     sessionID,
		Timestamp:     time.Now(),
	}
}

// ThrottlerInfo is the convention plugins use to carry throttling state
// through SessionData/GlobalData. The core only carries this value; it
// never calls ShouldThrottle itself, leaving the decision to whichever
// plugin published it.
type ThrottlerInfo struct {
	ThrottlingKey string
	ShouldThrottle func(key string) (throttle bool, resetAt time.Time)
	ResetTime      time.Time
}

// GlobalDataReportsKey is the reserved GlobalData key holding the
// name->report sub-mapping reporter plugins read at recording-stopped.
const GlobalDataReportsKey = "reports"
