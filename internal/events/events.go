// SPDX-License-Identifier: MIT

// Package events implements the lifecycle event bus plugins subscribe to.
// Within one event, handlers run sequentially in registration order and
// each is awaited to completion before the next runs; a handler panic or
// error is caught, wrapped with context, and forwarded to an error sink
// instead of aborting the remaining handlers.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	xlog "github.com/devproxy-oss/devproxy/internal/log"
)

// Name identifies a lifecycle event.
type Name string

const (
	Init              Name = "init"
	OptionsLoaded     Name = "options-loaded"
	BeforeRequest     Name = "before-request"
	BeforeResponse    Name = "before-response"
	AfterResponse     Name = "after-response"
	AfterRequestLog   Name = "after-request-log"
	MockRequest       Name = "mock-request"
	RecordingStopped  Name = "recording-stopped"
)

// Handler is a plugin's subscription callback for one event. ctx carries
// the session's correlation id and (if tracing is enabled) its span; args
// is the event-specific payload (*BeforeRequestArgs, *BeforeResponseArgs,
// etc).
type Handler func(ctx context.Context, args any) error

// Sink receives errors raised by handlers, wrapped with plugin and event
// context. The default sink used by Bus logs at error level; callers that
// want stricter behavior (e.g. tests) can supply their own.
type Sink func(err error)

// subscription pairs a handler with the plugin name it belongs to, purely
// for error-context and tracing labels.
type subscription struct {
	plugin  string
	handler Handler
}

// Bus is the central dispatcher. One Bus per process; shared across all
// sessions for the lifetime of the proxy.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Name][]subscription
	sink     Sink
	tracer   trace.Tracer
}

// NewBus returns a Bus that logs handler errors via internal/log unless a
// sink is supplied with WithSink.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[Name][]subscription),
		sink: func(err error) {
			xlog.WithComponent("events").Error().Err(err).Msg("plugin handler error")
		},
	}
}

// WithSink overrides the error sink.
func (b *Bus) WithSink(sink Sink) *Bus {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sink = sink
	return b
}

// WithTracer attaches an OpenTelemetry tracer; when set, Dispatch wraps
// each handler invocation in its own span. Nil disables tracing (the
// default, and the normal case outside of diagnostics sessions).
func (b *Bus) WithTracer(tracer trace.Tracer) *Bus {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tracer = tracer
	return b
}

// Subscribe registers handler for event under plugin's name. Registration
// order across all plugins for that event defines invocation order.
func (b *Bus) Subscribe(event Name, plugin string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = append(b.handlers[event], subscription{plugin: plugin, handler: handler})
}

// Count returns the number of handlers registered for event.
func (b *Bus) Count(event Name) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[event])
}

// Dispatch runs every handler subscribed to event, in registration order,
// awaiting each before starting the next. A handler error (or panic,
// recovered here) is wrapped and sent to the sink; it never stops
// dispatch of the remaining handlers.
func (b *Bus) Dispatch(ctx context.Context, event Name, args any) {
	b.mu.RLock()
	subs := make([]subscription, len(b.handlers[event]))
	copy(subs, b.handlers[event])
	tracer := b.tracer
	sink := b.sink
	b.mu.RUnlock()

	for _, sub := range subs {
		b.invoke(ctx, tracer, sink, event, sub, args)
	}
}

func (b *Bus) invoke(ctx context.Context, tracer trace.Tracer, sink Sink, event Name, sub subscription, args any) {
	if tracer != nil {
		var span trace.Span
		ctx, span = tracer.Start(ctx, fmt.Sprintf("plugin.%s", event))
		defer span.End()
	}

	defer func() {
		if r := recover(); r != nil {
			sink(&HandlerError{Plugin: sub.plugin, Event: event, Err: fmt.Errorf("%v", r), Panicked: true})
		}
	}()

	if err := sub.handler(ctx, args); err != nil {
		sink(&HandlerError{Plugin: sub.plugin, Event: event, Err: err})
	}
}

// HandlerError reports a plugin handler's error or panic, wrapped with
// enough context (which plugin, which event) for a sink to build per-plugin
// telemetry (see internal/metrics.RecordPluginError) instead of parsing the
// error string.
type HandlerError struct {
	Plugin   string
	Event    Name
	Err      error
	Panicked bool
}

func (e *HandlerError) Error() string {
	verb := "failed handling"
	if e.Panicked {
		verb = "panicked handling"
	}
	return fmt.Sprintf("plugin %q %s %s: %v", e.Plugin, verb, e.Event, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// LogEntries returns a component-scoped logger suitable for handler bodies
// that want to narrate without going through the RequestLog path.
func LogEntries() zerolog.Logger {
	return xlog.WithComponent("events")
}
