// SPDX-License-Identifier: MIT

// Package throttle is a reference plugin implementing per-host rate
// limiting with golang.org/x/time/rate. It owns the throttling decision but
// publishes it through the model.ThrottlerInfo convention so other plugins
// (and the admin surface) can observe it without depending on this package.
package throttle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/devproxy-oss/devproxy/internal/engine"
	"github.com/devproxy-oss/devproxy/internal/events"
	xlog "github.com/devproxy-oss/devproxy/internal/log"
	"github.com/devproxy-oss/devproxy/internal/model"
	"github.com/devproxy-oss/devproxy/internal/plugin"
	"github.com/devproxy-oss/devproxy/internal/urlmatch"
)

// PluginPath is the Descriptor.PluginPath this plugin registers under.
const PluginPath = "throttle"

// SessionKey is the session.Data key this plugin stores its
// model.ThrottlerInfo decision under.
const SessionKey = "throttler"

// Config is the plugin's configSection shape: a requests-per-second rate
// and burst size, applied per distinct request host.
type Config struct {
	RatePerSecond float64 `json:"ratePerSecond"`
	Burst         int     `json:"burst"`
}

// Plugin implements plugin.Plugin.
type Plugin struct {
	ratePerSecond float64
	burst         int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New constructs an unregistered throttle plugin instance.
func New() plugin.Plugin { return &Plugin{limiters: make(map[string]*rate.Limiter)} }

func (p *Plugin) Name() string { return "throttle" }

func (p *Plugin) GetOptions() []plugin.Option { return nil }

func (p *Plugin) GetCommands() []plugin.Command { return nil }

// Register parses the rate configuration and subscribes to before-request.
func (p *Plugin) Register(bus *events.Bus, _ *plugin.Context, _ []urlmatch.UrlToWatch, configSection json.RawMessage) error {
	cfg := Config{RatePerSecond: 1, Burst: 1}
	if len(configSection) > 0 {
		if err := json.Unmarshal(configSection, &cfg); err != nil {
			return fmt.Errorf("throttle: parse config: %w", err)
		}
	}
	if cfg.RatePerSecond <= 0 || cfg.Burst <= 0 {
		return fmt.Errorf("throttle: ratePerSecond and burst must be positive")
	}

	p.ratePerSecond = cfg.RatePerSecond
	p.burst = cfg.Burst
	if p.limiters == nil {
		p.limiters = make(map[string]*rate.Limiter)
	}

	bus.Subscribe(events.BeforeRequest, p.Name(), p.handleBeforeRequest)
	return nil
}

func (p *Plugin) limiterFor(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(p.ratePerSecond), p.burst)
		p.limiters[key] = l
	}
	return l
}

func (p *Plugin) handleBeforeRequest(_ context.Context, rawArgs any) error {
	args, ok := rawArgs.(*engine.BeforeRequestArgs)
	if !ok {
		return fmt.Errorf("throttle: unexpected args type %T", rawArgs)
	}

	key := throttlingKey(args.Request.URL)
	limiter := p.limiterFor(key)
	allowed := limiter.Allow()

	info := model.ThrottlerInfo{
		ThrottlingKey: key,
		ShouldThrottle: func(k string) (bool, time.Time) {
			return !p.limiterFor(k).Allow(), time.Now().Add(time.Second)
		},
		ResetTime: time.Now().Add(time.Second),
	}
	if args.Session != nil {
		args.Session.Set(SessionKey, info)
	}

	if allowed {
		return nil
	}

	args.Response.StatusCode = http.StatusTooManyRequests
	args.Response.Header = http.Header{"Retry-After": []string{"1"}}
	args.Response.KeepBody()
	args.Response.SetBody([]byte("rate limit exceeded"))
	args.ResponseState.MarkSet()

	xlog.WithComponent("plugin.throttle").Warn().
		Str(xlog.FieldURL, args.Request.URL).
		Str("throttlingKey", key).
		Msg("request throttled")
	return nil
}

// throttlingKey buckets by host; an unparseable URL falls back to the raw
// string so a limiter is still applied rather than silently skipped.
func throttlingKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
