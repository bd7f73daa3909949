// SPDX-License-Identifier: MIT

// Package sharedstate is a reference plugin that mirrors GlobalData into
// Redis, so multiple proxy instances (or an external dashboard) can observe
// the same counters without sharing process memory. It subscribes to
// after-response and republishes the full reports sub-map on every request.
package sharedstate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/devproxy-oss/devproxy/internal/engine"
	"github.com/devproxy-oss/devproxy/internal/events"
	xlog "github.com/devproxy-oss/devproxy/internal/log"
	"github.com/devproxy-oss/devproxy/internal/model"
	"github.com/devproxy-oss/devproxy/internal/plugin"
	"github.com/devproxy-oss/devproxy/internal/urlmatch"
)

// PluginPath is the Descriptor.PluginPath this plugin registers under.
const PluginPath = "sharedstate"

// Config is the plugin's configSection shape.
type Config struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	// Key is the Redis key the reports map is mirrored under.
	Key string `json:"key,omitempty"`
}

// Plugin implements plugin.Plugin.
type Plugin struct {
	client *redis.Client
	key    string
}

// New constructs an unregistered sharedstate plugin instance.
func New() plugin.Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "sharedstate" }

func (p *Plugin) GetOptions() []plugin.Option { return nil }

func (p *Plugin) GetCommands() []plugin.Command { return nil }

// Register connects to Redis and subscribes to after-response.
func (p *Plugin) Register(bus *events.Bus, _ *plugin.Context, _ []urlmatch.UrlToWatch, configSection json.RawMessage) error {
	cfg := Config{Key: "devproxy:reports"}
	if len(configSection) > 0 {
		if err := json.Unmarshal(configSection, &cfg); err != nil {
			return fmt.Errorf("sharedstate: parse config: %w", err)
		}
	}
	if cfg.Addr == "" {
		return fmt.Errorf("sharedstate: addr is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("sharedstate: connect to redis at %s: %w", cfg.Addr, err)
	}

	p.client = client
	p.key = cfg.Key

	bus.Subscribe(events.AfterResponse, p.Name(), p.handleAfterResponse)
	return nil
}

// Close releases the Redis client. Call during shutdown.
func (p *Plugin) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}

func (p *Plugin) handleAfterResponse(ctx context.Context, rawArgs any) error {
	args, ok := rawArgs.(*engine.AfterResponseArgs)
	if !ok {
		return fmt.Errorf("sharedstate: unexpected args type %T", rawArgs)
	}
	if args.GlobalData == nil {
		return nil
	}

	reports := args.GlobalData.Reports()
	buf, err := json.Marshal(reports)
	if err != nil {
		return fmt.Errorf("sharedstate: marshal reports: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.client.Set(writeCtx, p.key, buf, 0).Err(); err != nil {
		xlog.WithComponent("plugin.sharedstate").Warn().Err(err).Msg("failed to mirror reports to redis")
		return fmt.Errorf("sharedstate: publish reports: %w", err)
	}
	return nil
}

// FetchReports reads the currently mirrored reports map back from Redis.
// Used by the CLI/admin surface to display cross-instance state.
func FetchReports(ctx context.Context, client *redis.Client, key string) (map[string]any, error) {
	val, err := client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(val, &out); err != nil {
		return nil, err
	}
	return out, nil
}

var _ = model.GlobalDataReportsKey // documents the convention this plugin mirrors
