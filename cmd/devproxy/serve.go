// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/devproxy-oss/devproxy/internal/config"
	"github.com/devproxy-oss/devproxy/internal/engine"
	"github.com/devproxy-oss/devproxy/internal/events"
	xlog "github.com/devproxy-oss/devproxy/internal/log"
	"github.com/devproxy-oss/devproxy/internal/metrics"
	"github.com/devproxy-oss/devproxy/internal/mitm"
	"github.com/devproxy-oss/devproxy/internal/platform/procnet"
	"github.com/devproxy-oss/devproxy/internal/platform/sysproxy"
	"github.com/devproxy-oss/devproxy/internal/plugin"
	"github.com/devproxy-oss/devproxy/internal/recording"
	"github.com/devproxy-oss/devproxy/internal/session"
	xtls "github.com/devproxy-oss/devproxy/internal/tls"
	"github.com/devproxy-oss/devproxy/internal/tracing"
	"github.com/devproxy-oss/devproxy/internal/urlmatch"
	"github.com/devproxy-oss/devproxy/internal/adminapi"
)

// runServe implements the startup sequence: load and validate
// configuration, compile the URL matcher, ensure the root certificate,
// wire the engine and its plugins, bind the proxy endpoint, start
// recording if configured, then run every supervised goroutine until a
// shutdown signal or a fatal error from any of them.
func runServe(cmd *cobra.Command, f *cliFlags) error {
	cfg, err := loadEffectiveConfig(f)
	if err != nil {
		return fatalConfigError(err)
	}

	xlog.Configure(xlog.Config{Level: cfg.LogLevel, Service: "devproxy", Version: version})
	logger := xlog.WithComponent("cli")

	firstRun(cfg)

	matcher, err := compileMatcher(cfg.UrlsToWatch)
	if err != nil {
		return fatalConfigError(err)
	}

	dataDir := config.DataDir()
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return fmt.Errorf("startup error: create data directory %s: %w", dataDir, err)
	}

	ca, err := xtls.LoadOrCreateCA(
		filepath.Join(dataDir, xtls.CAFileName),
		filepath.Join(dataDir, xtls.CAKeyFileName),
		logger,
	)
	if err != nil {
		return fmt.Errorf("startup error: ensure root certificate: %w", err)
	}
	leaves := xtls.NewLeafCache(ca)

	if cfg.InstallCert {
		if err := ca.Install(filepath.Join(dataDir, xtls.CAFileName)); err != nil {
			logger.Warn().Err(err).Msg("could not install root certificate into the OS trust store")
		} else {
			logger.Info().Msg("root certificate installed into the OS trust store")
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.NewProvider(ctx, tracing.Config{
		Enabled:        cfg.TracingEnabled,
		ServiceName:    "devproxy",
		ServiceVersion: version,
		Endpoint:       cfg.TracingEndpoint,
		SamplingRate:   cfg.TracingSamplingRate,
	})
	if err != nil {
		return fmt.Errorf("startup error: init tracing: %w", err)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	bus := events.NewBus()
	bus.WithTracer(tracing.Tracer("devproxy"))
	bus.WithSink(func(err error) {
		var handlerErr *events.HandlerError
		if errors.As(err, &handlerErr) {
			metrics.RecordPluginError(handlerErr.Plugin, string(handlerErr.Event))
		}
		logger.Error().Err(err).Str(xlog.FieldEvent, "plugin.error").Msg("plugin handler error")
	})

	globalData := plugin.NewGlobalData()
	sessions := session.NewStore()
	recorder := recording.NewBuffer()

	registry := buildRegistry()
	descriptors, err := pluginDescriptors(cfg)
	if err != nil {
		return fatalConfigError(err)
	}
	globalPatterns, err := urlmatch.Compile(cfg.UrlsToWatch)
	if err != nil {
		return fatalConfigError(err)
	}
	pluginCtx := &plugin.Context{GlobalData: globalData, RootCA: ca.Cert}
	if err := registry.Load(descriptors, bus, pluginCtx, globalPatterns); err != nil {
		return fmt.Errorf("startup error: %w", err)
	}

	eng := engine.New(matcher, bus, sessions, recorder, registry, globalData)
	if len(cfg.FilterByHeaders) > 0 {
		eng.HeaderFilters = toHeaderFilters(cfg.FilterByHeaders)
	}
	if len(cfg.WatchPids) > 0 || len(cfg.WatchProcessNames) > 0 {
		eng.ProcessFilter = toProcessFilter(cfg)
	}

	eng.Init(ctx)
	eng.OptionsLoaded(ctx)

	proxy := &mitm.Proxy{
		Interceptor: eng,
		Leaves:      leaves,
		Processes:   procnet.NewResolver(),
	}

	holder := config.NewHolder(cfg, f.configFile)
	if err := holder.WatchForChanges(); err != nil {
		logger.Warn().Err(err).Msg("configuration file watcher unavailable, hot-reload disabled")
	}
	defer func() { _ = holder.Close() }()

	admin := adminapi.NewServer(fmt.Sprintf("127.0.0.1:%d", cfg.Port+1), recorder)

	if cfg.Record {
		eng.StartRecording()
	}

	if cfg.AsSystemProxy {
		registrar, err := sysproxy.ForOS()
		if err != nil {
			logger.Warn().Err(err).Msg("could not register as the OS system proxy")
		} else if err := registrar.Enable(cfg.IPAddress, cfg.Port); err != nil {
			logger.Warn().Err(err).Msg("could not register as the OS system proxy")
		} else {
			logger.Info().Msg("registered as the OS system proxy")
			defer func() {
				if err := registrar.Disable(); err != nil {
					logger.Warn().Err(err).Msg("could not unregister the OS system proxy")
				}
			}()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return proxy.ListenAndServe(gctx, fmt.Sprintf("%s:%d", cfg.IPAddress, cfg.Port))
	})
	g.Go(func() error {
		return admin.ListenAndServe(gctx)
	})
	if isInteractiveTerminal() {
		g.Go(func() error {
			return runHotkeys(gctx, eng, cfg)
		})
	}

	logger.Info().
		Str(xlog.FieldEvent, "proxy.started").
		Str("address", fmt.Sprintf("%s:%d", cfg.IPAddress, cfg.Port)).
		Int("plugins", len(registry.Loaded())).
		Msg("devproxy is listening")

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		return fmt.Errorf("fatal error: %w", err)
	}

	if recorder.Recording() {
		eng.StopRecording(context.Background())
	}
	logger.Info().Str(xlog.FieldEvent, "proxy.stopped").Msg("devproxy shut down")
	return nil
}

func loadEffectiveConfig(f *cliFlags) (config.AppConfig, error) {
	cfg := config.Defaults()
	if f.configFile != "" {
		if _, err := os.Stat(f.configFile); err == nil {
			loaded, err := config.Load(f.configFile)
			if err != nil {
				return cfg, err
			}
			cfg = loaded
		}
	}
	cfg = applyFlagOverrides(cfg, f)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func firstRun(cfg config.AppConfig) {
	if cfg.NoFirstRun {
		return
	}
	exe, err := os.Executable()
	if err != nil {
		return
	}
	dir := filepath.Dir(exe)
	if config.HasRun(dir) {
		return
	}
	fmt.Println("Welcome to devproxy. Run with --no-first-run to suppress this banner.")
	_ = config.MarkRun(dir)
}

func compileMatcher(patterns []string) (*urlmatch.Matcher, error) {
	compiled, err := urlmatch.Compile(patterns)
	if err != nil {
		return nil, err
	}
	return urlmatch.NewMatcher(compiled), nil
}

func pluginDescriptors(cfg config.AppConfig) ([]plugin.Descriptor, error) {
	out := make([]plugin.Descriptor, 0, len(cfg.Plugins))
	for _, p := range cfg.Plugins {
		out = append(out, plugin.Descriptor{
			Name:          p.Name,
			PluginPath:    p.PluginPath,
			Enabled:       p.IsEnabled(),
			ConfigSection: p.ConfigSection,
			UrlsToWatch:   p.UrlsToWatch,
		})
	}
	return out, nil
}

func toHeaderFilters(in []config.HeaderFilter) []engine.HeaderFilter {
	out := make([]engine.HeaderFilter, 0, len(in))
	for _, f := range in {
		out = append(out, engine.HeaderFilter{Name: f.Name, Value: f.Value})
	}
	return out
}

func toProcessFilter(cfg config.AppConfig) *engine.ProcessFilter {
	pf := &engine.ProcessFilter{
		PIDs:         make(map[int]bool, len(cfg.WatchPids)),
		ProcessNames: make(map[string]bool, len(cfg.WatchProcessNames)),
	}
	for _, pid := range cfg.WatchPids {
		pf.PIDs[pid] = true
	}
	for _, name := range cfg.WatchProcessNames {
		pf.ProcessNames[name] = true
	}
	if len(cfg.WatchProcessNames) > 0 {
		pf.ResolveName = procnet.ProcessName
	}
	return pf
}

