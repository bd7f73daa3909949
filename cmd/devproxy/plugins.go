// SPDX-License-Identifier: MIT

package main

import (
	"github.com/devproxy-oss/devproxy/internal/plugin"
	"github.com/devproxy-oss/devproxy/internal/plugins/archiver"
	"github.com/devproxy-oss/devproxy/internal/plugins/mock"
	"github.com/devproxy-oss/devproxy/internal/plugins/openapigen"
	"github.com/devproxy-oss/devproxy/internal/plugins/sharedstate"
	"github.com/devproxy-oss/devproxy/internal/plugins/throttle"
)

// referenceFactories is every plugin this binary ships, keyed by the
// pluginPath a configuration's plugins list names it under. There is no
// dynamic loader here: the registry only ever resolves names out of this
// map.
func referenceFactories() map[string]plugin.Factory {
	return map[string]plugin.Factory{
		mock.PluginPath:        mock.New,
		throttle.PluginPath:    throttle.New,
		archiver.PluginPath:    archiver.New,
		sharedstate.PluginPath: sharedstate.New,
		openapigen.PluginPath:  openapigen.New,
	}
}

// buildRegistry returns a fresh, not-yet-Loaded registry with every
// reference plugin's factory registered. Load is called once per serve
// invocation, against the resolved configuration's plugin descriptors.
func buildRegistry() *plugin.Registry {
	r := plugin.NewRegistry()
	for path, factory := range referenceFactories() {
		r.RegisterFactory(path, factory)
	}
	return r
}

// enumerateOptions and enumerateCommands build throwaway instances of every
// reference plugin to collect the CLI surface (flags and sub-commands) it
// contributes. This runs once at root-command construction time, before any
// configuration is available, so it cannot go through Registry.Load (which
// only populates from enabled descriptors).
func enumerateOptions() []plugin.Option {
	seen := make(map[string]bool)
	var out []plugin.Option
	for _, factory := range referenceFactories() {
		for _, opt := range factory().GetOptions() {
			if seen[opt.Name] {
				continue
			}
			seen[opt.Name] = true
			out = append(out, opt)
		}
	}
	return out
}

func enumerateCommands() []plugin.Command {
	seen := make(map[string]bool)
	var out []plugin.Command
	for _, factory := range referenceFactories() {
		for _, cmd := range factory().GetCommands() {
			if seen[cmd.Use] {
				continue
			}
			seen[cmd.Use] = true
			out = append(out, cmd)
		}
	}
	return out
}
