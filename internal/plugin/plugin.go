// SPDX-License-Identifier: MIT

// Package plugin defines the ABI every plugin implements and the registry
// that loads, instantiates, and registers plugins in declaration order.
package plugin

import (
	"crypto/x509"
	"encoding/json"
	"fmt"

	"github.com/devproxy-oss/devproxy/internal/events"
	"github.com/devproxy-oss/devproxy/internal/urlmatch"
)

// Option is a CLI flag a plugin contributes to the root command.
type Option struct {
	Name        string
	Shorthand   string
	Usage       string
	Default     string
	Destination *string // bound by the CLI layer at flag registration time
}

// Command is a CLI sub-command a plugin contributes.
type Command struct {
	Use   string
	Short string
	Run   func(args []string) error
}

// Context is the shared collaborator surface handed to every plugin at
// register time: the GlobalData bag, the root CA certificate (nil if TLS
// minting is disabled), and an optional language-model client a plugin may
// use for generative behaviors (chaos descriptions, synthetic payloads).
// None of these are copied per plugin. It carries no process-wide
// configuration; a plugin sees only its own config section, passed to
// Register.
type Context struct {
	GlobalData  *GlobalData
	RootCA      *x509.Certificate
	LanguageLLM any // optional; nil unless the host wires a client in
}

// Plugin is the ABI every plugin implements. Register is called exactly
// once, after construction, with the event bus, the shared Context, the
// effective URL filter (plugin-specific if the descriptor named one, else
// the global list), and the plugin's own config fragment (raw JSON,
// possibly nil).
type Plugin interface {
	Name() string
	GetOptions() []Option
	GetCommands() []Command
	Register(bus *events.Bus, ctx *Context, urlsToWatch []urlmatch.UrlToWatch, configSection json.RawMessage) error
}

// Descriptor is one entry from the configuration's plugins list.
type Descriptor struct {
	Name          string
	PluginPath    string
	Enabled       bool
	ConfigSection json.RawMessage
	UrlsToWatch   []string
}

// Factory builds a Plugin from its PluginPath. Reference plugins register
// themselves under their path name; out-of-tree plugins are not supported
// by this in-process registry (there is no dynamic loader here, unlike a
// scripting-host original).
type Factory func() Plugin

// Registry holds the set of known plugin factories and, after Load, the
// instantiated and registered plugins.
type Registry struct {
	factories map[string]Factory
	loaded    []Plugin
}

// NewRegistry returns an empty registry. Call RegisterFactory for every
// reference plugin the binary ships before calling Load.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// RegisterFactory makes a plugin type available under pluginPath.
func (r *Registry) RegisterFactory(pluginPath string, factory Factory) {
	r.factories[pluginPath] = factory
}

// Load instantiates and registers every enabled descriptor, in order,
// against globalPatterns as the default URL filter. It enforces the
// at-least-one-plugin invariant: if no descriptor is enabled (an empty
// list included), Load fails. An enabled descriptor whose pluginPath has no
// registered factory also fails Load.
func (r *Registry) Load(descriptors []Descriptor, bus *events.Bus, ctx *Context, globalPatterns []urlmatch.UrlToWatch) error {
	seen := make(map[string]bool)
	enabledCount := 0

	for _, d := range descriptors {
		if !d.Enabled {
			continue
		}
		enabledCount++

		factory, ok := r.factories[d.PluginPath]
		if !ok {
			return fmt.Errorf("plugin registration error: unknown pluginPath %q for plugin %q", d.PluginPath, d.Name)
		}

		p := factory()
		if seen[p.Name()] {
			return fmt.Errorf("plugin registration error: duplicate plugin name %q", p.Name())
		}
		seen[p.Name()] = true

		filter := globalPatterns
		if len(d.UrlsToWatch) > 0 {
			compiled, err := urlmatch.Compile(d.UrlsToWatch)
			if err != nil {
				return fmt.Errorf("plugin %q: %w", d.Name, err)
			}
			filter = compiled
		}

		if err := p.Register(bus, ctx, filter, d.ConfigSection); err != nil {
			return fmt.Errorf("plugin registration error: %q failed to register: %w", d.Name, err)
		}

		r.loaded = append(r.loaded, p)
	}

	if enabledCount == 0 {
		return fmt.Errorf("configuration error: no enabled plugin registered; at least one plugin is required")
	}

	return nil
}

// Loaded returns the plugins that successfully registered, in registration
// order.
func (r *Registry) Loaded() []Plugin {
	return r.loaded
}

// Options returns every plugin-contributed Option, merged by de-duplication
// on name: the first plugin to contribute a given name wins, later
// duplicates are discarded.
func (r *Registry) Options() []Option {
	seen := make(map[string]bool)
	var out []Option
	for _, p := range r.loaded {
		for _, opt := range p.GetOptions() {
			if seen[opt.Name] {
				continue
			}
			seen[opt.Name] = true
			out = append(out, opt)
		}
	}
	return out
}

// Commands returns every plugin-contributed Command, merged the same way
// as Options.
func (r *Registry) Commands() []Command {
	seen := make(map[string]bool)
	var out []Command
	for _, p := range r.loaded {
		for _, cmd := range p.GetCommands() {
			if seen[cmd.Use] {
				continue
			}
			seen[cmd.Use] = true
			out = append(out, cmd)
		}
	}
	return out
}
