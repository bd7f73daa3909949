// SPDX-License-Identifier: MIT

// Package mock is a reference plugin that short-circuits matching requests
// with a canned response read from its configuration, the minimal
// demonstration of the before-request short-circuit contract every other
// plugin relies on.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/devproxy-oss/devproxy/internal/config"
	"github.com/devproxy-oss/devproxy/internal/engine"
	"github.com/devproxy-oss/devproxy/internal/events"
	xlog "github.com/devproxy-oss/devproxy/internal/log"
	"github.com/devproxy-oss/devproxy/internal/platform/paths"
	"github.com/devproxy-oss/devproxy/internal/plugin"
	"github.com/devproxy-oss/devproxy/internal/urlmatch"
)

// PluginPath is the Descriptor.PluginPath this plugin registers itself
// under in the default factory registry.
const PluginPath = "mock"

// Rule is one configured canned response. Exactly one of Body or BodyFile
// should be set; BodyFile is resolved relative to the proxy's data
// directory at registration time, not re-read per request.
type Rule struct {
	URL        string            `json:"url"`
	Method     string            `json:"method,omitempty"`
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`
	BodyFile   string            `json:"bodyFile,omitempty"`
}

// Config is the plugin's configSection shape.
type Config struct {
	Mocks []Rule `json:"mocks"`
}

type compiledRule struct {
	Rule
	matcher *urlmatch.Matcher
	body    []byte
}

// Plugin implements plugin.Plugin.
type Plugin struct {
	rules []compiledRule
}

// New constructs an unregistered mock plugin instance.
func New() plugin.Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "mock" }

func (p *Plugin) GetOptions() []plugin.Option { return nil }

func (p *Plugin) GetCommands() []plugin.Command { return nil }

// Register parses the rule list and subscribes to before-request.
func (p *Plugin) Register(bus *events.Bus, _ *plugin.Context, _ []urlmatch.UrlToWatch, configSection json.RawMessage) error {
	var cfg Config
	if len(configSection) > 0 {
		if err := json.Unmarshal(configSection, &cfg); err != nil {
			return fmt.Errorf("mock: parse config: %w", err)
		}
	}

	for _, rule := range cfg.Mocks {
		compiled, err := urlmatch.Compile([]string{rule.URL})
		if err != nil {
			return fmt.Errorf("mock: rule %q: %w", rule.URL, err)
		}

		body := []byte(rule.Body)
		if rule.BodyFile != "" {
			body, err = readBodyFile(rule.BodyFile)
			if err != nil {
				return fmt.Errorf("mock: rule %q: %w", rule.URL, err)
			}
		}

		p.rules = append(p.rules, compiledRule{Rule: rule, matcher: urlmatch.NewMatcher(compiled), body: body})
	}

	bus.Subscribe(events.BeforeRequest, p.Name(), p.handleBeforeRequest)
	return nil
}

func (p *Plugin) handleBeforeRequest(_ context.Context, rawArgs any) error {
	args, ok := rawArgs.(*engine.BeforeRequestArgs)
	if !ok {
		return fmt.Errorf("mock: unexpected args type %T", rawArgs)
	}

	for _, rule := range p.rules {
		if rule.Method != "" && !strings.EqualFold(rule.Method, args.Request.Method) {
			continue
		}
		if !rule.matcher.URLWatched(args.Request.URL) {
			continue
		}

		args.Response.StatusCode = rule.StatusCode
		if args.Response.StatusCode == 0 {
			args.Response.StatusCode = http.StatusOK
		}
		args.Response.Header = make(http.Header)
		for k, v := range rule.Headers {
			args.Response.Header.Set(k, v)
		}
		args.Response.KeepBody()
		args.Response.SetBody(rule.body)
		args.ResponseState.MarkSet()

		xlog.WithComponent("plugin.mock").Debug().
			Str(xlog.FieldURL, args.Request.URL).
			Int("statusCode", args.Response.StatusCode).
			Msg("served mocked response")
		return nil
	}

	return nil
}

// readBodyFile resolves relPath against the proxy's data directory,
// rejecting traversal and symlink escapes, and returns its contents. A
// mock rule's bodyFile is always relative: there is no case where a mock
// response legitimately needs to read an arbitrary absolute path.
func readBodyFile(relPath string) ([]byte, error) {
	resolved, err := paths.ResolveDataFilePath(config.DataDir(), relPath, false)
	if err != nil {
		return nil, fmt.Errorf("resolve bodyFile %q: %w", relPath, err)
	}
	data, err := os.ReadFile(resolved) // #nosec G304 -- resolved is confined to the data directory above
	if err != nil {
		return nil, fmt.Errorf("read bodyFile %q: %w", relPath, err)
	}
	return data, nil
}
