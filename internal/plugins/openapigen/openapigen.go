// SPDX-License-Identifier: MIT

// Package openapigen is a reference plugin that derives a minimal OpenAPI
// description from recorded traffic. It subscribes to recording-stopped,
// groups the observed method/path pairs into a document, validates the
// result against the OpenAPI 3.0 schema, and publishes it into the shared
// reports mapping for reporter plugins (or the admin surface) to read back.
package openapigen

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/devproxy-oss/devproxy/internal/engine"
	"github.com/devproxy-oss/devproxy/internal/events"
	xlog "github.com/devproxy-oss/devproxy/internal/log"
	"github.com/devproxy-oss/devproxy/internal/model"
	platformnet "github.com/devproxy-oss/devproxy/internal/platform/net"
	"github.com/devproxy-oss/devproxy/internal/plugin"
	"github.com/devproxy-oss/devproxy/internal/urlmatch"
)

// PluginPath is the Descriptor.PluginPath this plugin registers under.
const PluginPath = "openapigen"

// Config is the plugin's configSection shape.
type Config struct {
	// Title and Version seed the generated document's info object.
	Title   string `json:"title,omitempty"`
	Version string `json:"version,omitempty"`
}

// Plugin implements plugin.Plugin, building a Document from every
// recording-stopped snapshot it observes.
type Plugin struct {
	title   string
	version string

	mu  sync.Mutex
	doc *Document
}

// New constructs an unregistered openapigen plugin instance.
func New() plugin.Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "openapigen" }

func (p *Plugin) GetOptions() []plugin.Option { return nil }

func (p *Plugin) GetCommands() []plugin.Command { return nil }

// Register parses config and subscribes to recording-stopped.
func (p *Plugin) Register(bus *events.Bus, _ *plugin.Context, _ []urlmatch.UrlToWatch, configSection json.RawMessage) error {
	cfg := Config{Title: "Recorded API", Version: "0.0.0"}
	if len(configSection) > 0 {
		if err := json.Unmarshal(configSection, &cfg); err != nil {
			return fmt.Errorf("openapigen: parse config: %w", err)
		}
	}
	p.title = cfg.Title
	p.version = cfg.Version

	bus.Subscribe(events.RecordingStopped, p.Name(), p.handleRecordingStopped)
	return nil
}

func (p *Plugin) handleRecordingStopped(_ context.Context, rawArgs any) error {
	args, ok := rawArgs.(*engine.RecordingStoppedArgs)
	if !ok {
		return fmt.Errorf("openapigen: unexpected args type %T", rawArgs)
	}
	if len(args.Snapshot) == 0 {
		return nil
	}

	doc, err := Generate(args.Snapshot, p.title, p.version)
	if err != nil {
		return fmt.Errorf("openapigen: generate document: %w", err)
	}

	p.mu.Lock()
	p.doc = doc
	p.mu.Unlock()

	if args.GlobalData != nil {
		args.GlobalData.Reports()["openapi"] = doc
	}

	xlog.WithComponent("plugin.openapigen").Info().
		Str(xlog.FieldEvent, "openapigen.document_generated").
		Int("paths", len(doc.Paths)).
		Msg("generated openapi document from recording")
	return nil
}

// Document returns the most recently generated document, or nil if
// recording has never stopped with any traffic observed.
func (p *Plugin) Document() *Document {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc
}

// Document is a minimal OpenAPI 3.0 document: just enough structure to
// describe the methods and path templates a recording observed. Field
// names and nesting mirror the OpenAPI object model directly so the JSON
// this type marshals to is a valid (if sparse) OpenAPI document.
type Document struct {
	OpenAPI string              `json:"openapi"`
	Info    Info                `json:"info"`
	Paths   map[string]PathItem `json:"paths"`
}

type Info struct {
	Title   string `json:"title"`
	Version string `json:"version"`
}

// PathItem maps an HTTP method (lowercase) to the operation observed on it.
type PathItem map[string]Operation

type Operation struct {
	OperationID string              `json:"operationId"`
	Summary     string              `json:"summary,omitempty"`
	Parameters  []map[string]any    `json:"parameters,omitempty"`
	Responses   map[string]Response `json:"responses"`
}

type Response struct {
	Description string `json:"description"`
}

var (
	numericSegment = regexp.MustCompile(`^[0-9]+$`)
	uuidSegment    = regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
)

// Generate builds a Document from a set of recorded lines, folding
// distinct resource identifiers in the path (numeric ids, UUIDs) into a
// single "{id}" template so that e.g. GET /widgets/1 and GET /widgets/2
// become one path entry, GET /widgets/{id}. The result is validated
// against the OpenAPI 3.0 schema before being returned.
func Generate(lines []model.RequestLog, title, version string) (*Document, error) {
	if title == "" {
		title = "Recorded API"
	}
	if version == "" {
		version = "0.0.0"
	}

	paths := make(map[string]PathItem)
	for _, line := range lines {
		if line.Method == "" || line.URL == "" {
			continue
		}
		template, ok := pathTemplate(line.URL)
		if !ok {
			continue
		}
		method := strings.ToLower(line.Method)

		item, ok := paths[template]
		if !ok {
			item = PathItem{}
			paths[template] = item
		}
		if _, exists := item[method]; exists {
			continue
		}
		op := Operation{
			OperationID: method + "_" + operationIDFromTemplate(template),
			Summary:     fmt.Sprintf("%s %s", strings.ToUpper(method), template),
			Responses: map[string]Response{
				"200": {Description: "recorded response"},
			},
		}
		if strings.Contains(template, "{id}") {
			op.Parameters = []map[string]any{{"name": "id", "in": "path", "required": true, "schema": map[string]any{"type": "string"}}}
		}
		item[method] = op
	}

	doc := &Document{
		OpenAPI: "3.0.3",
		Info:    Info{Title: title, Version: version},
		Paths:   paths,
	}

	if err := validate(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func validate(doc *Document) error {
	buf, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	loaded, err := openapi3.NewLoader().LoadFromData(buf)
	if err != nil {
		return fmt.Errorf("parse generated document: %w", err)
	}
	if err := loaded.Validate(context.Background()); err != nil {
		return fmt.Errorf("generated document is not a valid openapi document: %w", err)
	}
	return nil
}

// pathTemplate folds a recorded request's URL into a path template,
// relying on platformnet.ParseDirectHTTPURL for the scheme/host/fragment
// validation every other outbound-URL consumer in this codebase shares,
// rather than re-deriving a path-only parse by hand.
func pathTemplate(rawURL string) (string, bool) {
	u, ok := platformnet.ParseDirectHTTPURL(rawURL)
	if !ok {
		return "", false
	}
	path := u.Path
	if path == "" {
		return "", false
	}

	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if numericSegment.MatchString(seg) || uuidSegment.MatchString(seg) {
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/"), true
}

func operationIDFromTemplate(template string) string {
	cleaned := strings.NewReplacer("/", "_", "{", "", "}", "").Replace(template)
	cleaned = strings.Trim(cleaned, "_")
	if cleaned == "" {
		cleaned = "root"
	}
	return cleaned
}
