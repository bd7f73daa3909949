// SPDX-License-Identifier: MIT

// Package archiver is a reference plugin that persists every drained
// recording snapshot to an embedded Badger key-value store, keyed by the
// stop timestamp, so recordings survive process restarts without standing
// up an external database.
package archiver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/devproxy-oss/devproxy/internal/engine"
	"github.com/devproxy-oss/devproxy/internal/events"
	xlog "github.com/devproxy-oss/devproxy/internal/log"
	"github.com/devproxy-oss/devproxy/internal/model"
	"github.com/devproxy-oss/devproxy/internal/plugin"
	"github.com/devproxy-oss/devproxy/internal/urlmatch"
)

// PluginPath is the Descriptor.PluginPath this plugin registers under.
const PluginPath = "archiver"

// Config is the plugin's configSection shape.
type Config struct {
	// DBPath is the directory the Badger store lives in.
	DBPath string `json:"dbPath"`
}

// Plugin implements plugin.Plugin, archiving each recording-stopped
// snapshot under a "snapshot:<UTC timestamp with fixed-width nanoseconds>"
// key, so keys sort in time order.
type Plugin struct {
	db *badger.DB
}

// New constructs an unregistered archiver plugin instance.
func New() plugin.Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "archiver" }

func (p *Plugin) GetOptions() []plugin.Option { return nil }

func (p *Plugin) GetCommands() []plugin.Command { return nil }

// Register opens the Badger store and subscribes to recording-stopped.
func (p *Plugin) Register(bus *events.Bus, _ *plugin.Context, _ []urlmatch.UrlToWatch, configSection json.RawMessage) error {
	cfg := Config{DBPath: "devproxy-archive"}
	if len(configSection) > 0 {
		if err := json.Unmarshal(configSection, &cfg); err != nil {
			return fmt.Errorf("archiver: parse config: %w", err)
		}
	}

	opts := badger.DefaultOptions(cfg.DBPath).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("archiver: open badger store at %s: %w", cfg.DBPath, err)
	}
	p.db = db

	bus.Subscribe(events.RecordingStopped, p.Name(), p.handleRecordingStopped)
	return nil
}

// Close releases the underlying Badger store. Call during shutdown.
func (p *Plugin) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *Plugin) handleRecordingStopped(_ context.Context, rawArgs any) error {
	args, ok := rawArgs.(*engine.RecordingStoppedArgs)
	if !ok {
		return fmt.Errorf("archiver: unexpected args type %T", rawArgs)
	}
	if len(args.Snapshot) == 0 {
		return nil
	}

	buf, err := json.Marshal(args.Snapshot)
	if err != nil {
		return fmt.Errorf("archiver: marshal snapshot: %w", err)
	}

	key := []byte("snapshot:" + time.Now().UTC().Format("2006-01-02T15:04:05.000000000Z07:00"))
	if err := p.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, buf)
	}); err != nil {
		return fmt.Errorf("archiver: persist snapshot: %w", err)
	}

	xlog.WithComponent("plugin.archiver").Info().
		Str(xlog.FieldEvent, "archiver.snapshot_saved").
		Int("lines", len(args.Snapshot)).
		Msg("persisted recording snapshot")
	return nil
}

// Snapshots returns every archived snapshot, oldest first.
func (p *Plugin) Snapshots(ctx context.Context) ([][]model.RequestLog, error) {
	var out [][]model.RequestLog
	err := p.db.View(func(txn *badger.Txn) error {
		prefix := []byte("snapshot:")
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			item := it.Item()
			var lines []model.RequestLog
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &lines)
			}); err != nil {
				continue
			}
			out = append(out, lines)
		}
		return nil
	})
	return out, err
}
