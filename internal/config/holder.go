// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	xlog "github.com/devproxy-oss/devproxy/internal/log"
)

// Snapshot pairs a validated AppConfig with the epoch it was swapped in
// under, so callers holding a stale pointer can detect staleness without a
// lock.
type Snapshot struct {
	App   AppConfig
	Epoch uint64
}

// Holder provides atomic, hot-reloadable access to the effective
// configuration. One Holder per process; Get is lock-free.
type Holder struct {
	epoch    atomic.Uint64
	snapshot atomic.Pointer[Snapshot]
	path     string
	watcher  *fsnotify.Watcher
	logger   zerolog.Logger

	mu        sync.Mutex
	listeners []chan<- AppConfig
}

// NewHolder wraps an already-loaded and validated initial config.
func NewHolder(initial AppConfig, path string) *Holder {
	h := &Holder{path: path, logger: xlog.WithComponent("config")}
	h.swap(initial)
	return h
}

// Get returns the current effective configuration.
func (h *Holder) Get() AppConfig {
	return h.snapshot.Load().App
}

// Snapshot returns the current snapshot, including its epoch.
func (h *Holder) Snapshot() *Snapshot {
	return h.snapshot.Load()
}

func (h *Holder) swap(cfg AppConfig) {
	h.snapshot.Store(&Snapshot{App: cfg, Epoch: h.epoch.Add(1)})
}

// Subscribe registers ch to receive every successfully reloaded config.
// Delivery is best-effort non-blocking: a full channel drops the update
// rather than stalling the watcher goroutine.
func (h *Holder) Subscribe(ch chan<- AppConfig) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, ch)
}

func (h *Holder) notify(cfg AppConfig) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.listeners {
		select {
		case ch <- cfg:
		default:
		}
	}
}

// Reload re-reads and re-validates the config file, swapping it in only on
// success. A bad reload is logged and the previous snapshot is kept live.
func (h *Holder) Reload() error {
	cfg, err := Load(h.path)
	if err != nil {
		h.logger.Error().Err(err).Str("event", "config.reload_failed").Msg("configuration reload failed, keeping previous snapshot")
		return err
	}
	if err := cfg.Validate(); err != nil {
		h.logger.Error().Err(err).Str("event", "config.reload_invalid").Msg("reloaded configuration failed validation, keeping previous snapshot")
		return err
	}
	h.swap(cfg)
	h.logger.Info().Str("event", "config.reloaded").Uint64("epoch", h.snapshot.Load().Epoch).Msg("configuration reloaded")
	h.notify(cfg)
	return nil
}

// WatchForChanges starts an fsnotify watcher on the config file's
// directory and reloads on any write/create/rename touching the file
// itself. Call Close to stop it.
func (h *Holder) WatchForChanges() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	h.watcher = watcher

	dir := filepath.Dir(h.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}

	target := filepath.Clean(h.path)
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				_ = h.Reload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				h.logger.Warn().Err(err).Str("event", "config.watch_error").Msg("configuration watcher error")
			}
		}
	}()

	return nil
}

// Close stops the file watcher, if one was started.
func (h *Holder) Close() error {
	if h.watcher == nil {
		return nil
	}
	return h.watcher.Close()
}

// firstRunMarkerName is the sentinel file dropped alongside the binary to
// suppress the onboarding banner on subsequent launches.
const firstRunMarkerName = ".hasrun"

// HasRun reports whether the first-run marker exists in dir.
func HasRun(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, firstRunMarkerName))
	return err == nil
}

// MarkRun creates the first-run marker in dir.
func MarkRun(dir string) error {
	f, err := os.OpenFile(filepath.Join(dir, firstRunMarkerName), os.O_CREATE|os.O_WRONLY, 0o644) // #nosec G304
	if err != nil {
		return err
	}
	return f.Close()
}
