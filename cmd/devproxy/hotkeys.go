// SPDX-License-Identifier: MIT

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/devproxy-oss/devproxy/internal/config"
	"github.com/devproxy-oss/devproxy/internal/engine"
	xlog "github.com/devproxy-oss/devproxy/internal/log"
)

// isInteractiveTerminal reports whether stdin is a real terminal. The
// hotkey loop is skipped entirely when it isn't (piped input, CI), matching
// the rule that the proxy must still run headless under test harnesses.
func isInteractiveTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// runHotkeys reads single keystrokes from stdin in raw mode and dispatches
// the operator console commands:
//
//	r    start recording
//	s    stop recording and drain the buffer through recording-stopped
//	c    clear the screen and reprint the banner
//	w    raise a synthetic mock-request event
//	ESC  no-op
//
// It returns when ctx is cancelled. Raw mode turns off the terminal's
// signal keys, so Ctrl-C arrives here as byte 3 rather than as SIGINT; it
// makes runHotkeys return an error, which cancels the errgroup's context
// and shuts the proxy down.
func runHotkeys(ctx context.Context, eng *engine.Engine, cfg config.AppConfig) error {
	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("hotkeys: enable raw mode: %w", err)
	}
	defer func() { _ = term.Restore(fd, oldState) }()

	printBanner(cfg)

	keys := make(chan byte, 1)
	go readKeys(os.Stdin, keys)

	for {
		select {
		case <-ctx.Done():
			return nil
		case key, ok := <-keys:
			if !ok {
				return nil
			}
			if key == 3 { // Ctrl-C
				return fmt.Errorf("hotkeys: interrupted by Ctrl-C")
			}
			handleKey(ctx, eng, cfg, key)
		}
	}
}

func readKeys(r io.Reader, out chan<- byte) {
	defer close(out)
	buf := bufio.NewReader(r)
	for {
		b, err := buf.ReadByte()
		if err != nil {
			return
		}
		out <- b
	}
}

func handleKey(ctx context.Context, eng *engine.Engine, cfg config.AppConfig, key byte) {
	logger := xlog.WithComponent("hotkeys")
	switch key {
	case 'r', 'R':
		eng.StartRecording()
		logger.Info().Str(xlog.FieldEvent, "hotkey.record_start").Msg("recording started")
	case 's', 'S':
		lines := eng.StopRecording(ctx)
		logger.Info().Str(xlog.FieldEvent, "hotkey.record_stop").Int("lines", len(lines)).Msg("recording stopped")
	case 'c', 'C':
		fmt.Print("\033[H\033[2J")
		printBanner(cfg)
	case 'w', 'W':
		eng.RaiseMockRequest(ctx)
		logger.Info().Str(xlog.FieldEvent, "hotkey.mock_request").Msg("mock request raised")
	case 27: // ESC
		// no-op by design
	}
}

func printBanner(cfg config.AppConfig) {
	fmt.Printf("devproxy listening on %s:%d\n", cfg.IPAddress, cfg.Port)
	fmt.Println("  r - start recording   s - stop recording")
	fmt.Println("  c - clear screen      w - raise a mock request")
	fmt.Println("  Ctrl-C - stop devproxy")
}
