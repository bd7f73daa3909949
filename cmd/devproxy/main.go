// SPDX-License-Identifier: MIT

// Command devproxy is the intercepting proxy's entry point: a cobra root
// command that, absent a recognized sub-command, parses its configuration,
// wires the interception engine and its plugin registry, and runs the
// proxy until an operator-triggered or signal-driven shutdown completes.
package main

import (
	"fmt"
	"os"

	xlog "github.com/devproxy-oss/devproxy/internal/log"
)

var (
	version   = "0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		xlog.WithComponent("cli").Fatal().
			Err(err).
			Str(xlog.FieldEvent, "cli.failed").
			Msg("devproxy exited with an error")
		os.Exit(1)
	}
}
