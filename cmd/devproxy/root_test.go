// SPDX-License-Identifier: MIT

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/devproxy-oss/devproxy/internal/config"
)

func TestApplyFlagOverrides_OnlyAppliesSetFlags(t *testing.T) {
	cfg := config.Defaults()
	f := &cliFlags{}

	out := applyFlagOverrides(cfg, f)

	assert.Equal(t, cfg, out, "an all-zero-value cliFlags must not change any config field")
}

func TestApplyFlagOverrides_CLITakesPrecedenceOverFile(t *testing.T) {
	cfg := config.Defaults()
	cfg.Port = 9000
	cfg.LogLevel = "info"

	f := &cliFlags{port: 8080, logLevel: "debug", failureRate: -1}
	out := applyFlagOverrides(cfg, f)

	assert.Equal(t, 8080, out.Port)
	assert.Equal(t, "debug", out.LogLevel)
}

func TestApplyFlagOverrides_NegativeFailureRateLeavesRateUntouched(t *testing.T) {
	cfg := config.Defaults()
	cfg.Rate = 42

	out := applyFlagOverrides(cfg, &cliFlags{failureRate: -1})

	assert.Equal(t, 42, out.Rate, "-1 is the sentinel for \"flag not set\"")
}

func TestApplyFlagOverrides_ZeroFailureRateOverridesConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Rate = 42

	out := applyFlagOverrides(cfg, &cliFlags{failureRate: 0})

	assert.Equal(t, 0, out.Rate, "an explicit --failure-rate=0 must win over a non-zero config value")
}

func TestDefaultConfigFilePath(t *testing.T) {
	assert.Equal(t, "devproxyrc.jsonc", defaultConfigFilePath())
}

func TestFatalConfigError_WrapsUnderlyingError(t *testing.T) {
	base := assert.AnError
	err := fatalConfigError(base)

	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "configuration error")
}
