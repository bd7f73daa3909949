// SPDX-License-Identifier: MIT

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devproxy-oss/devproxy/internal/config"
)

func TestToProcessFilter_SetsResolveNameOnlyWhenProcessNamesConfigured(t *testing.T) {
	cfg := config.Defaults()
	cfg.WatchProcessNames = []string{"curl", "node"}

	pf := toProcessFilter(cfg)

	assert.True(t, pf.ProcessNames["curl"])
	assert.True(t, pf.ProcessNames["node"])
	require.NotNil(t, pf.ResolveName, "a configured process-name filter must be able to resolve a PID to a name")
}

func TestToProcessFilter_LeavesResolveNameNilForPIDsOnly(t *testing.T) {
	cfg := config.Defaults()
	cfg.WatchPids = []int{1234}

	pf := toProcessFilter(cfg)

	assert.True(t, pf.PIDs[1234])
	assert.Nil(t, pf.ResolveName, "PID-only filtering never needs to resolve a process name")
}

func TestToHeaderFilters_MapsNameAndValue(t *testing.T) {
	in := []config.HeaderFilter{
		{Name: "X-Test", Value: "1"},
		{Name: "X-Other", Value: "2"},
	}

	out := toHeaderFilters(in)

	require.Len(t, out, 2)
	assert.Equal(t, "X-Test", out[0].Name)
	assert.Equal(t, "1", out[0].Value)
	assert.Equal(t, "X-Other", out[1].Name)
	assert.Equal(t, "2", out[1].Value)
}

func TestPluginDescriptors_MapsPluginConfigFields(t *testing.T) {
	disabled := false
	cfg := config.Defaults()
	cfg.Plugins = []config.PluginConfig{
		{Name: "mock", PluginPath: "mock", UrlsToWatch: []string{"https://api.example.com/*"}},
		{Name: "throttle", PluginPath: "throttle", Enabled: &disabled},
	}

	descriptors, err := pluginDescriptors(cfg)
	require.NoError(t, err)
	require.Len(t, descriptors, 2)

	assert.Equal(t, "mock", descriptors[0].Name)
	assert.Equal(t, "mock", descriptors[0].PluginPath)
	assert.True(t, descriptors[0].Enabled)
	assert.Equal(t, []string{"https://api.example.com/*"}, descriptors[0].UrlsToWatch)

	assert.Equal(t, "throttle", descriptors[1].Name)
	assert.False(t, descriptors[1].Enabled)
}
