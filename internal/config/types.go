// SPDX-License-Identifier: MIT

// Package config loads and hot-reloads the proxy's JSON configuration
// file with an fsnotify-driven reload. Precedence is CLI flags (applied by
// cmd/devproxy) > file > defaults; environment variables are not read.
package config

import "encoding/json"

// LabelMode controls how the hotkey banner renders plugin labels.
type LabelMode string

const (
	LabelModeText     LabelMode = "text"
	LabelModeIcon     LabelMode = "icon"
	LabelModeNerdFont LabelMode = "nerdFont"
)

// NewVersionNotification controls the update-check banner's verbosity.
type NewVersionNotification string

const (
	NewVersionNone   NewVersionNotification = "none"
	NewVersionStable NewVersionNotification = "stable"
	NewVersionBeta   NewVersionNotification = "beta"
)

// PluginConfig is one entry of the configuration's "plugins" list.
type PluginConfig struct {
	Name          string          `json:"name"`
	PluginPath    string          `json:"pluginPath"`
	Enabled       *bool           `json:"enabled,omitempty"`
	ConfigSection json.RawMessage `json:"configSection,omitempty"`
	UrlsToWatch   []string        `json:"urlsToWatch,omitempty"`
}

// IsEnabled returns the effective enabled flag, defaulting to true when the
// field was omitted.
func (p PluginConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// HeaderFilter is one entry of "filterByHeaders": a request must carry the
// header and, if Value is non-empty, the value must substring-match.
type HeaderFilter struct {
	Name  string `json:"name"`
	Value string `json:"value,omitempty"`
}

// AppConfig is the full shape of the on-disk configuration file, plus the
// CLI switches that mirror it.
type AppConfig struct {
	Plugins     []PluginConfig `json:"plugins"`
	UrlsToWatch []string       `json:"urlsToWatch"`

	Port      int    `json:"port"`
	IPAddress string `json:"ipAddress"`
	LogLevel  string `json:"logLevel"`

	LabelMode               LabelMode              `json:"labelMode"`
	Record                  bool                   `json:"record"`
	WatchPids               []int                  `json:"watchPids,omitempty"`
	WatchProcessNames       []string               `json:"watchProcessNames,omitempty"`
	Rate                    int                    `json:"rate"`
	NoFirstRun              bool                   `json:"noFirstRun"`
	AsSystemProxy           bool                   `json:"asSystemProxy"`
	InstallCert             bool                   `json:"installCert"`
	NewVersionNotification  NewVersionNotification `json:"newVersionNotification"`
	FilterByHeaders         []HeaderFilter         `json:"filterByHeaders,omitempty"`

	TracingEnabled      bool    `json:"tracingEnabled"`
	TracingEndpoint     string  `json:"tracingEndpoint,omitempty"`
	TracingSamplingRate float64 `json:"tracingSamplingRate"`
}

// Defaults returns the configuration's zero-config baseline.
func Defaults() AppConfig {
	return AppConfig{
		Port:                   8000,
		IPAddress:              "127.0.0.1",
		LogLevel:               "info",
		LabelMode:              LabelModeText,
		Rate:                   0,
		NewVersionNotification: NewVersionStable,
		TracingEndpoint:        "localhost:4318",
		TracingSamplingRate:    1.0,
	}
}
