// SPDX-License-Identifier: MIT

package config

import "fmt"

// Validate checks enum membership and numeric ranges. Invalid configuration
// is a fatal startup error: the caller reports it to stderr with a single
// line identifying the offending option and exits rather than running with
// a partially-valid config.
func (c AppConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range 1-65535", c.Port)
	}
	if c.Rate < 0 || c.Rate > 100 {
		return fmt.Errorf("config: rate %d out of range 0-100", c.Rate)
	}
	switch c.LabelMode {
	case "", LabelModeText, LabelModeIcon, LabelModeNerdFont:
	default:
		return fmt.Errorf("config: labelMode %q must be one of text, icon, nerdFont", c.LabelMode)
	}
	switch c.NewVersionNotification {
	case "", NewVersionNone, NewVersionStable, NewVersionBeta:
	default:
		return fmt.Errorf("config: newVersionNotification %q must be one of none, stable, beta", c.NewVersionNotification)
	}
	for _, p := range c.Plugins {
		if p.Name == "" {
			return fmt.Errorf("config: plugin entry missing name")
		}
		if p.PluginPath == "" {
			return fmt.Errorf("config: plugin %q missing pluginPath", p.Name)
		}
	}
	if c.TracingSamplingRate < 0 || c.TracingSamplingRate > 1 {
		return fmt.Errorf("config: tracingSamplingRate %f out of range 0-1", c.TracingSamplingRate)
	}
	if c.TracingEnabled && c.TracingEndpoint == "" {
		return fmt.Errorf("config: tracingEndpoint required when tracingEnabled is true")
	}
	return nil
}
