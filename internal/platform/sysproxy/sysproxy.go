// SPDX-License-Identifier: MIT

// Package sysproxy registers and unregisters the running proxy as the
// operating system's default HTTP(S) proxy, so applications that read the
// OS proxy setting instead of an explicit configuration pick it up without
// per-tool setup.
package sysproxy

import (
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
)

// Registrar enables and disables the OS-level system proxy setting. Enable
// is idempotent: calling it twice just repoints the existing setting.
type Registrar interface {
	Enable(host string, port int) error
	Disable() error
}

// ForOS returns the Registrar for the current operating system, or an error
// if none is implemented for it.
func ForOS() (Registrar, error) {
	switch runtime.GOOS {
	case "darwin":
		return macRegistrar{}, nil
	case "linux":
		return gnomeRegistrar{}, nil
	default:
		return nil, fmt.Errorf("sysproxy: unsupported OS %s", runtime.GOOS)
	}
}

// macRegistrar drives networksetup against every active network service,
// the same tool System Preferences' own proxy pane shells out to.
type macRegistrar struct{}

func (macRegistrar) Enable(host string, port int) error {
	services, err := networkServices()
	if err != nil {
		return err
	}
	portStr := strconv.Itoa(port)
	for _, svc := range services {
		if err := runCommand("networksetup", "-setwebproxy", svc, host, portStr); err != nil {
			return err
		}
		if err := runCommand("networksetup", "-setsecurewebproxy", svc, host, portStr); err != nil {
			return err
		}
	}
	return nil
}

func (macRegistrar) Disable() error {
	services, err := networkServices()
	if err != nil {
		return err
	}
	for _, svc := range services {
		if err := runCommand("networksetup", "-setwebproxystate", svc, "off"); err != nil {
			return err
		}
		if err := runCommand("networksetup", "-setsecurewebproxystate", svc, "off"); err != nil {
			return err
		}
	}
	return nil
}

func networkServices() ([]string, error) {
	out, err := exec.Command("networksetup", "-listallnetworkservices").Output() // #nosec G204
	if err != nil {
		return nil, fmt.Errorf("list network services: %w", err)
	}
	var services []string
	for _, line := range splitLines(string(out)) {
		if line == "" || line[0] == '*' || line == "An asterisk (*) denotes that a network service is disabled." {
			continue
		}
		services = append(services, line)
	}
	return services, nil
}

// gnomeRegistrar drives gsettings against the GNOME proxy schema, the
// desktop-neutral fallback for the Linux distributions most dev machines
// run.
type gnomeRegistrar struct{}

func (gnomeRegistrar) Enable(host string, port int) error {
	if err := runCommand("gsettings", "set", "org.gnome.system.proxy", "mode", "manual"); err != nil {
		return err
	}
	portStr := strconv.Itoa(port)
	for _, proto := range []string{"http", "https"} {
		schema := "org.gnome.system.proxy." + proto
		if err := runCommand("gsettings", "set", schema, "host", host); err != nil {
			return err
		}
		if err := runCommand("gsettings", "set", schema, "port", portStr); err != nil {
			return err
		}
	}
	return nil
}

func (gnomeRegistrar) Disable() error {
	return runCommand("gsettings", "set", "org.gnome.system.proxy", "mode", "none")
}

func runCommand(name string, args ...string) error {
	cmd := exec.Command(name, args...) // #nosec G204
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %v: %w: %s", name, args, err, string(out))
	}
	return nil
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
