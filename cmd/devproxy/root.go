// SPDX-License-Identifier: MIT

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/devproxy-oss/devproxy/internal/config"
	"github.com/devproxy-oss/devproxy/internal/plugin"
)

// cliFlags mirrors the configuration file's schema; every field here can
// also come from the on-disk config, with CLI flags taking precedence over
// the file, and the file taking precedence over built-in defaults.
type cliFlags struct {
	configFile    string
	urlsToWatch   []string
	failureRate   int
	port          int
	ipAddress     string
	logLevel      string
	record        bool
	noFirstRun    bool
	asSystemProxy bool
	installCert   bool
	labelMode     string
}

func newRootCmd() *cobra.Command {
	flags := &cliFlags{}

	root := &cobra.Command{
		Use:           "devproxy",
		Short:         "An HTTP(S) intercepting proxy for local API development",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, flags)
		},
	}
	root.SetVersionTemplate(fmt.Sprintf("devproxy %s (commit %s, built %s)\n", version, commit, buildDate))

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configFile, "config-file", "c", defaultConfigFilePath(), "path to the JSON configuration file")
	pf.StringArrayVarP(&flags.urlsToWatch, "urls-to-watch", "u", nil, "URL glob to watch; repeatable, prefix with ! to exclude")
	pf.IntVarP(&flags.failureRate, "failure-rate", "f", -1, "percent chance (0-100) of synthesizing a chaos failure; -1 leaves the config value untouched")
	pf.IntVar(&flags.port, "port", 0, "explicit proxy listen port; 0 leaves the config value untouched")
	pf.StringVar(&flags.ipAddress, "ip-address", "", "explicit proxy listen address; empty leaves the config value untouched")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error); empty leaves the config value untouched")
	pf.BoolVar(&flags.record, "record", false, "start with recording already active")
	pf.BoolVar(&flags.noFirstRun, "no-first-run", false, "suppress the first-run onboarding banner")
	pf.BoolVar(&flags.asSystemProxy, "as-system-proxy", false, "register as the OS system proxy while running")
	pf.BoolVar(&flags.installCert, "install-cert", false, "install the root certificate into the OS trust store before starting")
	pf.StringVar(&flags.labelMode, "label-mode", "", "hotkey banner label style (text, icon, nerdFont); empty leaves the config value untouched")

	for _, opt := range enumerateOptions() {
		registerPluginOption(pf, opt)
	}
	for _, cmdDef := range enumerateCommands() {
		root.AddCommand(pluginCommand(cmdDef))
	}

	root.AddCommand(
		newMsgraphdbCmd(),
		newPresetCmd(),
		newConfigCmd(),
		newOutdatedCmd(),
		newJWTCmd(),
	)

	return root
}

// registerPluginOption binds a plugin-contributed Option to the flag set;
// enumerateOptions has already de-duplicated the options by name, first
// wins.
func registerPluginOption(pf *pflag.FlagSet, opt plugin.Option) {
	if opt.Destination == nil {
		var discard string
		opt.Destination = &discard
	}
	if opt.Shorthand != "" {
		pf.StringVarP(opt.Destination, opt.Name, opt.Shorthand, opt.Default, opt.Usage)
	} else {
		pf.StringVar(opt.Destination, opt.Name, opt.Default, opt.Usage)
	}
}

// pluginCommand adapts a plugin-contributed Command into a cobra.Command.
func pluginCommand(c plugin.Command) *cobra.Command {
	return &cobra.Command{
		Use:   c.Use,
		Short: c.Short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Run(args)
		},
	}
}

// applyFlagOverrides layers non-zero CLI flags on top of a loaded
// configuration, implementing the CLI-overrides-file precedence.
func applyFlagOverrides(cfg config.AppConfig, f *cliFlags) config.AppConfig {
	if len(f.urlsToWatch) > 0 {
		cfg.UrlsToWatch = f.urlsToWatch
	}
	if f.failureRate >= 0 {
		cfg.Rate = f.failureRate
	}
	if f.port != 0 {
		cfg.Port = f.port
	}
	if f.ipAddress != "" {
		cfg.IPAddress = f.ipAddress
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if f.record {
		cfg.Record = true
	}
	if f.noFirstRun {
		cfg.NoFirstRun = true
	}
	if f.asSystemProxy {
		cfg.AsSystemProxy = true
	}
	if f.installCert {
		cfg.InstallCert = true
	}
	if f.labelMode != "" {
		cfg.LabelMode = config.LabelMode(f.labelMode)
	}
	return cfg
}

func defaultConfigFilePath() string {
	return "devproxyrc.jsonc"
}

func fatalConfigError(err error) error {
	return fmt.Errorf("configuration error: %w", err)
}
