// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/devproxy-oss/devproxy/internal/config"
	"github.com/devproxy-oss/devproxy/internal/metastore"
	outboundnet "github.com/devproxy-oss/devproxy/internal/platform/net"
)

// These sub-commands round out the CLI's interface surface. They accept
// and validate the same arguments the operator-facing tooling does, and
// persist through internal/metastore where that much is meaningful, but
// the richer catalogs they front (a hosted Microsoft Graph mock data set,
// a public preset registry, an npm-style update feed) are out of scope:
// each command says so plainly rather than pretending to reach a network
// service that isn't there.

func newMsgraphdbCmd() *cobra.Command {
	var sourceURL string
	cmd := &cobra.Command{
		Use:   "msgraphdb",
		Short: "Generate a local Microsoft Graph mock data set (interface stub)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sourceURL != "" {
				policy := outboundnet.OutboundPolicy{
					Enabled: true,
					Allow: outboundnet.OutboundAllowlist{
						Schemes: []string{"https"},
						Hosts:   []string{"graph.microsoft.com"},
						Ports:   []int{443},
					},
				}
				if _, err := outboundnet.ValidateOutboundURL(cmd.Context(), sourceURL, policy); err != nil {
					return fmt.Errorf("msgraphdb: --source-url rejected: %w", err)
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "msgraphdb: generating a hosted Graph mock data set is not implemented in this build")
			return nil
		},
	}
	cmd.Flags().StringVar(&sourceURL, "source-url", "", "Graph metadata endpoint to validate against the outbound allowlist before generation")
	return cmd
}

func newPresetCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "preset",
		Short: "Work with locally stored configuration presets",
	}
	root.AddCommand(&cobra.Command{
		Use:   "get <id>",
		Short: "Fetch a stored preset by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := metastore.Open(presetDBPath())
			if err != nil {
				return fmt.Errorf("preset get: %w", err)
			}
			defer func() { _ = store.Close() }()

			configJSON, err := store.GetPreset(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("preset %q not found locally; the hosted preset catalog is not implemented in this build: %w", args[0], err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), configJSON)
			return nil
		},
	})
	return root
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the built-in default configuration (the config file and flags are not applied)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Defaults()
			fmt.Fprintf(cmd.OutOrStdout(), "%+v\n", cfg)
			return nil
		},
	}
}

func newOutdatedCmd() *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:   "outdated",
		Short: "Check whether a newer release is available (interface stub)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if short {
				fmt.Fprintln(cmd.OutOrStdout(), version)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "devproxy %s (update checks are not implemented in this build)\n", version)
			return nil
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "print only the current version")
	return cmd
}

func newJWTCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "jwt",
		Short: "Generate development JWTs for mocked auth flows",
	}
	var (
		name  string
		roles []string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a signed development JWT (interface stub)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "jwt create: name=%q roles=%v: token minting is not implemented in this build\n", name, roles)
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "dev-user", "subject name to embed in the token")
	create.Flags().StringArrayVar(&roles, "role", nil, "role claim to embed; repeatable")
	root.AddCommand(create)
	return root
}

func presetDBPath() string {
	return filepath.Join(config.DataDir(), "presets.db")
}
