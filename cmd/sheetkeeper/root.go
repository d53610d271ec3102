// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sheetkeeper Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/sheetkeeper/sheetkeeper/internal/config"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Sheetkeeper CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sheetkeeper",
		Short: "Sheetkeeper - character sheets for tabletop games",
		Long: `Sheetkeeper serves character sheets to signed-in players. This binary
runs the account and session server and its maintenance tasks.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (YAML)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewUserCmd())
	cmd.AddCommand(NewSessionsCmd())

	return cmd
}

// loadConfig reads --config, if given, and the command's flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(configFile, configFile != "", cmd.Flags()) //nolint:wrapcheck // already an oops error
}
