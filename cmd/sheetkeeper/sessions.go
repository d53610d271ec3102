// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sheetkeeper Contributors

package main

import (
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/sheetkeeper/sheetkeeper/internal/config"
)

// NewSessionsCmd creates the sessions subcommand.
func NewSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Maintain the session table",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete expired sessions",
		Long: `Delete every expired session from the configured session table. Expired
sessions are already unusable; this only reclaims space.`,
		Args: cobra.NoArgs,
		RunE: runSessionsPurge,
	})
	return cmd
}

func runSessionsPurge(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Session.Backend == config.BackendMemory {
		return oops.Code("CONFIG_INVALID").With("key", "session.backend").
			Errorf("sessions purge needs a persistent session table; set --session-backend=postgres")
	}

	b, err := openBackends(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	_, sessions, err := services(b, cfg, slog.Default())
	if err != nil {
		return err
	}
	n, err := sessions.PurgeExpired(cmd.Context())
	if err != nil {
		return err //nolint:wrapcheck // already an oops error
	}
	cmd.Printf("Purged %d expired sessions\n", n)
	return nil
}
