// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sheetkeeper Contributors

package main

import (
	"bufio"
	"io"
	"log/slog"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/sheetkeeper/sheetkeeper/internal/config"
)

// NewUserCmd creates the user subcommand.
func NewUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add USERNAME",
		Short: "Create a user, reading the password from the first line of stdin",
		Long: `Create a user in the configured store. The password is read from the
first line of standard input so it never appears in the process list:

  printf '%s\n' "$PASSWORD" | sheetkeeper user add alice --store-backend=bolt`,
		Args: cobra.ExactArgs(1),
		RunE: runUserAdd,
	})
	return cmd
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Store.Backend == config.BackendMemory {
		return oops.Code("CONFIG_INVALID").With("key", "store.backend").
			Errorf("user add needs a persistent store; set --store-backend to bolt or postgres")
	}

	password, err := readPassword(cmd.InOrStdin())
	if err != nil {
		return err
	}

	b, err := openBackends(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	credentials, _, err := services(b, cfg, slog.Default())
	if err != nil {
		return err
	}
	user, err := credentials.RegisterUser(cmd.Context(), args[0], password)
	if err != nil {
		return err //nolint:wrapcheck // already an oops error
	}
	cmd.Printf("Created user %s (%s)\n", user.Username, user.ID)
	return nil
}

func readPassword(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", oops.Code("PASSWORD_READ_FAILED").Wrap(err)
		}
		return "", oops.Code("PASSWORD_READ_FAILED").Errorf("no password on stdin")
	}
	return strings.TrimRight(scanner.Text(), "\r"), nil
}
