// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sheetkeeper Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"github.com/sheetkeeper/sheetkeeper/internal/auth"
	"github.com/sheetkeeper/sheetkeeper/internal/auth/bolt"
	"github.com/sheetkeeper/sheetkeeper/internal/auth/memory"
	"github.com/sheetkeeper/sheetkeeper/internal/auth/postgres"
	"github.com/sheetkeeper/sheetkeeper/internal/config"
	"github.com/sheetkeeper/sheetkeeper/internal/store"
)

// boltLockTimeout bounds how long we wait for another process holding the
// bolt file.
const boltLockTimeout = 5 * time.Second

// backends holds the storage selected by config.
type backends struct {
	users    auth.UserRepository
	sessions auth.SessionTable
	pool     *pgxpool.Pool
	closers  []func() error
}

// ready reports whether the storage can serve requests.
func (b *backends) ready() func() bool {
	if b.pool == nil {
		return func() bool { return true }
	}
	return store.Ready(b.pool, time.Second)
}

// Close releases everything opened by openBackends, newest first.
func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			slog.Warn("error closing backend", "error", err)
		}
	}
	b.closers = nil
}

// openBackends opens the user store and session table named in cfg.
func openBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	b := &backends{}

	if cfg.NeedsDatabase() {
		pool, err := store.Connect(ctx, cfg.Database.URL, cfg.Database.ConnectAttempts)
		if err != nil {
			return nil, err //nolint:wrapcheck // already an oops error
		}
		b.pool = pool
		b.closers = append(b.closers, func() error { pool.Close(); return nil })
	}

	switch cfg.Store.Backend {
	case config.BackendMemory:
		b.users = memory.NewUserRepository()
	case config.BackendBolt:
		repo, err := bolt.Open(cfg.Store.BoltPath, boltLockTimeout)
		if err != nil {
			b.Close()
			return nil, err //nolint:wrapcheck // already an oops error
		}
		b.users = repo
		b.closers = append(b.closers, repo.Close)
	case config.BackendPostgres:
		b.users = postgres.NewUserRepository(b.pool)
	default:
		b.Close()
		return nil, oops.Code("CONFIG_INVALID").With("key", "store.backend").Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	switch cfg.Session.Backend {
	case config.BackendMemory:
		b.sessions = auth.NewMemorySessionTable()
	case config.BackendPostgres:
		b.sessions = postgres.NewSessionTable(b.pool)
	default:
		b.Close()
		return nil, oops.Code("CONFIG_INVALID").With("key", "session.backend").Errorf("unknown session backend %q", cfg.Session.Backend)
	}

	return b, nil
}

// services wires the auth core over b.
func services(b *backends, cfg *config.Config, logger *slog.Logger) (*auth.CredentialService, *auth.SessionService, error) {
	credentials, err := auth.NewCredentialService(b.users, auth.NewArgon2idHasher(cfg.Argon2.Params()),
		auth.WithCredentialTimeout(cfg.Store.Timeout),
		auth.WithCredentialLogger(logger),
	)
	if err != nil {
		return nil, nil, err //nolint:wrapcheck // already an oops error
	}
	sessions, err := auth.NewSessionService(b.sessions, credentials,
		auth.WithSessionTimeout(cfg.Store.Timeout),
		auth.WithSessionLogger(logger),
	)
	if err != nil {
		return nil, nil, err //nolint:wrapcheck // already an oops error
	}
	return credentials, sessions, nil
}
