// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sheetkeeper Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/sheetkeeper/sheetkeeper/internal/auth"
)

// SessionTable implements auth.SessionTable on the web_sessions table so
// sessions survive restarts and are shared between instances. Only SHA-256
// token hashes are stored.
type SessionTable struct {
	pool     Pool
	generate auth.TokenGenerator
	now      func() time.Time
}

var _ auth.SessionTable = (*SessionTable)(nil)

// SessionTableOption configures a SessionTable.
type SessionTableOption func(*SessionTable)

// WithTokenGenerator replaces auth.GenerateSessionToken.
func WithTokenGenerator(gen auth.TokenGenerator) SessionTableOption {
	return func(t *SessionTable) {
		if gen != nil {
			t.generate = gen
		}
	}
}

// WithClock sets the clock used for lazy expiry on Get.
func WithClock(now func() time.Time) SessionTableOption {
	return func(t *SessionTable) {
		if now != nil {
			t.now = now
		}
	}
}

// NewSessionTable creates a SessionTable.
func NewSessionTable(pool Pool, opts ...SessionTableOption) *SessionTable {
	t := &SessionTable{
		pool:     pool,
		generate: auth.GenerateSessionToken,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewToken returns a fresh token.
func (t *SessionTable) NewToken() (string, error) {
	return t.generate()
}

// Put inserts record under token.
func (t *SessionTable) Put(ctx context.Context, token string, record auth.Record) error {
	_, err := t.pool.Exec(ctx, `
		INSERT INTO web_sessions (token_hash, user_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
	`,
		auth.HashSessionToken(token),
		record.UserID.String(),
		record.ExpiresAt,
		record.CreatedAt,
	)
	if isUniqueViolation(err) {
		return oops.Code(auth.CodeTokenCollision).Wrap(auth.ErrTokenCollision)
	}
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert web_session").
			With("user_id", record.UserID.String()).
			Wrap(err)
	}
	return nil
}

// Get returns the live record for token, deleting it if expired.
func (t *SessionTable) Get(ctx context.Context, token string) (auth.Record, bool, error) {
	tokenHash := auth.HashSessionToken(token)
	row := t.pool.QueryRow(ctx, `
		SELECT user_id, expires_at, created_at
		FROM web_sessions
		WHERE token_hash = $1
	`, tokenHash)

	record, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return auth.Record{}, false, nil
	}
	if err != nil {
		return auth.Record{}, false, oops.Code("SESSION_GET_BY_TOKEN_FAILED").
			With("operation", "get session by token hash").
			Wrap(err)
	}

	now := t.now()
	if !auth.IsExpired(record, now) {
		return record, true, nil
	}
	// Guarded by expires_at so a concurrent replacement is never removed.
	if _, err := t.pool.Exec(ctx, `
		DELETE FROM web_sessions WHERE token_hash = $1 AND expires_at <= $2
	`, tokenHash, now); err != nil {
		return auth.Record{}, false, oops.Code("SESSION_DELETE_EXPIRED_FAILED").
			With("operation", "lazy expiry delete").
			Wrap(err)
	}
	return auth.Record{}, false, nil
}

// Delete removes token if present.
func (t *SessionTable) Delete(ctx context.Context, token string) error {
	_, err := t.pool.Exec(ctx, `DELETE FROM web_sessions WHERE token_hash = $1`, auth.HashSessionToken(token))
	if err != nil {
		return oops.Code("SESSION_DELETE_FAILED").
			With("operation", "delete web_session").
			Wrap(err)
	}
	return nil
}

// Replace swaps oldToken for newToken in one transaction. The row lock taken
// by DELETE makes a concurrent rotation of the same token see no row.
func (t *SessionTable) Replace(ctx context.Context, oldToken, newToken string, validity time.Duration, now time.Time) (auth.Record, bool, error) {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return auth.Record{}, false, oops.Code("SESSION_REPLACE_FAILED").
			With("operation", "begin transaction").
			Wrap(err)
	}

	row := tx.QueryRow(ctx, `
		DELETE FROM web_sessions
		WHERE token_hash = $1
		RETURNING user_id, expires_at, created_at
	`, auth.HashSessionToken(oldToken))
	old, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		_ = tx.Rollback(ctx) //nolint:errcheck // nothing was changed
		return auth.Record{}, false, nil
	}
	if err != nil {
		_ = tx.Rollback(ctx) //nolint:errcheck // original error takes precedence
		return auth.Record{}, false, oops.Code("SESSION_REPLACE_FAILED").
			With("operation", "delete old session").
			Wrap(err)
	}

	if auth.IsExpired(old, now) {
		// Keep the delete: it is the lazy expiry of the old session.
		if err := tx.Commit(ctx); err != nil {
			return auth.Record{}, false, oops.Code("SESSION_REPLACE_FAILED").
				With("operation", "commit expiry delete").
				Wrap(err)
		}
		return auth.Record{}, false, nil
	}

	record, err := auth.NewRecord(old.UserID, validity, now)
	if err != nil {
		_ = tx.Rollback(ctx) //nolint:errcheck // original error takes precedence
		return auth.Record{}, false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO web_sessions (token_hash, user_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
	`,
		auth.HashSessionToken(newToken),
		record.UserID.String(),
		record.ExpiresAt,
		record.CreatedAt,
	)
	if err != nil {
		_ = tx.Rollback(ctx) //nolint:errcheck // original error takes precedence
		if isUniqueViolation(err) {
			return auth.Record{}, false, oops.Code(auth.CodeTokenCollision).Wrap(auth.ErrTokenCollision)
		}
		return auth.Record{}, false, oops.Code("SESSION_REPLACE_FAILED").
			With("operation", "insert new session").
			Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return auth.Record{}, false, oops.Code("SESSION_REPLACE_FAILED").
			With("operation", "commit").
			Wrap(err)
	}
	return record, true, nil
}

// PurgeExpired removes every expired session.
func (t *SessionTable) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	result, err := t.pool.Exec(ctx, `DELETE FROM web_sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired sessions").
			Wrap(err)
	}
	return int(result.RowsAffected()), nil
}

func scanRecord(row pgx.Row) (auth.Record, error) {
	var (
		userIDStr string
		record    auth.Record
	)
	if err := row.Scan(&userIDStr, &record.ExpiresAt, &record.CreatedAt); err != nil {
		return auth.Record{}, err //nolint:wrapcheck // callers wrap with operation context
	}
	userID, err := ulid.Parse(userIDStr)
	if err != nil {
		return auth.Record{}, oops.Code("SESSION_CORRUPT_USER_ID").With("user_id", userIDStr).Wrap(err)
	}
	record.UserID = userID
	return record, nil
}
