// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sheetkeeper Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// SessionService issues, validates, rotates and invalidates sessions.
type SessionService struct {
	table       SessionTable
	credentials *CredentialService
	timeout     time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// SessionOption configures a SessionService.
type SessionOption func(*SessionService)

// WithSessionTimeout bounds each table call. Defaults to DefaultStoreTimeout.
func WithSessionTimeout(d time.Duration) SessionOption {
	return func(s *SessionService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock overrides time.Now for expiry computation.
func WithClock(now func() time.Time) SessionOption {
	return func(s *SessionService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSessionLogger sets the service logger.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *SessionService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSessionService creates a SessionService. The table is owned by the
// service from here on.
func NewSessionService(table SessionTable, credentials *CredentialService, opts ...SessionOption) (*SessionService, error) {
	if table == nil {
		return nil, oops.Errorf("session table is required")
	}
	if credentials == nil {
		return nil, oops.Errorf("credential service is required")
	}
	s := &SessionService{
		table:       table,
		credentials: credentials,
		timeout:     DefaultStoreTimeout,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateSession issues a session for userID that expires validity from now.
// A non-positive validity issues an already-expired session.
func (s *SessionService) CreateSession(ctx context.Context, userID ulid.ULID, validity time.Duration) (Ticket, error) {
	var ticket Ticket
	err := s.retryOnCollision(ctx, func(ctx context.Context) error {
		token, err := s.table.NewToken()
		if err != nil {
			return err //nolint:wrapcheck // already an oops error
		}
		record, err := NewRecord(userID, validity, s.now())
		if err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		if err := s.table.Put(callCtx, token, record); err != nil {
			return tableError("put session", err)
		}
		ticket = Ticket{Token: token, UserID: record.UserID, ExpiresAt: record.ExpiresAt}
		return nil
	})
	if err != nil {
		return Ticket{}, retryOutcome("create session", err)
	}
	return ticket, nil
}

// AuthenticateAndCreateSession verifies credentials and issues a session.
// Credential failures are returned unchanged.
func (s *SessionService) AuthenticateAndCreateSession(ctx context.Context, username, password string, validity time.Duration) (Ticket, error) {
	user, err := s.credentials.VerifyCredentials(ctx, username, password)
	if err != nil {
		return Ticket{}, err
	}
	return s.CreateSession(ctx, user.ID, validity)
}

// ValidateToken returns the owner of a live session. The boolean is false when
// the token is unknown or expired; an error means the table could not answer.
func (s *SessionService) ValidateToken(ctx context.Context, token string) (ulid.ULID, bool, error) {
	if token == "" {
		return ulid.ULID{}, false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	record, ok, err := s.table.Get(ctx, token)
	if err != nil {
		return ulid.ULID{}, false, storeUnavailable("get session", err)
	}
	if !ok {
		return ulid.ULID{}, false, nil
	}
	return record.UserID, true, nil
}

// RotateSession replaces a live token with a new one for the same user and a
// fresh expiry. Returns absent, with nothing changed, if token is not live.
// Of two concurrent rotations of the same token at most one succeeds.
func (s *SessionService) RotateSession(ctx context.Context, token string, validity time.Duration) (Ticket, bool, error) {
	if token == "" {
		return Ticket{}, false, nil
	}
	var (
		ticket Ticket
		found  bool
	)
	err := s.retryOnCollision(ctx, func(ctx context.Context) error {
		newToken, err := s.table.NewToken()
		if err != nil {
			return err //nolint:wrapcheck // already an oops error
		}
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		record, ok, err := s.table.Replace(callCtx, token, newToken, validity, s.now())
		if err != nil {
			return tableError("replace session", err)
		}
		found = ok
		if ok {
			ticket = Ticket{Token: newToken, UserID: record.UserID, ExpiresAt: record.ExpiresAt}
		}
		return nil
	})
	if err != nil {
		return Ticket{}, false, retryOutcome("rotate session", err)
	}
	return ticket, found, nil
}

// InvalidateSession deletes token. Invalidating an unknown token succeeds.
func (s *SessionService) InvalidateSession(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.table.Delete(ctx, token); err != nil {
		return storeUnavailable("delete session", err)
	}
	return nil
}

// PurgeExpired drops expired sessions from the table.
func (s *SessionService) PurgeExpired(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	n, err := s.table.PurgeExpired(ctx, s.now())
	if err != nil {
		return 0, storeUnavailable("purge expired sessions", err)
	}
	return n, nil
}

// retryOnCollision runs fn, retrying exactly once if the generated token
// collided with a live one. A second collision is returned as ErrTokenCollision.
func (s *SessionService) retryOnCollision(ctx context.Context, fn func(context.Context) error) error {
	backoff := retry.WithMaxRetries(1, retry.NewConstant(time.Millisecond))
	//nolint:wrapcheck // fn errors are already classified
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, ErrTokenCollision) {
			s.logger.WarnContext(ctx, "session token collision, regenerating")
			return retry.RetryableError(err)
		}
		return err
	})
}

// tableError passes collisions through for the retry loop and marks anything
// else as the store being unavailable.
func tableError(operation string, err error) error {
	if errors.Is(err, ErrTokenCollision) {
		return oops.Code(CodeTokenCollision).With("operation", operation).Wrap(err)
	}
	return storeUnavailable(operation, err)
}

// retryOutcome maps a context that ended while retrying to ErrStoreUnavailable.
func retryOutcome(operation string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if !errors.Is(err, ErrStoreUnavailable) {
			return storeUnavailable(operation, err)
		}
	}
	return err
}
