// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sheetkeeper Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
)

// DefaultStoreTimeout bounds every call into a backing store.
const DefaultStoreTimeout = 2 * time.Second

// dummyPassword is hashed once per service so lookups of unknown users still
// pay for a full verification with the configured cost parameters.
//
//nolint:gosec // G101: not a credential.
const dummyPassword = "sheetkeeper-timing-equalizer"

// CredentialService registers users and verifies their passwords.
type CredentialService struct {
	users   UserRepository
	hasher  PasswordHasher
	timeout time.Duration
	logger  *slog.Logger

	dummyOnce sync.Once
	dummyHash string
}

// CredentialOption configures a CredentialService.
type CredentialOption func(*CredentialService)

// WithCredentialTimeout overrides DefaultStoreTimeout.
func WithCredentialTimeout(d time.Duration) CredentialOption {
	return func(s *CredentialService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithCredentialLogger sets the logger used for best-effort failures.
func WithCredentialLogger(logger *slog.Logger) CredentialOption {
	return func(s *CredentialService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewCredentialService creates a CredentialService.
func NewCredentialService(users UserRepository, hasher PasswordHasher, opts ...CredentialOption) (*CredentialService, error) {
	if users == nil {
		return nil, oops.Errorf("users repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	s := &CredentialService{
		users:   users,
		hasher:  hasher,
		timeout: DefaultStoreTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RegisterUser validates and stores a new user.
func (s *CredentialService) RegisterUser(ctx context.Context, username, password string) (*User, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	// Cheap duplicate check before paying for the hash; Create still enforces it.
	if _, err := s.lookup(ctx, username); err == nil {
		return nil, duplicateUser(username)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, storeUnavailable("get user by username", err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, oops.Code("AUTH_HASH_FAILED").With("operation", "hash password").Wrap(err)
	}

	user, err := NewUser(username, hash)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateUser) {
			return nil, duplicateUser(username)
		}
		return nil, storeUnavailable("create user", err)
	}
	return user, nil
}

// VerifyCredentials checks username and password and returns the matching user.
// Unknown users still go through a full hash verification so response time
// does not reveal which of the two failures occurred.
func (s *CredentialService) VerifyCredentials(ctx context.Context, username, password string) (*User, error) {
	user, lookupErr := s.lookup(ctx, username)
	if lookupErr != nil && !errors.Is(lookupErr, ErrNotFound) {
		return nil, storeUnavailable("get user by username", lookupErr)
	}

	targetHash := s.timingHash()
	if user != nil {
		targetHash = user.PasswordHash
	}

	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if user == nil {
		return nil, oops.Code(CodeUserNotFound).With("username", username).Wrap(ErrUserNotFound)
	}
	if verifyErr != nil {
		s.logger.ErrorContext(ctx, "stored password hash is unreadable",
			"user_id", user.ID.String(), "error", verifyErr)
		return nil, oops.Code(CodeIncorrectPass).With("username", username).Wrap(ErrIncorrectPassword)
	}
	if !valid {
		return nil, oops.Code(CodeIncorrectPass).With("username", username).Wrap(ErrIncorrectPassword)
	}

	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		s.upgradeHash(ctx, user, password)
	}
	return user, nil
}

// upgradeHash re-encodes a legacy hash. Login succeeds regardless of the outcome.
func (s *CredentialService) upgradeHash(ctx context.Context, user *User, password string) {
	newHash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.WarnContext(ctx, "password hash upgrade failed",
			"user_id", user.ID.String(), "operation", "hash", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.users.UpdatePasswordHash(ctx, user.ID, newHash); err != nil {
		s.logger.WarnContext(ctx, "password hash upgrade failed",
			"user_id", user.ID.String(), "operation", "update", "error", err)
		return
	}
	user.PasswordHash = newHash
}

func (s *CredentialService) lookup(ctx context.Context, username string) (*User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	//nolint:wrapcheck // classified by callers
	return s.users.GetByUsername(ctx, username)
}

func (s *CredentialService) timingHash() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash(dummyPassword)
		if err != nil {
			s.logger.Warn("could not prepare timing-equalizer hash", "error", err)
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

func duplicateUser(username string) error {
	return oops.Code(CodeDuplicateUser).
		With("username", username).
		Wrapf(ErrDuplicateUser, "username %q is already taken", username)
}
