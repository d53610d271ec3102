// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sheetkeeper Contributors

package auth

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Username and password constraints.
const (
	MaxUsernameLength = 64
	MinPasswordLength = 8
)

// User represents an account. Identity (ID, Username) never changes after signup.
type User struct {
	ID           ulid.ULID
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// NewUser creates a validated User with a fresh ID.
func NewUser(username, passwordHash string) (*User, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("password hash cannot be empty")
	}
	return &User{
		ID:           ulid.Make(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// NormalizeUsername returns the form used for lookups and uniqueness.
// Usernames are case-insensitive; the typed form is kept for display.
func NormalizeUsername(username string) string {
	return strings.ToLower(username)
}

// ValidateUsername rejects empty usernames, usernames containing whitespace,
// and usernames longer than MaxUsernameLength bytes.
func ValidateUsername(username string) error {
	if username == "" {
		return oops.Code(CodeInvalidUsername).Wrapf(ErrInvalidUsername, "username cannot be empty")
	}
	if len(username) > MaxUsernameLength {
		return oops.Code(CodeInvalidUsername).
			With("max", MaxUsernameLength).
			Wrapf(ErrInvalidUsername, "username must be at most %d characters", MaxUsernameLength)
	}
	if strings.IndexFunc(username, unicode.IsSpace) >= 0 {
		return oops.Code(CodeInvalidUsername).Wrapf(ErrInvalidUsername, "username cannot contain whitespace")
	}
	return nil
}

// ValidatePassword enforces the strength policy: at least MinPasswordLength
// characters with one lowercase letter, one uppercase letter and one digit.
// Symbols are allowed but not required.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return oops.Code(CodeWeakPassword).
			With("min", MinPasswordLength).
			Wrapf(ErrWeakPassword, "password must be at least %d characters", MinPasswordLength)
	}
	var lower, upper, digit bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	switch {
	case !lower:
		return oops.Code(CodeWeakPassword).Wrapf(ErrWeakPassword, "password must contain a lowercase letter")
	case !upper:
		return oops.Code(CodeWeakPassword).Wrapf(ErrWeakPassword, "password must contain an uppercase letter")
	case !digit:
		return oops.Code(CodeWeakPassword).Wrapf(ErrWeakPassword, "password must contain a digit")
	}
	return nil
}

// UserRepository manages user persistence.
//
// Implementations must wrap ErrNotFound when a user does not exist and
// ErrDuplicateUser when Create hits an existing normalized username. Any other
// error is treated as the store being unavailable.
type UserRepository interface {
	// Create stores a new user.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByUsername retrieves a user by username (case-insensitive).
	GetByUsername(ctx context.Context, username string) (*User, error)

	// UpdatePasswordHash replaces the stored hash, e.g. after a hash upgrade.
	UpdatePasswordHash(ctx context.Context, id ulid.ULID, passwordHash string) error
}
