// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sheetkeeper Contributors

package auth

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
)

// ErrNotFound is returned by repositories when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Error kinds. Returned errors wrap exactly one of these; test with errors.Is.
var (
	// Signup-time, client-fixable.
	ErrInvalidUsername = errors.New("invalid username")
	ErrWeakPassword    = errors.New("weak password")
	ErrDuplicateUser   = errors.New("username already taken")

	// Login-time. Callers should present both as one generic message.
	ErrUserNotFound      = errors.New("user not found")
	ErrIncorrectPassword = errors.New("incorrect password")

	// Internal: a freshly generated token was already live.
	ErrTokenCollision = errors.New("session token collision")

	// Infrastructure: the backing store could not answer in time.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Error codes attached to oops errors.
const (
	CodeInvalidUsername  = "AUTH_INVALID_USERNAME"
	CodeWeakPassword     = "AUTH_WEAK_PASSWORD"
	CodeDuplicateUser    = "AUTH_DUPLICATE_USER"
	CodeUserNotFound     = "AUTH_USER_NOT_FOUND"
	CodeIncorrectPass    = "AUTH_INCORRECT_PASSWORD"
	CodeTokenCollision   = "SESSION_TOKEN_COLLISION"
	CodeStoreUnavailable = "AUTH_STORE_UNAVAILABLE"
)

// IsCredentialFailure reports whether err means the presented username/password
// pair was rejected (as opposed to the check being impossible).
func IsCredentialFailure(err error) bool {
	return errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrIncorrectPassword)
}

// IsValidationFailure reports whether err is a signup validation error.
func IsValidationFailure(err error) bool {
	return errors.Is(err, ErrInvalidUsername) ||
		errors.Is(err, ErrWeakPassword) ||
		errors.Is(err, ErrDuplicateUser)
}

// storeUnavailable marks a backend failure as ErrStoreUnavailable while keeping
// the cause in the chain for logging.
func storeUnavailable(operation string, cause error) error {
	return oops.Code(CodeStoreUnavailable).
		With("operation", operation).
		Wrap(fmt.Errorf("%w: %w", ErrStoreUnavailable, cause))
}
