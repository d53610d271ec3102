// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sheetkeeper Contributors

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Session token configuration.
const (
	SessionTokenBytes = 32 // 256 bits, 64 hex chars

	// DefaultSessionValidity is how long an issued or rotated session lives.
	DefaultSessionValidity = 24 * time.Hour
)

// Record is the server-side state of a session. Records are replaced on
// rotation, never updated in place.
type Record struct {
	UserID    ulid.ULID
	ExpiresAt time.Time
	CreatedAt time.Time
}

// NewRecord creates a record for userID expiring validity after now.
// A non-positive validity yields a record that is already expired.
func NewRecord(userID ulid.ULID, validity time.Duration, now time.Time) (Record, error) {
	if userID.IsZero() {
		return Record{}, oops.Code("SESSION_INVALID_USER").Errorf("user ID cannot be zero")
	}
	return Record{
		UserID:    userID,
		ExpiresAt: now.Add(validity),
		CreatedAt: now,
	}, nil
}

// IsExpired reports whether r is expired at now. A record whose expiry equals
// now is expired.
func IsExpired(r Record, now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Ticket is handed to the caller when a session is issued. The token is the
// only handle to the session outside the SessionTable.
type Ticket struct {
	Token     string
	UserID    ulid.ULID
	ExpiresAt time.Time
}

// GenerateSessionToken returns SessionTokenBytes of crypto/rand entropy, hex-encoded.
func GenerateSessionToken() (string, error) {
	tokenBytes := make([]byte, SessionTokenBytes)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", oops.Code("SESSION_TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", SessionTokenBytes).
			Wrap(err)
	}
	return hex.EncodeToString(tokenBytes), nil
}

// HashSessionToken computes the SHA256 hash of a session token. Persistent
// tables store this instead of the token itself.
func HashSessionToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
