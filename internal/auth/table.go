// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sheetkeeper Contributors

package auth

import (
	"context"
	"sync"
	"time"

	"github.com/samber/oops"
)

// SessionTable maps tokens to session records.
//
// Only SessionService talks to a table. Errors other than ErrTokenCollision
// mean the backing store could not answer.
type SessionTable interface {
	// NewToken returns a fresh unguessable token.
	NewToken() (string, error)

	// Put inserts record under token. Fails with ErrTokenCollision if the
	// token is already present; the existing record is left untouched.
	Put(ctx context.Context, token string, record Record) error

	// Get returns the record for token. An expired record is deleted and
	// reported as absent.
	Get(ctx context.Context, token string) (Record, bool, error)

	// Delete removes token. Missing tokens are not an error.
	Delete(ctx context.Context, token string) error

	// Replace atomically swaps a live oldToken for newToken, owned by the same
	// user and expiring validity after now. Returns absent if oldToken is
	// missing or expired; an expired oldToken is deleted.
	Replace(ctx context.Context, oldToken, newToken string, validity time.Duration, now time.Time) (Record, bool, error)

	// PurgeExpired deletes every record expired at now and returns how many
	// were removed. Lookups never depend on it.
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

// TokenGenerator produces session tokens.
type TokenGenerator func() (string, error)

// MemorySessionTable is a SessionTable held in process memory. Sessions are
// lost on restart.
type MemorySessionTable struct {
	mu       sync.RWMutex
	records  map[string]Record
	generate TokenGenerator
	now      func() time.Time
}

var _ SessionTable = (*MemorySessionTable)(nil)

// MemoryTableOption configures a MemorySessionTable.
type MemoryTableOption func(*MemorySessionTable)

// WithTokenGenerator replaces GenerateSessionToken.
func WithTokenGenerator(gen TokenGenerator) MemoryTableOption {
	return func(t *MemorySessionTable) {
		if gen != nil {
			t.generate = gen
		}
	}
}

// WithTableClock sets the clock used for lazy expiry on Get.
func WithTableClock(now func() time.Time) MemoryTableOption {
	return func(t *MemorySessionTable) {
		if now != nil {
			t.now = now
		}
	}
}

// NewMemorySessionTable creates an empty in-memory table.
func NewMemorySessionTable(opts ...MemoryTableOption) *MemorySessionTable {
	t := &MemorySessionTable{
		records:  make(map[string]Record),
		generate: GenerateSessionToken,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewToken returns a fresh token from the configured generator.
func (t *MemorySessionTable) NewToken() (string, error) {
	return t.generate()
}

// Put inserts record under token.
func (t *MemorySessionTable) Put(_ context.Context, token string, record Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.records[token]; exists {
		return collision()
	}
	t.records[token] = record
	return nil
}

// Get returns the live record for token, deleting it if expired.
func (t *MemorySessionTable) Get(_ context.Context, token string) (Record, bool, error) {
	t.mu.RLock()
	record, ok := t.records[token]
	t.mu.RUnlock()
	if !ok {
		return Record{}, false, nil
	}
	now := t.now()
	if !IsExpired(record, now) {
		return record, true, nil
	}

	t.mu.Lock()
	// Re-check: the entry may have been replaced since the read lock was released.
	if current, still := t.records[token]; still && IsExpired(current, now) {
		delete(t.records, token)
	}
	t.mu.Unlock()
	return Record{}, false, nil
}

// Delete removes token if present.
func (t *MemorySessionTable) Delete(_ context.Context, token string) error {
	t.mu.Lock()
	delete(t.records, token)
	t.mu.Unlock()
	return nil
}

// Replace swaps oldToken for newToken under a single write lock.
func (t *MemorySessionTable) Replace(_ context.Context, oldToken, newToken string, validity time.Duration, now time.Time) (Record, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	old, ok := t.records[oldToken]
	if !ok {
		return Record{}, false, nil
	}
	if IsExpired(old, now) {
		delete(t.records, oldToken)
		return Record{}, false, nil
	}
	if _, taken := t.records[newToken]; taken || newToken == oldToken {
		return Record{}, false, collision()
	}

	record, err := NewRecord(old.UserID, validity, now)
	if err != nil {
		return Record{}, false, err
	}
	delete(t.records, oldToken)
	t.records[newToken] = record
	return record, true, nil
}

// PurgeExpired removes every expired record.
func (t *MemorySessionTable) PurgeExpired(_ context.Context, now time.Time) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for token, record := range t.records {
		if IsExpired(record, now) {
			delete(t.records, token)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored records, including expired ones not yet
// looked up.
func (t *MemorySessionTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

func collision() error {
	return oops.Code(CodeTokenCollision).Wrap(ErrTokenCollision)
}
