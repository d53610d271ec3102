// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sheetkeeper Contributors

package auth_test

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/sheetkeeper/sheetkeeper/internal/auth"
)

// fastHasher keeps argon2id cheap enough for table tests.
func fastHasher() *auth.Argon2idHasher {
	return auth.NewArgon2idHasher(auth.Argon2Params{Time: 1, MemoryKiB: 64, Threads: 1})
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock is a settable clock shared by tables and services under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// sequence returns a token generator that yields tokens in order and then
// falls back to random tokens.
func sequence(tokens ...string) auth.TokenGenerator {
	var mu sync.Mutex
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(tokens) == 0 {
			return auth.GenerateSessionToken()
		}
		next := tokens[0]
		tokens = tokens[1:]
		return next, nil
	}
}
