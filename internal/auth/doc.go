// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sheetkeeper Contributors

// Package auth provides the credential and session primitives for Sheetkeeper.
//
// # Domain Types
//
//   - User - an account with a unique (case-insensitive) username and a password hash
//   - Record - the server-side half of a session: owner and absolute expiry
//   - Ticket - what a caller receives when a session is issued: token, owner, expiry
//
// Users should be created with NewUser; direct struct initialization bypasses
// validation. Records are owned by a SessionTable and are replaced, never mutated.
//
// # Services
//
//   - CredentialService - signup and password verification over a UserRepository
//   - SessionService - session issue, validation, rotation and invalidation over a SessionTable
//
// Failures are reported as oops errors wrapping one of the package sentinels
// (ErrInvalidUsername, ErrStoreUnavailable, ...) so callers can branch with errors.Is.
package auth
