// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sheetkeeper Contributors

// Package mocks provides testify mocks for the auth interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/sheetkeeper/sheetkeeper/internal/auth"
)

// MockUserRepository is a mock auth.UserRepository.
type MockUserRepository struct {
	mock.Mock
}

var _ auth.UserRepository = (*MockUserRepository)(nil)

// NewMockUserRepository creates a mock whose expectations are asserted on cleanup.
func NewMockUserRepository(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockUserRepository {
	m := &MockUserRepository{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockUserRepository) Create(ctx context.Context, user *auth.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	args := m.Called(ctx, id)
	user, _ := args.Get(0).(*auth.User)
	return user, args.Error(1)
}

func (m *MockUserRepository) GetByUsername(ctx context.Context, username string) (*auth.User, error) {
	args := m.Called(ctx, username)
	user, _ := args.Get(0).(*auth.User)
	return user, args.Error(1)
}

func (m *MockUserRepository) UpdatePasswordHash(ctx context.Context, id ulid.ULID, passwordHash string) error {
	args := m.Called(ctx, id, passwordHash)
	return args.Error(0)
}

// MockPasswordHasher is a mock auth.PasswordHasher.
type MockPasswordHasher struct {
	mock.Mock
}

var _ auth.PasswordHasher = (*MockPasswordHasher)(nil)

// NewMockPasswordHasher creates a mock whose expectations are asserted on cleanup.
func NewMockPasswordHasher(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockPasswordHasher {
	m := &MockPasswordHasher{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockPasswordHasher) Hash(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

func (m *MockPasswordHasher) Verify(password, hash string) (bool, error) {
	args := m.Called(password, hash)
	return args.Bool(0), args.Error(1)
}

func (m *MockPasswordHasher) NeedsUpgrade(hash string) bool {
	args := m.Called(hash)
	return args.Bool(0)
}

// MockSessionTable is a mock auth.SessionTable.
type MockSessionTable struct {
	mock.Mock
}

var _ auth.SessionTable = (*MockSessionTable)(nil)

// NewMockSessionTable creates a mock whose expectations are asserted on cleanup.
func NewMockSessionTable(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockSessionTable {
	m := &MockSessionTable{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockSessionTable) NewToken() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

func (m *MockSessionTable) Put(ctx context.Context, token string, record auth.Record) error {
	args := m.Called(ctx, token, record)
	return args.Error(0)
}

func (m *MockSessionTable) Get(ctx context.Context, token string) (auth.Record, bool, error) {
	args := m.Called(ctx, token)
	record, _ := args.Get(0).(auth.Record)
	return record, args.Bool(1), args.Error(2)
}

func (m *MockSessionTable) Delete(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockSessionTable) Replace(ctx context.Context, oldToken, newToken string, validity time.Duration, now time.Time) (auth.Record, bool, error) {
	args := m.Called(ctx, oldToken, newToken, validity, now)
	record, _ := args.Get(0).(auth.Record)
	return record, args.Bool(1), args.Error(2)
}

func (m *MockSessionTable) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}
