// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sheetkeeper Contributors

package auth_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sheetkeeper/sheetkeeper/internal/auth"
	"github.com/sheetkeeper/sheetkeeper/internal/auth/memory"
	"github.com/sheetkeeper/sheetkeeper/internal/auth/mocks"
	"github.com/sheetkeeper/sheetkeeper/pkg/errutil"
)

func newCredentials(t *testing.T) (*auth.CredentialService, *memory.UserRepository) {
	t.Helper()
	users := memory.NewUserRepository()
	svc, err := auth.NewCredentialService(users, fastHasher(), auth.WithCredentialLogger(discardLogger()))
	require.NoError(t, err)
	return svc, users
}

func TestNewCredentialService_NilDependencies(t *testing.T) {
	_, err := auth.NewCredentialService(nil, fastHasher())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "users repository is required")

	_, err = auth.NewCredentialService(memory.NewUserRepository(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password hasher is required")
}

func TestCredentialService_RegisterUser(t *testing.T) {
	ctx := context.Background()

	t.Run("stores user with argon2id hash", func(t *testing.T) {
		svc, users := newCredentials(t)

		user, err := svc.RegisterUser(ctx, "alice", "Password1")
		require.NoError(t, err)
		assert.Equal(t, "alice", user.Username)
		assert.NotEqual(t, "Password1", user.PasswordHash)

		stored, err := users.GetByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, user.ID, stored.ID)
	})

	t.Run("rejects invalid username", func(t *testing.T) {
		svc, _ := newCredentials(t)
		_, err := svc.RegisterUser(ctx, "bad name", "Password1")
		assert.True(t, errors.Is(err, auth.ErrInvalidUsername))
	})

	t.Run("rejects weak password", func(t *testing.T) {
		svc, _ := newCredentials(t)
		_, err := svc.RegisterUser(ctx, "alice", "password")
		assert.True(t, errors.Is(err, auth.ErrWeakPassword))
	})

	t.Run("rejects duplicate username case-insensitively", func(t *testing.T) {
		svc, _ := newCredentials(t)
		_, err := svc.RegisterUser(ctx, "alice", "Password1")
		require.NoError(t, err)

		_, err = svc.RegisterUser(ctx, "ALICE", "Password2")
		require.Error(t, err)
		assert.True(t, errors.Is(err, auth.ErrDuplicateUser))
		errutil.AssertErrorCode(t, err, auth.CodeDuplicateUser)
	})

	t.Run("duplicate detected by Create after a racing signup", func(t *testing.T) {
		users := mocks.NewMockUserRepository(t)
		svc, err := auth.NewCredentialService(users, fastHasher())
		require.NoError(t, err)

		users.On("GetByUsername", mock.Anything, "alice").Return(nil, auth.ErrNotFound)
		users.On("Create", mock.Anything, mock.AnythingOfType("*auth.User")).Return(auth.ErrDuplicateUser)

		_, err = svc.RegisterUser(ctx, "alice", "Password1")
		assert.True(t, errors.Is(err, auth.ErrDuplicateUser))
	})

	t.Run("store failure is unavailable", func(t *testing.T) {
		users := mocks.NewMockUserRepository(t)
		svc, err := auth.NewCredentialService(users, fastHasher())
		require.NoError(t, err)

		users.On("GetByUsername", mock.Anything, "alice").Return(nil, errors.New("connection refused"))

		_, err = svc.RegisterUser(ctx, "alice", "Password1")
		require.Error(t, err)
		assert.True(t, errors.Is(err, auth.ErrStoreUnavailable))
		assert.False(t, auth.IsValidationFailure(err))
	})

	t.Run("create failure is unavailable", func(t *testing.T) {
		users := mocks.NewMockUserRepository(t)
		svc, err := auth.NewCredentialService(users, fastHasher())
		require.NoError(t, err)

		users.On("GetByUsername", mock.Anything, "alice").Return(nil, auth.ErrNotFound)
		users.On("Create", mock.Anything, mock.Anything).Return(context.DeadlineExceeded)

		_, err = svc.RegisterUser(ctx, "alice", "Password1")
		assert.True(t, errors.Is(err, auth.ErrStoreUnavailable))
	})
}

func TestCredentialService_VerifyCredentials(t *testing.T) {
	ctx := context.Background()

	t.Run("correct password returns user", func(t *testing.T) {
		svc, _ := newCredentials(t)
		registered, err := svc.RegisterUser(ctx, "alice", "Password1")
		require.NoError(t, err)

		user, err := svc.VerifyCredentials(ctx, "Alice", "Password1")
		require.NoError(t, err)
		assert.Equal(t, registered.ID, user.ID)
	})

	t.Run("wrong password is IncorrectPassword", func(t *testing.T) {
		svc, _ := newCredentials(t)
		_, err := svc.RegisterUser(ctx, "alice", "Password1")
		require.NoError(t, err)

		_, err = svc.VerifyCredentials(ctx, "alice", "Password2")
		require.Error(t, err)
		assert.True(t, errors.Is(err, auth.ErrIncorrectPassword))
		errutil.AssertErrorCode(t, err, auth.CodeIncorrectPass)
	})

	t.Run("unknown user is UserNotFound after a dummy verification", func(t *testing.T) {
		users := mocks.NewMockUserRepository(t)
		hasher := mocks.NewMockPasswordHasher(t)
		svc, err := auth.NewCredentialService(users, hasher)
		require.NoError(t, err)

		users.On("GetByUsername", mock.Anything, "ghost").Return(nil, auth.ErrNotFound)
		hasher.On("Hash", mock.AnythingOfType("string")).Return("$argon2id$dummy", nil).Once()
		hasher.On("Verify", "Password1", "$argon2id$dummy").Return(false, nil)

		_, err = svc.VerifyCredentials(ctx, "ghost", "Password1")
		require.Error(t, err)
		assert.True(t, errors.Is(err, auth.ErrUserNotFound))
		errutil.AssertErrorCode(t, err, auth.CodeUserNotFound)
	})

	t.Run("unreadable stored hash is IncorrectPassword", func(t *testing.T) {
		svc, users := newCredentials(t)
		user, err := auth.NewUser("alice", "garbage")
		require.NoError(t, err)
		require.NoError(t, users.Create(ctx, user))

		_, err = svc.VerifyCredentials(ctx, "alice", "Password1")
		assert.True(t, errors.Is(err, auth.ErrIncorrectPassword))
	})

	t.Run("lookup failure is unavailable, not a credential failure", func(t *testing.T) {
		users := mocks.NewMockUserRepository(t)
		svc, err := auth.NewCredentialService(users, fastHasher())
		require.NoError(t, err)

		users.On("GetByUsername", mock.Anything, "alice").Return(nil, errors.New("connection reset"))

		_, err = svc.VerifyCredentials(ctx, "alice", "Password1")
		require.Error(t, err)
		assert.True(t, errors.Is(err, auth.ErrStoreUnavailable))
		assert.False(t, auth.IsCredentialFailure(err))
	})

	t.Run("legacy bcrypt hash is upgraded on login", func(t *testing.T) {
		svc, users := newCredentials(t)
		legacy, err := bcrypt.GenerateFromPassword([]byte("Password1"), bcrypt.MinCost)
		require.NoError(t, err)
		user, err := auth.NewUser("alice", string(legacy))
		require.NoError(t, err)
		require.NoError(t, users.Create(ctx, user))

		_, err = svc.VerifyCredentials(ctx, "alice", "Password1")
		require.NoError(t, err)

		stored, err := users.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Contains(t, stored.PasswordHash, "$argon2id$")

		_, err = svc.VerifyCredentials(ctx, "alice", "Password1")
		require.NoError(t, err)
	})

	t.Run("failed upgrade does not fail login", func(t *testing.T) {
		users := mocks.NewMockUserRepository(t)
		svc, err := auth.NewCredentialService(users, fastHasher(), auth.WithCredentialLogger(discardLogger()))
		require.NoError(t, err)

		legacy, err := bcrypt.GenerateFromPassword([]byte("Password1"), bcrypt.MinCost)
		require.NoError(t, err)
		user, err := auth.NewUser("alice", string(legacy))
		require.NoError(t, err)

		users.On("GetByUsername", mock.Anything, "alice").Return(user, nil)
		users.On("UpdatePasswordHash", mock.Anything, user.ID, mock.AnythingOfType("string")).
			Return(errors.New("read-only replica"))

		got, err := svc.VerifyCredentials(ctx, "alice", "Password1")
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
	})
}
