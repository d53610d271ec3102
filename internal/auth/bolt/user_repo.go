// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sheetkeeper Contributors

// Package bolt provides a BBolt-backed auth.UserRepository for single-node
// deployments without PostgreSQL.
package bolt

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.etcd.io/bbolt"

	"github.com/sheetkeeper/sheetkeeper/internal/auth"
)

var (
	usersBucket   = []byte("users")    // normalized username -> userRecord
	userIDsBucket = []byte("user_ids") // ULID string -> normalized username
)

type userRecord struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserRepository implements auth.UserRepository on a BBolt database.
type UserRepository struct {
	db *bbolt.DB
}

var _ auth.UserRepository = (*UserRepository)(nil)

// Open opens (or creates) the database at path and ensures the buckets exist.
// timeout bounds how long Open waits for the file lock.
func Open(path string, timeout time.Duration) (*UserRepository, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, oops.Code("BOLT_OPEN_FAILED").With("path", path).Wrap(err)
	}
	repo, err := NewUserRepository(db)
	if err != nil {
		_ = db.Close() //nolint:errcheck // init error takes precedence
		return nil, err
	}
	return repo, nil
}

// NewUserRepository wraps an open database.
func NewUserRepository(db *bbolt.DB) (*UserRepository, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(usersBucket); err != nil {
			return err //nolint:wrapcheck // wrapped below
		}
		_, err := tx.CreateBucketIfNotExists(userIDsBucket)
		return err //nolint:wrapcheck // wrapped below
	})
	if err != nil {
		return nil, oops.Code("BOLT_INIT_FAILED").With("operation", "create buckets").Wrap(err)
	}
	return &UserRepository{db: db}, nil
}

// Close closes the underlying database.
func (r *UserRepository) Close() error {
	if err := r.db.Close(); err != nil {
		return oops.Code("BOLT_CLOSE_FAILED").Wrap(err)
	}
	return nil
}

// Create stores a new user.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("USER_CREATE_FAILED").Wrap(err)
	}
	key := []byte(auth.NormalizeUsername(user.Username))
	data, err := json.Marshal(userRecord{
		ID:           user.ID.String(),
		Username:     user.Username,
		PasswordHash: user.PasswordHash,
		CreatedAt:    user.CreatedAt,
	})
	if err != nil {
		return oops.Code("USER_CREATE_FAILED").With("operation", "marshal user").Wrap(err)
	}

	err = r.db.Update(func(tx *bbolt.Tx) error {
		users := tx.Bucket(usersBucket)
		if users.Get(key) != nil {
			return auth.ErrDuplicateUser
		}
		if err := users.Put(key, data); err != nil {
			return err //nolint:wrapcheck // wrapped below
		}
		return tx.Bucket(userIDsBucket).Put([]byte(user.ID.String()), key) //nolint:wrapcheck // wrapped below
	})
	if err != nil {
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("username", user.Username).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Code("USER_GET_BY_ID_FAILED").Wrap(err)
	}
	var user *auth.User
	err := r.db.View(func(tx *bbolt.Tx) error {
		key := tx.Bucket(userIDsBucket).Get([]byte(id.String()))
		if key == nil {
			return auth.ErrNotFound
		}
		var err error
		user, err = decodeUser(tx.Bucket(usersBucket).Get(key))
		return err
	})
	if errors.Is(err, auth.ErrNotFound) {
		return nil, oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(err)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_ID_FAILED").With("id", id.String()).Wrap(err)
	}
	return user, nil
}

// GetByUsername retrieves a user by username (case-insensitive).
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*auth.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Code("USER_GET_BY_USERNAME_FAILED").Wrap(err)
	}
	var user *auth.User
	err := r.db.View(func(tx *bbolt.Tx) error {
		var err error
		user, err = decodeUser(tx.Bucket(usersBucket).Get([]byte(auth.NormalizeUsername(username))))
		return err
	})
	if errors.Is(err, auth.ErrNotFound) {
		return nil, oops.Code("USER_NOT_FOUND").With("username", username).Wrap(err)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_BY_USERNAME_FAILED").With("username", username).Wrap(err)
	}
	return user, nil
}

// UpdatePasswordHash replaces the stored hash.
func (r *UserRepository) UpdatePasswordHash(ctx context.Context, id ulid.ULID, passwordHash string) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("USER_UPDATE_PASSWORD_FAILED").Wrap(err)
	}
	err := r.db.Update(func(tx *bbolt.Tx) error {
		key := tx.Bucket(userIDsBucket).Get([]byte(id.String()))
		if key == nil {
			return auth.ErrNotFound
		}
		users := tx.Bucket(usersBucket)
		var rec userRecord
		if err := json.Unmarshal(users.Get(key), &rec); err != nil {
			return err //nolint:wrapcheck // wrapped below
		}
		rec.PasswordHash = passwordHash
		data, err := json.Marshal(rec)
		if err != nil {
			return err //nolint:wrapcheck // wrapped below
		}
		return users.Put(key, data) //nolint:wrapcheck // wrapped below
	})
	if err != nil {
		return oops.Code("USER_UPDATE_PASSWORD_FAILED").With("id", id.String()).Wrap(err)
	}
	return nil
}

func decodeUser(data []byte) (*auth.User, error) {
	if data == nil {
		return nil, auth.ErrNotFound
	}
	var rec userRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, oops.With("operation", "unmarshal user").Wrap(err)
	}
	id, err := ulid.Parse(rec.ID)
	if err != nil {
		return nil, oops.With("operation", "parse user id").With("id", rec.ID).Wrap(err)
	}
	return &auth.User{
		ID:           id,
		Username:     rec.Username,
		PasswordHash: rec.PasswordHash,
		CreatedAt:    rec.CreatedAt,
	}, nil
}
