package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"go-photoshare/internal/model"
)

var (
	bucketUsers      = []byte("users")
	bucketByUsername = []byte("users_by_username")
	bucketByEmail    = []byte("users_by_email")
)

// BoltUserRepository stores users in a single bbolt file. bbolt serializes write
// transactions, so each mutation (including SwapFingerprint) is atomic.
type BoltUserRepository struct {
	db *bolt.DB
}

func OpenBoltUserRepository(path string) (*BoltUserRepository, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketUsers, bucketByUsername, bucketByEmail} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltUserRepository{db: db}, nil
}

func (r *BoltUserRepository) Close() error {
	return r.db.Close()
}

func (r *BoltUserRepository) FindByID(_ context.Context, id string) (model.User, error) {
	var u model.User
	err := r.db.View(func(tx *bolt.Tx) error {
		var err error
		u, err = getBoltUser(tx, id)
		return err
	})
	return u, r.wrap("find user by id", err)
}

func (r *BoltUserRepository) FindByUsername(_ context.Context, username string) (model.User, error) {
	return r.findByIndex(bucketByUsername, username, "find user by username")
}

func (r *BoltUserRepository) FindByEmail(_ context.Context, email string) (model.User, error) {
	return r.findByIndex(bucketByEmail, email, "find user by email")
}

func (r *BoltUserRepository) Create(_ context.Context, u model.User) error {
	err := r.db.Update(func(tx *bolt.Tx) error {
		users := tx.Bucket(bucketUsers)
		byUsername := tx.Bucket(bucketByUsername)
		byEmail := tx.Bucket(bucketByEmail)

		usernameKey := []byte(normalizeKey(u.Username))
		emailKey := []byte(normalizeKey(u.Email))
		if users.Get([]byte(u.ID)) != nil || byUsername.Get(usernameKey) != nil || byEmail.Get(emailKey) != nil {
			return fmt.Errorf("create user %s: %w", u.Username, model.ErrAlreadyExists)
		}

		if err := putBoltUser(tx, u); err != nil {
			return err
		}
		if err := byUsername.Put(usernameKey, []byte(u.ID)); err != nil {
			return err
		}
		return byEmail.Put(emailKey, []byte(u.ID))
	})
	return r.wrap("create user", err)
}

func (r *BoltUserRepository) UpdateRole(_ context.Context, id string, role model.Role) error {
	return r.mutate(id, "update role", func(u *model.User) bool { u.Role = role; return true })
}

func (r *BoltUserRepository) UpdatePassword(_ context.Context, id string, passwordHash string) error {
	return r.mutate(id, "update password", func(u *model.User) bool { u.PasswordHash = passwordHash; return true })
}

func (r *BoltUserRepository) SetActive(_ context.Context, id string, active bool) error {
	return r.mutate(id, "set active", func(u *model.User) bool { u.Active = active; return true })
}

func (r *BoltUserRepository) SetConfirmed(_ context.Context, id string, confirmed bool) error {
	return r.mutate(id, "set confirmed", func(u *model.User) bool { u.Confirmed = confirmed; return true })
}

func (r *BoltUserRepository) Ban(_ context.Context, id string) error {
	return r.mutate(id, "ban user", func(u *model.User) bool {
		u.Banned = true
		u.Active = false
		u.RefreshFingerprint = nil
		return true
	})
}

func (r *BoltUserRepository) Unban(_ context.Context, id string, active bool) error {
	return r.mutate(id, "unban user", func(u *model.User) bool {
		u.Banned = false
		u.Active = active
		return true
	})
}

func (r *BoltUserRepository) GetFingerprint(ctx context.Context, id string) (*string, error) {
	u, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return u.RefreshFingerprint, nil
}

func (r *BoltUserRepository) SetFingerprint(_ context.Context, id string, digest *string) error {
	return r.mutate(id, "set fingerprint", func(u *model.User) bool {
		u.RefreshFingerprint = cloneString(digest)
		return true
	})
}

func (r *BoltUserRepository) SwapFingerprint(_ context.Context, id string, expected string, next *string) (bool, error) {
	swapped := false
	err := r.mutate(id, "swap fingerprint", func(u *model.User) bool {
		if u.RefreshFingerprint == nil || *u.RefreshFingerprint != expected {
			return false
		}
		u.RefreshFingerprint = cloneString(next)
		swapped = true
		return true
	})
	if errors.Is(err, model.ErrUserNotFound) {
		return false, nil
	}
	return swapped, err
}

func (r *BoltUserRepository) List(_ context.Context, limit int, offset int) ([]model.User, error) {
	users := make([]model.User, 0)
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(_ []byte, raw []byte) error {
			var u model.User
			if err := json.Unmarshal(raw, &u); err != nil {
				return fmt.Errorf("%w: decode user: %v", model.ErrCredentialCorrupt, err)
			}
			users = append(users, u)
			return nil
		})
	})
	if err != nil {
		return nil, r.wrap("list users", err)
	}

	sortUsers(users)
	return page(users, limit, offset), nil
}

func (r *BoltUserRepository) Count(_ context.Context) (int, error) {
	var count int
	err := r.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketUsers).Stats().KeyN
		return nil
	})
	return count, r.wrap("count users", err)
}

func (r *BoltUserRepository) findByIndex(bucket []byte, key string, op string) (model.User, error) {
	var u model.User
	err := r.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucket).Get([]byte(normalizeKey(key)))
		if id == nil {
			return model.ErrUserNotFound
		}
		var err error
		u, err = getBoltUser(tx, string(id))
		return err
	})
	return u, r.wrap(op, err)
}

// mutate loads, applies and writes back one user inside a single write transaction.
// apply returns false to leave the record untouched.
func (r *BoltUserRepository) mutate(id string, op string, apply func(u *model.User) bool) error {
	err := r.db.Update(func(tx *bolt.Tx) error {
		u, err := getBoltUser(tx, id)
		if err != nil {
			return err
		}
		if !apply(&u) {
			return nil
		}
		u.UpdatedAt = time.Now().UTC()
		return putBoltUser(tx, u)
	})
	return r.wrap(op, err)
}

// wrap passes domain errors through and marks everything else as a store failure.
func (r *BoltUserRepository) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, domain := range []error{model.ErrUserNotFound, model.ErrAlreadyExists, model.ErrCredentialCorrupt} {
		if errors.Is(err, domain) {
			return err
		}
	}
	return storeErr(op, err)
}

func getBoltUser(tx *bolt.Tx, id string) (model.User, error) {
	raw := tx.Bucket(bucketUsers).Get([]byte(id))
	if raw == nil {
		return model.User{}, model.ErrUserNotFound
	}
	var u model.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return model.User{}, fmt.Errorf("%w: decode user %s: %v", model.ErrCredentialCorrupt, id, err)
	}
	return u, nil
}

func putBoltUser(tx *bolt.Tx, u model.User) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode user %s: %w", u.ID, err)
	}
	return tx.Bucket(bucketUsers).Put([]byte(u.ID), raw)
}
