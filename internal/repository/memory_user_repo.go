package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go-photoshare/internal/model"
)

// MemoryUserRepository keeps users in process memory. It backs STORE_DRIVER=memory and the
// service tests; every method holds the lock for its whole read-modify-write.
type MemoryUserRepository struct {
	mu         sync.RWMutex
	byID       map[string]model.User
	byUsername map[string]string
	byEmail    map[string]string
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		byID:       map[string]model.User{},
		byUsername: map[string]string{},
		byEmail:    map[string]string{},
	}
}

func (r *MemoryUserRepository) FindByID(_ context.Context, id string) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[id]
	if !ok {
		return model.User{}, model.ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (r *MemoryUserRepository) FindByUsername(ctx context.Context, username string) (model.User, error) {
	r.mu.RLock()
	id, ok := r.byUsername[normalizeKey(username)]
	r.mu.RUnlock()
	if !ok {
		return model.User{}, model.ErrUserNotFound
	}
	return r.FindByID(ctx, id)
}

func (r *MemoryUserRepository) FindByEmail(ctx context.Context, email string) (model.User, error) {
	r.mu.RLock()
	id, ok := r.byEmail[normalizeKey(email)]
	r.mu.RUnlock()
	if !ok {
		return model.User{}, model.ErrUserNotFound
	}
	return r.FindByID(ctx, id)
}

func (r *MemoryUserRepository) Create(_ context.Context, u model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[u.ID]; exists {
		return fmt.Errorf("create user %s: %w", u.ID, model.ErrAlreadyExists)
	}
	if _, exists := r.byUsername[normalizeKey(u.Username)]; exists {
		return fmt.Errorf("create user %s: %w", u.Username, model.ErrAlreadyExists)
	}
	if _, exists := r.byEmail[normalizeKey(u.Email)]; exists {
		return fmt.Errorf("create user %s: %w", u.Email, model.ErrAlreadyExists)
	}

	r.byID[u.ID] = cloneUser(u)
	r.byUsername[normalizeKey(u.Username)] = u.ID
	r.byEmail[normalizeKey(u.Email)] = u.ID
	return nil
}

func (r *MemoryUserRepository) UpdateRole(_ context.Context, id string, role model.Role) error {
	return r.mutate(id, func(u *model.User) { u.Role = role })
}

func (r *MemoryUserRepository) UpdatePassword(_ context.Context, id string, passwordHash string) error {
	return r.mutate(id, func(u *model.User) { u.PasswordHash = passwordHash })
}

func (r *MemoryUserRepository) SetActive(_ context.Context, id string, active bool) error {
	return r.mutate(id, func(u *model.User) { u.Active = active })
}

func (r *MemoryUserRepository) SetConfirmed(_ context.Context, id string, confirmed bool) error {
	return r.mutate(id, func(u *model.User) { u.Confirmed = confirmed })
}

func (r *MemoryUserRepository) Ban(_ context.Context, id string) error {
	return r.mutate(id, func(u *model.User) {
		u.Banned = true
		u.Active = false
		u.RefreshFingerprint = nil
	})
}

func (r *MemoryUserRepository) Unban(_ context.Context, id string, active bool) error {
	return r.mutate(id, func(u *model.User) {
		u.Banned = false
		u.Active = active
	})
}

func (r *MemoryUserRepository) GetFingerprint(_ context.Context, id string) (*string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	return cloneString(u.RefreshFingerprint), nil
}

func (r *MemoryUserRepository) SetFingerprint(_ context.Context, id string, digest *string) error {
	return r.mutate(id, func(u *model.User) { u.RefreshFingerprint = cloneString(digest) })
}

func (r *MemoryUserRepository) SwapFingerprint(_ context.Context, id string, expected string, next *string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok || u.RefreshFingerprint == nil || *u.RefreshFingerprint != expected {
		return false, nil
	}
	u.RefreshFingerprint = cloneString(next)
	u.UpdatedAt = time.Now().UTC()
	r.byID[id] = u
	return true, nil
}

func (r *MemoryUserRepository) List(_ context.Context, limit int, offset int) ([]model.User, error) {
	r.mu.RLock()
	users := make([]model.User, 0, len(r.byID))
	for _, u := range r.byID {
		users = append(users, cloneUser(u))
	}
	r.mu.RUnlock()

	sortUsers(users)
	return page(users, limit, offset), nil
}

func (r *MemoryUserRepository) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID), nil
}

func (r *MemoryUserRepository) mutate(id string, apply func(u *model.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return model.ErrUserNotFound
	}
	apply(&u)
	u.UpdatedAt = time.Now().UTC()
	r.byID[id] = u
	return nil
}

func normalizeKey(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneUser(u model.User) model.User {
	u.RefreshFingerprint = cloneString(u.RefreshFingerprint)
	return u
}

func sortUsers(users []model.User) {
	sort.SliceStable(users, func(i, j int) bool {
		return strings.ToLower(users[i].Username) < strings.ToLower(users[j].Username)
	})
}

func page(users []model.User, limit int, offset int) []model.User {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(users) {
		return []model.User{}
	}
	users = users[offset:]
	if limit > 0 && limit < len(users) {
		users = users[:limit]
	}
	return users
}
