package service

import (
	"context"

	"go-photoshare/internal/model"
)

// UserStore is the credential store the auth services run against. SwapFingerprint must be
// an atomic compare-and-set.
type UserStore interface {
	FindByID(ctx context.Context, id string) (model.User, error)
	FindByUsername(ctx context.Context, username string) (model.User, error)
	FindByEmail(ctx context.Context, email string) (model.User, error)
	Create(ctx context.Context, u model.User) error
	UpdateRole(ctx context.Context, id string, role model.Role) error
	UpdatePassword(ctx context.Context, id string, passwordHash string) error
	SetActive(ctx context.Context, id string, active bool) error
	SetConfirmed(ctx context.Context, id string, confirmed bool) error
	Ban(ctx context.Context, id string) error
	Unban(ctx context.Context, id string, active bool) error
	GetFingerprint(ctx context.Context, id string) (*string, error)
	SetFingerprint(ctx context.Context, id string, digest *string) error
	SwapFingerprint(ctx context.Context, id string, expected string, next *string) (bool, error)
	List(ctx context.Context, limit int, offset int) ([]model.User, error)
	Count(ctx context.Context) (int, error)
}
