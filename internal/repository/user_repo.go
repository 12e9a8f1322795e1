package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"go-photoshare/internal/model"
)

const userColumns = `id, username, email, password_hash, role, active, confirmed, banned,
		        refresh_fingerprint, avatar, created_at, updated_at`

// UserRepository is the postgres credential store.
type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (model.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row, "find user by id")
}

func (r *UserRepository) FindByUsername(ctx context.Context, username string) (model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(username) = lower($1)`, strings.TrimSpace(username))
	return scanUser(row, "find user by username")
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, strings.TrimSpace(email))
	return scanUser(row, "find user by email")
}

func (r *UserRepository) Create(ctx context.Context, u model.User) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, username, email, password_hash, role, active, confirmed, banned, avatar, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.Role.String(), u.Active, u.Confirmed, u.Banned,
		u.Avatar, u.CreatedAt, u.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("create user %s: %w", u.Username, model.ErrAlreadyExists)
	}
	if err != nil {
		return storeErr("create user", err)
	}
	return nil
}

func (r *UserRepository) UpdateRole(ctx context.Context, id string, role model.Role) error {
	return r.execOne(ctx, "update role",
		`UPDATE users SET role = $2, updated_at = $3 WHERE id = $1`, id, role.String(), time.Now().UTC())
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id string, passwordHash string) error {
	return r.execOne(ctx, "update password",
		`UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`, id, passwordHash, time.Now().UTC())
}

func (r *UserRepository) SetActive(ctx context.Context, id string, active bool) error {
	return r.execOne(ctx, "set active",
		`UPDATE users SET active = $2, updated_at = $3 WHERE id = $1`, id, active, time.Now().UTC())
}

func (r *UserRepository) SetConfirmed(ctx context.Context, id string, confirmed bool) error {
	return r.execOne(ctx, "set confirmed",
		`UPDATE users SET confirmed = $2, updated_at = $3 WHERE id = $1`, id, confirmed, time.Now().UTC())
}

// Ban sets the ban flag, deactivates and drops the refresh session in one statement.
func (r *UserRepository) Ban(ctx context.Context, id string) error {
	return r.execOne(ctx, "ban user",
		`UPDATE users SET banned = true, active = false, refresh_fingerprint = NULL, updated_at = $2 WHERE id = $1`,
		id, time.Now().UTC())
}

// Unban clears the ban flag and sets the active flag in one statement.
func (r *UserRepository) Unban(ctx context.Context, id string, active bool) error {
	return r.execOne(ctx, "unban user",
		`UPDATE users SET banned = false, active = $2, updated_at = $3 WHERE id = $1`,
		id, active, time.Now().UTC())
}

func (r *UserRepository) GetFingerprint(ctx context.Context, id string) (*string, error) {
	var fingerprint *string
	err := r.pool.QueryRow(ctx, `SELECT refresh_fingerprint FROM users WHERE id = $1`, id).Scan(&fingerprint)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrUserNotFound
	}
	if err != nil {
		return nil, storeErr("get fingerprint", err)
	}
	return fingerprint, nil
}

func (r *UserRepository) SetFingerprint(ctx context.Context, id string, digest *string) error {
	return r.execOne(ctx, "set fingerprint",
		`UPDATE users SET refresh_fingerprint = $2, updated_at = $3 WHERE id = $1`, id, digest, time.Now().UTC())
}

// SwapFingerprint is a single conditional UPDATE; concurrent callers presenting the same
// expected digest cannot both observe a row change.
func (r *UserRepository) SwapFingerprint(ctx context.Context, id string, expected string, next *string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET refresh_fingerprint = $3, updated_at = $4
		 WHERE id = $1 AND refresh_fingerprint = $2`,
		id, expected, next, time.Now().UTC())
	if err != nil {
		return false, storeErr("swap fingerprint", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *UserRepository) List(ctx context.Context, limit int, offset int) ([]model.User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY lower(username) LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, storeErr("list users", err)
	}
	defer rows.Close()

	users := make([]model.User, 0)
	for rows.Next() {
		u, err := scanUser(rows, "scan user")
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list users", err)
	}
	return users, nil
}

func (r *UserRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, storeErr("count users", err)
	}
	return count, nil
}

func (r *UserRepository) execOne(ctx context.Context, op string, sql string, args ...any) error {
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return storeErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, model.ErrUserNotFound)
	}
	return nil
}

func scanUser(row pgx.Row, op string) (model.User, error) {
	var (
		u      model.User
		role   string
		avatar *string
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &role, &u.Active, &u.Confirmed, &u.Banned,
		&u.RefreshFingerprint, &avatar, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, model.ErrUserNotFound
	}
	if err != nil {
		return model.User{}, storeErr(op, err)
	}

	parsed, err := model.ParseRole(role)
	if err != nil {
		return model.User{}, corruptRole(u.ID, role)
	}
	u.Role = parsed
	if avatar != nil {
		u.Avatar = *avatar
	}
	return u, nil
}
