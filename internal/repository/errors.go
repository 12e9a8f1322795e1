package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"go-photoshare/internal/model"
)

const uniqueViolation = "23505"

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, model.ErrStoreUnavailable, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func corruptRole(userID string, raw string) error {
	return fmt.Errorf("%w: user %s has unknown role %q", model.ErrCredentialCorrupt, userID, raw)
}
