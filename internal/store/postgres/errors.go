package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/aliuyar1234/bizdesk/internal/store"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// mapPostgresError maps driver errors to store sentinels. Anything that is not a
// recognized data condition is reported as store.ErrUnavailable.
func mapPostgresError(err error) error {
	if err == nil {
		return nil
	}
	if isStoreError(err) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return store.Unavailable(err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return store.Unavailable(err)
	}

	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return fmt.Errorf("%w: %s", store.ErrDuplicate, pgErr.ConstraintName)

	case pgerrcode.ForeignKeyViolation:
		// The referenced row does not exist.
		return fmt.Errorf("%w: %s", store.ErrNotFound, pgErr.Detail)

	case pgerrcode.InsufficientPrivilege, pgerrcode.WithCheckOptionViolation:
		// "new row violates row-level security policy"
		return fmt.Errorf("%w: %s", store.ErrPolicyDenied, pgErr.Message)

	case pgerrcode.CheckViolation:
		return fmt.Errorf("check constraint violation: %s: %w", pgErr.ConstraintName, err)

	default:
		return store.Unavailable(fmt.Errorf("postgres error [%s]: %s (detail: %s, hint: %s): %w",
			pgErr.Code, pgErr.Message, pgErr.Detail, pgErr.Hint, err))
	}
}

func isStoreError(err error) bool {
	for _, sentinel := range []error{
		store.ErrNotFound,
		store.ErrDuplicate,
		store.ErrPolicyDenied,
		store.ErrUnavailable,
		store.ErrInviteClaimed,
		store.ErrNotPending,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
