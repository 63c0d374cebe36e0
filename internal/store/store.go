// Package store holds the failure classes shared by every persistence
// backend. Handlers map them to response kinds.
package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrBootstrap means the schema is missing; the fix is running the
	// migrations, not retrying.
	ErrBootstrap = errors.New("store: schema not initialised")
	// ErrConstraint means the write violated a database constraint.
	ErrConstraint = errors.New("store: constraint violated")
)

// SQLSTATE codes the store layer classifies.
const (
	CodeUndefinedTable  = "42P01"
	CodeCheckViolation  = "23514"
	CodeNotNull         = "23502"
	CodeUniqueViolation = "23505"
	CodeForeignKey      = "23503"
)

// PgError extracts the PostgreSQL error from err.
func PgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// Classify wraps PostgreSQL failures in ErrBootstrap or ErrConstraint and
// returns every other error unchanged.
func Classify(err error) error {
	pgErr, ok := PgError(err)
	if !ok {
		return err
	}
	switch pgErr.Code {
	case CodeUndefinedTable:
		return fmt.Errorf("%w: %s (run cmd/migrate up)", ErrBootstrap, pgErr.Message)
	case CodeCheckViolation, CodeNotNull, CodeUniqueViolation, CodeForeignKey:
		return fmt.Errorf("%w: %s: %w", ErrConstraint, constraintName(pgErr), err)
	}
	return err
}

func constraintName(pgErr *pgconn.PgError) string {
	if pgErr.ConstraintName != "" {
		return pgErr.ConstraintName
	}
	if pgErr.ColumnName != "" {
		return pgErr.ColumnName
	}
	return pgErr.Code
}
