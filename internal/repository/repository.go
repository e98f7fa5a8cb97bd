// Package repository implements PostgreSQL persistence for control-plane
// state with hand-written SQL over pgx. JSONB columns encode and decode
// through pgx's JSON codec, so repositories pass Go values straight through.
package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolationCode = "23505"

// isUniqueViolation reports whether err is a PostgreSQL unique violation.
// An empty constraint matches any unique index.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if pgErr.Code != uniqueViolationCode {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
