package pgxdriver

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	// UndefinedTableCode indicates the statement referenced a missing relation.
	UndefinedTableCode = "42P01"
	// DuplicateTableCode indicates CREATE TABLE on an existing relation.
	DuplicateTableCode = "42P07"
	// UniqueViolationCode indicates a unique constraint violation.
	UniqueViolationCode = "23505"
	// InFailedTransactionCode indicates a statement sent after an earlier
	// failure in the same transaction.
	InFailedTransactionCode = "25P02"
)

// AsPgError extracts the server error from err's chain.
func AsPgError(err error) (*pgconn.PgError, bool) {
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsTransient reports whether a failed Open is worth retrying. Server-side
// rejections (bad password, unknown database) are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	pe, ok := AsPgError(err)
	if !ok || len(pe.Code) < 2 {
		return true
	}
	switch pe.Code[:2] {
	case "28", "3D":
		return false
	}
	return true
}
