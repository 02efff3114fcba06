package pgmanager

import (
	"errors"
	"fmt"

	"github.com/rickchristie/postgres-manager/internal/protection"
)

var (
	// ErrNotConnected is wrapped by errors for operations that need a
	// session when none is open.
	ErrNotConnected = errors.New("not connected")

	// ErrMissingConnectionInfo is returned by Connect when no database
	// name is configured.
	ErrMissingConnectionInfo = errors.New("missing connection information")
)

// ValidationReason identifies why the gate rejected a statement.
type ValidationReason = protection.Reason

const (
	ReasonNotAString          = protection.ReasonNotAString
	ReasonUnknownCategory     = protection.ReasonUnknownCategory
	ReasonCategoryNotAllowed  = protection.ReasonCategoryNotAllowed
	ReasonMixedStatementTypes = protection.ReasonMixedStatementTypes
	ReasonMissingKeyword      = protection.ReasonMissingKeyword
)

// ConnectionError is returned when no session could be established.
type ConnectionError struct {
	Database string
	Attempts int
	Err      error // last underlying failure
}

func (e *ConnectionError) Error() string {
	if e.Attempts == 0 {
		return fmt.Sprintf("failed to connect with database (%s): %v", e.Database, e.Err)
	}
	return fmt.Sprintf("failed to connect with database (%s) after %d attempt(s): %v", e.Database, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ValidationError is returned when a statement is rejected before it
// reaches the database. Keyword names the offending or missing keyword for
// keyword-based reasons.
type ValidationError struct {
	Category  Category
	Reason    ValidationReason
	Keyword   string
	violation error
}

func (e *ValidationError) Error() string { return e.violation.Error() }

// ExecutionError is returned when executing or fetching a validated
// statement fails, including when no session is open.
type ExecutionError struct {
	Database string
	Category Category
	Err      error
}

func (e *ExecutionError) Error() string {
	if errors.Is(e.Err, ErrNotConnected) {
		return fmt.Sprintf("connection to database (%s) needs to be established before %s statement", e.Database, e.Category)
	}
	return fmt.Sprintf("error with %s statement: %v", e.Category, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// CommitError is returned when committing (or, with Rollback set, rolling
// back) the pending transaction fails.
type CommitError struct {
	Database string
	Rollback bool
	Err      error
}

func (e *CommitError) Error() string {
	op := "commit"
	if e.Rollback {
		op = "rollback"
	}
	if errors.Is(e.Err, ErrNotConnected) {
		return fmt.Sprintf("%s failed: no session with database (%s)", op, e.Database)
	}
	return fmt.Sprintf("%s to database (%s) failed: %v", op, e.Database, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// newValidationError maps a protection violation to the public type.
func newValidationError(err error) error {
	var v *protection.Violation
	if !errors.As(err, &v) {
		return err
	}
	return &ValidationError{
		Category:  Category(v.Category),
		Reason:    v.Reason,
		Keyword:   v.Keyword,
		violation: v,
	}
}
