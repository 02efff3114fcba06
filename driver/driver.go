// Package driver defines the database client collaborator used by
// pgmanager. Implementations wrap a concrete PostgreSQL client library;
// pgmanager ships one for pgx and one for lib/pq.
//
// The shape mirrors a classic connection/cursor client: a Conn owns the
// transaction, a Cursor executes statements inside it and buffers the
// result of the last one until FetchAll.
package driver

import (
	"context"
	"errors"
)

// ErrNoResults is returned by Cursor.FetchAll when the last statement
// produced no result set.
var ErrNoResults = errors.New("no results to fetch")

// Driver opens raw connections.
type Driver interface {
	// Name identifies the driver in logs.
	Name() string
	Open(ctx context.Context, connString string) (Conn, error)
}

// TransientClassifier is optionally implemented by a Driver that can tell
// permanent Open failures (bad credentials, unknown database) from
// transient ones. It is consulted only when the caller opts in to
// stopping on permanent failures; otherwise every failure is retried.
type TransientClassifier interface {
	IsTransient(err error) bool
}

// Conn is a single live database connection.
type Conn interface {
	Cursor(ctx context.Context) (Cursor, error)
	// Commit commits the pending transaction. Committing with no pending
	// work succeeds.
	Commit(ctx context.Context) error
	// Rollback discards the pending transaction, if any.
	Rollback(ctx context.Context) error
	// Close discards pending work and closes the connection.
	Close(ctx context.Context) error
}

// Cursor executes statements on its Conn.
type Cursor interface {
	// Execute runs sql and returns the number of rows affected, or -1 when
	// the driver cannot tell.
	Execute(ctx context.Context, sql string) (int64, error)
	// FetchAll returns the columns and rows produced by the last Execute,
	// in the order the server returned them.
	FetchAll(ctx context.Context) ([]string, [][]interface{}, error)
	Close(ctx context.Context) error
}

// CommandExecutor is optionally implemented by a Cursor whose Execute
// cannot report rows affected for commands. ExecuteCommand runs sql
// without buffering a result set and returns the server's count.
type CommandExecutor interface {
	ExecuteCommand(ctx context.Context, sql string) (int64, error)
}

// SQLState returns the SQLSTATE code carried anywhere in err's chain, or ""
// when err did not come from the server.
func SQLState(err error) string {
	var s interface{ SQLState() string }
	if errors.As(err, &s) {
		return s.SQLState()
	}
	return ""
}
