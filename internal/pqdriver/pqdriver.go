// Package pqdriver implements driver.Driver on database/sql with lib/pq.
package pqdriver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/rickchristie/postgres-manager/driver"
)

// Name is the config value selecting this driver.
const Name = "pq"

var errCursorClosed = errors.New("cursor already closed")

// Opener returns a *sql.DB for a connection string.
type Opener func(connString string) (*sql.DB, error)

// Driver opens lib/pq connections.
type Driver struct {
	open Opener
}

// New returns a lib/pq-backed driver.
func New() *Driver {
	return NewWithOpener(func(connString string) (*sql.DB, error) {
		return sql.Open("postgres", connString)
	})
}

// NewWithOpener returns a driver that obtains its *sql.DB from open.
func NewWithOpener(open Opener) *Driver {
	return &Driver{open: open}
}

func (d *Driver) Name() string { return Name }

// IsTransient reports whether an Open failure may succeed on retry.
func (d *Driver) IsTransient(err error) bool {
	var pe *pq.Error
	if !errors.As(err, &pe) {
		return err != nil
	}
	switch pe.Code.Class() {
	case "28", "3D":
		return false
	}
	return true
}

// Open pins a single connection out of the pool so that the pending
// transaction and the session always share it.
func (d *Driver) Open(ctx context.Context, connString string) (driver.Conn, error) {
	db, err := d.open(connString)
	if err != nil {
		return nil, wrapError(err)
	}
	db.SetMaxOpenConns(1)
	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, wrapError(err)
	}
	return &Conn{db: db, conn: conn}, nil
}

// Conn owns the pinned *sql.Conn and its pending transaction.
type Conn struct {
	db   *sql.DB
	conn *sql.Conn
	tx   *sql.Tx
}

func (c *Conn) Cursor(ctx context.Context) (driver.Cursor, error) {
	return &Cursor{c: c}, nil
}

func (c *Conn) Commit(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	return wrapError(tx.Commit())
}

func (c *Conn) Rollback(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	return wrapError(tx.Rollback())
}

func (c *Conn) Close(ctx context.Context) error {
	rbErr := c.Rollback(ctx)
	connErr := c.conn.Close()
	dbErr := c.db.Close()
	for _, err := range []error{dbErr, connErr} {
		if err != nil {
			return wrapError(err)
		}
	}
	if rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
		return fmt.Errorf("failed to discard pending transaction: %w", rbErr)
	}
	return nil
}

func (c *Conn) begin(ctx context.Context) error {
	if c.tx != nil {
		return nil
	}
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return wrapError(err)
	}
	c.tx = tx
	return nil
}

// Cursor executes statements inside its Conn's pending transaction and
// buffers the last result set.
type Cursor struct {
	c         *Conn
	columns   []string
	rows      [][]interface{}
	hasResult bool
	closed    bool
}

// Execute runs sql. database/sql does not expose the command tag of a
// statement run through QueryContext, so commands report -1 rows affected
// and row-returning statements report the number of rows. Use
// ExecuteCommand when the result set is not wanted.
func (cur *Cursor) Execute(ctx context.Context, sql string) (int64, error) {
	if cur.closed {
		return 0, errCursorClosed
	}
	cur.columns, cur.rows, cur.hasResult = nil, nil, false

	if err := cur.c.begin(ctx); err != nil {
		return 0, err
	}

	rows, err := cur.c.tx.QueryContext(ctx, sql)
	if err != nil {
		return 0, wrapError(err)
	}
	defer rows.Close()

	var columns []string
	var collected [][]interface{}
	for {
		columns, collected, err = collect(rows)
		if err != nil {
			return 0, wrapError(err)
		}
		if !rows.NextResultSet() {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return 0, wrapError(err)
	}

	if len(columns) == 0 {
		return -1, nil
	}
	cur.columns, cur.rows, cur.hasResult = columns, collected, true
	return int64(len(collected)), nil
}

// ExecuteCommand runs sql through ExecContext so the command tag's row
// count is reported. Any result set is discarded.
func (cur *Cursor) ExecuteCommand(ctx context.Context, sql string) (int64, error) {
	if cur.closed {
		return 0, errCursorClosed
	}
	cur.columns, cur.rows, cur.hasResult = nil, nil, false

	if err := cur.c.begin(ctx); err != nil {
		return 0, err
	}
	res, err := cur.c.tx.ExecContext(ctx, sql)
	if err != nil {
		return 0, wrapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return -1, nil
	}
	return n, nil
}

func (cur *Cursor) FetchAll(ctx context.Context) ([]string, [][]interface{}, error) {
	if cur.closed {
		return nil, nil, errCursorClosed
	}
	if !cur.hasResult {
		return nil, nil, driver.ErrNoResults
	}
	columns, rows := cur.columns, cur.rows
	cur.columns, cur.rows, cur.hasResult = nil, nil, false
	return columns, rows, nil
}

func (cur *Cursor) Close(ctx context.Context) error {
	cur.closed = true
	cur.columns, cur.rows, cur.hasResult = nil, nil, false
	return nil
}

// collect reads the current result set.
func collect(rows *sql.Rows) ([]string, [][]interface{}, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	out := make([][]interface{}, 0)
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		out = append(out, values)
	}
	return columns, out, rows.Err()
}

// serverError exposes the SQLSTATE of a *pq.Error through driver.SQLState.
type serverError struct {
	err *pq.Error
}

func (e *serverError) Error() string    { return e.err.Error() }
func (e *serverError) Unwrap() error    { return e.err }
func (e *serverError) SQLState() string { return string(e.err.Code) }

func wrapError(err error) error {
	if err == nil {
		return nil
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		return &serverError{err: pe}
	}
	return err
}
