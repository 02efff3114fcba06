// Package pgxdriver implements driver.Driver on top of jackc/pgx.
package pgxdriver

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rickchristie/postgres-manager/driver"
)

// Name is the config value selecting this driver.
const Name = "pgx"

var errCursorClosed = errors.New("cursor already closed")

// Driver opens pgx connections.
type Driver struct{}

// New returns a pgx-backed driver.
func New() *Driver {
	return &Driver{}
}

func (d *Driver) Name() string { return Name }

// IsTransient reports whether an Open failure may succeed on retry.
func (d *Driver) IsTransient(err error) bool { return IsTransient(err) }

// Open connects with the simple query protocol so a single SQL string may
// carry several statements, as with libpq-based clients.
func (d *Driver) Open(ctx context.Context, connString string) (driver.Conn, error) {
	cfg, err := pgx.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	cfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Conn{conn: conn}, nil
}

// Conn wraps a *pgx.Conn and the transaction opened by its first statement.
type Conn struct {
	conn *pgx.Conn
	tx   pgx.Tx
}

func (c *Conn) Cursor(ctx context.Context) (driver.Cursor, error) {
	if c.conn.IsClosed() {
		return nil, errors.New("connection is closed")
	}
	return &Cursor{c: c}, nil
}

func (c *Conn) Commit(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	return tx.Commit(ctx)
}

func (c *Conn) Rollback(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	return tx.Rollback(ctx)
}

func (c *Conn) Close(ctx context.Context) error {
	rbErr := c.Rollback(ctx)
	closeErr := c.conn.Close(ctx)
	if closeErr != nil {
		return closeErr
	}
	if rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
		return fmt.Errorf("failed to discard pending transaction: %w", rbErr)
	}
	return nil
}

// begin opens the implicit transaction if none is pending.
func (c *Conn) begin(ctx context.Context) error {
	if c.tx != nil {
		return nil
	}
	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return err
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

func (cur *Cursor) Execute(ctx context.Context, sql string) (int64, error) {
	if cur.closed {
		return 0, errCursorClosed
	}
	cur.columns, cur.rows, cur.hasResult = nil, nil, false

	if err := cur.c.begin(ctx); err != nil {
		return 0, err
	}

	results, err := cur.c.conn.PgConn().Exec(ctx, sql).ReadAll()
	if err != nil {
		return 0, err
	}
	if len(results) == 0 {
		return 0, nil
	}

	// Like libpq clients, only the last statement's result is kept.
	last := results[len(results)-1]
	if len(last.FieldDescriptions) > 0 {
		columns, rows, err := decodeResult(cur.c.conn.TypeMap(), last)
		if err != nil {
			return 0, err
		}
		cur.columns, cur.rows, cur.hasResult = columns, rows, true
	}
	return last.CommandTag.RowsAffected(), nil
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

// decodeResult converts a raw result into column names and native Go
// values using the connection's type map.
func decodeResult(m *pgtype.Map, result *pgconn.Result) ([]string, [][]interface{}, error) {
	fds := result.FieldDescriptions
	columns := make([]string, len(fds))
	for i, fd := range fds {
		columns[i] = fd.Name
	}

	rows := make([][]interface{}, 0, len(result.Rows))
	for _, raw := range result.Rows {
		row := make([]interface{}, len(fds))
		for i, fd := range fds {
			v, err := decodeValue(m, fd, raw[i])
			if err != nil {
				return nil, nil, fmt.Errorf("failed to decode column %q: %w", fd.Name, err)
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	return columns, rows, nil
}

func decodeValue(m *pgtype.Map, fd pgconn.FieldDescription, src []byte) (interface{}, error) {
	if src == nil {
		return nil, nil
	}
	dt, ok := m.TypeForOID(fd.DataTypeOID)
	if !ok {
		// Unregistered types (enums, domains of extensions) come back as text.
		if fd.Format == pgtype.TextFormatCode {
			return string(src), nil
		}
		return src, nil
	}
	return dt.Codec.DecodeValue(m, fd.DataTypeOID, fd.Format, src)
}
