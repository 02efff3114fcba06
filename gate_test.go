package pgmanager_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	pgmanager "github.com/rickchristie/postgres-manager"
	"github.com/rickchristie/postgres-manager/driver"
)

// sqlStateError mimics a server error carrying a SQLSTATE code.
type sqlStateError struct {
	code string
	msg  string
}

func (e *sqlStateError) Error() string    { return e.msg }
func (e *sqlStateError) SQLState() string { return e.code }

func advancedConfig() pgmanager.Config {
	config := testConfig()
	config.Gate.Mode = pgmanager.ModeAdvanced
	return config
}

func TestEndToEnd_CreateInsertCommitDisconnect(t *testing.T) {
	t.Parallel()
	var logs bytes.Buffer
	logger := zerolog.New(&logs).Level(zerolog.ErrorLevel)
	drv := &fakeDriver{}
	mgr := pgmanager.New(testConfig(), logger, pgmanager.WithDriver(drv))
	ctx := context.Background()

	if out := mgr.Connect(ctx); out.Status != pgmanager.StatusSucceeded || out.Attempts != 1 {
		t.Fatalf("connect: %s after %d attempts: %s", out.Status, out.Attempts, out.Error)
	}
	if out := mgr.Execute(ctx, pgmanager.StatementInput{SQL: "CREATE TABLE t (id INT)", Category: pgmanager.CategoryCreate}); !out.OK() {
		t.Fatalf("create: %s", out.Error)
	}
	if out := mgr.Execute(ctx, pgmanager.StatementInput{SQL: "INSERT INTO t VALUES (1)", Category: pgmanager.CategoryInsert}); !out.OK() {
		t.Fatalf("insert: %s", out.Error)
	}
	conn := drv.lastConn()
	cursor := conn.cursor
	if out := mgr.Commit(ctx); out.Status != pgmanager.StatusSucceeded {
		t.Fatalf("commit: %s", out.Error)
	}
	if out := mgr.Disconnect(ctx); out.Status != pgmanager.StatusSucceeded {
		t.Fatalf("disconnect: %s", out.Error)
	}

	if got := strings.Join(cursor.executed, "; "); got != "CREATE TABLE t (id INT); INSERT INTO t VALUES (1)" {
		t.Errorf("unexpected executed statements: %s", got)
	}
	if conn.commits != 1 {
		t.Errorf("expected 1 commit, got %d", conn.commits)
	}
	if logs.Len() != 0 {
		t.Errorf("expected no errors logged, got: %s", logs.String())
	}
}

func TestEndToEnd_LexicalFalsePositive(t *testing.T) {
	t.Parallel()
	mgr, drv := connectedManager(t, testConfig())

	out := mgr.Execute(context.Background(), pgmanager.StatementInput{
		SQL:      "SELECT * FROM t WHERE CREATE='x'",
		Category: pgmanager.CategorySelect,
	})
	if out.Status != pgmanager.StatusFailed {
		t.Fatalf("expected failed, got %s", out.Status)
	}
	var vErr *pgmanager.ValidationError
	if !errors.As(out.Err, &vErr) {
		t.Fatalf("expected *ValidationError, got %T", out.Err)
	}
	if vErr.Reason != pgmanager.ReasonMixedStatementTypes || vErr.Keyword != "CREATE" {
		t.Errorf("unexpected violation: reason %s keyword %s", vErr.Reason, vErr.Keyword)
	}
	if n := len(drv.lastConn().cursor.executed); n != 0 {
		t.Errorf("rejected statement reached the cursor (%d executions)", n)
	}
}

func TestExecute_NotConnectedEveryCategory(t *testing.T) {
	t.Parallel()
	mgr, _ := newTestManager(t, advancedConfig(), &fakeDriver{})

	sqlFor := map[pgmanager.Category]string{
		pgmanager.CategoryInsert:       "INSERT INTO t VALUES (1)",
		pgmanager.CategoryCreate:       "CREATE TABLE t (id INT)",
		pgmanager.CategorySelect:       "SELECT 1",
		pgmanager.CategoryUpdate:       "UPDATE t SET id = 2",
		pgmanager.CategoryDelete:       "DELETE FROM t",
		pgmanager.CategoryTruncate:     "TRUNCATE t",
		pgmanager.CategoryAlter:        "ALTER TABLE t ADD COLUMN name TEXT",
		pgmanager.CategoryDropTable:    "DROP TABLE t",
		pgmanager.CategoryDropDatabase: "DROP DATABASE d",
	}

	for _, category := range pgmanager.Categories() {
		category := category
		t.Run(string(category), func(t *testing.T) {
			t.Parallel()
			out := mgr.Execute(context.Background(), pgmanager.StatementInput{SQL: sqlFor[category], Category: category})
			if out.Status != pgmanager.StatusFailed {
				t.Fatalf("expected failed, got %s", out.Status)
			}
			var execErr *pgmanager.ExecutionError
			if !errors.As(out.Err, &execErr) {
				t.Fatalf("expected *ExecutionError, got %T: %v", out.Err, out.Err)
			}
			if !errors.Is(out.Err, pgmanager.ErrNotConnected) {
				t.Error("expected error to wrap ErrNotConnected")
			}
			want := fmt.Sprintf("connection to database (testdb) needs to be established before %s statement", category)
			if out.Error != want {
				t.Errorf("error = %q, want %q", out.Error, want)
			}
		})
	}
}

func TestExecute_ValidationBeforeConnection(t *testing.T) {
	t.Parallel()
	mgr, _ := newTestManager(t, testConfig(), &fakeDriver{})

	out := mgr.Execute(context.Background(), pgmanager.StatementInput{SQL: "UPDATE t SET x = 1", Category: pgmanager.CategoryUpdate})
	var vErr *pgmanager.ValidationError
	if !errors.As(out.Err, &vErr) {
		t.Fatalf("expected *ValidationError, got %T", out.Err)
	}
	if vErr.Reason != pgmanager.ReasonCategoryNotAllowed {
		t.Errorf("expected category-not-allowed, got %s", vErr.Reason)
	}
}

func TestExecute_NonStringSQL(t *testing.T) {
	t.Parallel()
	mgr, _ := connectedManager(t, testConfig())

	for _, sql := range []interface{}{nil, 42, []string{"SELECT 1"}, map[string]interface{}{"sql": "SELECT 1"}} {
		out := mgr.Execute(context.Background(), pgmanager.StatementInput{SQL: sql, Category: pgmanager.CategorySelect})
		var vErr *pgmanager.ValidationError
		if !errors.As(out.Err, &vErr) || vErr.Reason != pgmanager.ReasonNotAString {
			t.Errorf("sql %#v: expected not-a-string violation, got %v", sql, out.Err)
		}
	}
}

func TestExecute_AdvancedModeCategories(t *testing.T) {
	t.Parallel()
	mgr, _ := connectedManager(t, advancedConfig())
	ctx := context.Background()

	tests := []struct {
		sql      string
		category pgmanager.Category
	}{
		{"UPDATE t SET id = 2", pgmanager.CategoryUpdate},
		{"DELETE FROM t WHERE id = 2", pgmanager.CategoryDelete},
		{"TRUNCATE t", pgmanager.CategoryTruncate},
		{"ALTER TABLE t ADD COLUMN name TEXT", pgmanager.CategoryAlter},
		{"DROP TABLE t", pgmanager.CategoryDropTable},
	}
	for _, tt := range tests {
		out := mgr.Execute(ctx, pgmanager.StatementInput{SQL: tt.sql, Category: tt.category})
		if !out.OK() {
			t.Errorf("%s: expected success, got %s", tt.category, out.Error)
		}
	}
}

func TestExecute_SelectFetchesRows(t *testing.T) {
	t.Parallel()
	drv := &fakeDriver{
		columns: []string{"id", "name"},
		rows:    [][]interface{}{{int32(1), "ada"}, {int32(2), "grace"}},
	}
	mgr, _ := newTestManager(t, testConfig(), drv)
	ctx := context.Background()
	mgr.Connect(ctx)

	out := mgr.Execute(ctx, pgmanager.StatementInput{SQL: "SELECT id, name FROM t", Category: pgmanager.CategorySelect})
	if out.Status != pgmanager.StatusSucceeded {
		t.Fatalf("expected succeeded, got %s: %s", out.Status, out.Error)
	}
	if len(out.Columns) != 2 || out.Columns[1] != "name" {
		t.Errorf("unexpected columns: %v", out.Columns)
	}
	if len(out.Rows) != 2 || out.Rows[1][1] != "grace" {
		t.Errorf("unexpected rows: %v", out.Rows)
	}
}

func TestExecute_InsertDoesNotFetchByDefault(t *testing.T) {
	t.Parallel()
	drv := &fakeDriver{columns: []string{"id"}, rows: [][]interface{}{{int64(7)}}}
	mgr, _ := newTestManager(t, testConfig(), drv)
	ctx := context.Background()
	mgr.Connect(ctx)

	out := mgr.Execute(ctx, pgmanager.StatementInput{SQL: "INSERT INTO t VALUES (7)", Category: pgmanager.CategoryInsert})
	if !out.OK() || out.Rows != nil {
		t.Fatalf("expected success without rows, got %s rows=%v", out.Status, out.Rows)
	}
	if out.RowsAffected != 1 {
		t.Errorf("expected 1 row affected, got %d", out.RowsAffected)
	}

	out = mgr.Execute(ctx, pgmanager.StatementInput{SQL: "INSERT INTO t VALUES (7) RETURNING id", Category: pgmanager.CategoryInsert, Fetch: true})
	if !out.OK() || len(out.Rows) != 1 {
		t.Fatalf("expected returned row, got %s rows=%v", out.Status, out.Rows)
	}
}

// commandDriver hands out cursors that also implement
// driver.CommandExecutor and records which path ran each statement.
type commandDriver struct {
	*fakeDriver
	commands []string
}

func (d *commandDriver) Open(ctx context.Context, connString string) (driver.Conn, error) {
	conn, err := d.fakeDriver.Open(ctx, connString)
	if err != nil {
		return nil, err
	}
	return commandConn{Conn: conn, d: d}, nil
}

type commandConn struct {
	driver.Conn
	d *commandDriver
}

func (c commandConn) Cursor(ctx context.Context) (driver.Cursor, error) {
	cur, err := c.Conn.Cursor(ctx)
	if err != nil {
		return nil, err
	}
	return commandCursor{Cursor: cur, d: c.d}, nil
}

type commandCursor struct {
	driver.Cursor
	d *commandDriver
}

func (c commandCursor) ExecuteCommand(ctx context.Context, sql string) (int64, error) {
	c.d.commands = append(c.d.commands, sql)
	return 3, nil
}

func TestExecute_CommandExecutorReportsRowsAffected(t *testing.T) {
	t.Parallel()
	drv := &commandDriver{fakeDriver: &fakeDriver{columns: []string{"id"}, rows: [][]interface{}{{int64(7)}}}}
	mgr, _ := newTestManager(t, testConfig(), drv)
	ctx := context.Background()
	mgr.Connect(ctx)

	out := mgr.Execute(ctx, pgmanager.StatementInput{SQL: "INSERT INTO t VALUES (1), (2), (3)", Category: pgmanager.CategoryInsert})
	if !out.OK() || out.RowsAffected != 3 {
		t.Fatalf("expected 3 rows affected, got %s %d: %s", out.Status, out.RowsAffected, out.Error)
	}

	// fetching and SELECT go through Execute so the result set is buffered.
	if out := mgr.Execute(ctx, pgmanager.StatementInput{SQL: "INSERT INTO t VALUES (7) RETURNING id", Category: pgmanager.CategoryInsert, Fetch: true}); !out.OK() || len(out.Rows) != 1 {
		t.Fatalf("expected returned row, got %s rows=%v", out.Status, out.Rows)
	}
	if out := mgr.Execute(ctx, pgmanager.StatementInput{SQL: "SELECT id FROM t", Category: pgmanager.CategorySelect}); !out.OK() || len(out.Rows) != 1 {
		t.Fatalf("expected selected row, got %s rows=%v", out.Status, out.Rows)
	}

	if len(drv.commands) != 1 || drv.commands[0] != "INSERT INTO t VALUES (1), (2), (3)" {
		t.Errorf("unexpected command path statements: %v", drv.commands)
	}
	if got := strings.Join(drv.lastConn().cursor.executed, "; "); got != "INSERT INTO t VALUES (7) RETURNING id; SELECT id FROM t" {
		t.Errorf("unexpected Execute path statements: %s", got)
	}
}

func TestExecute_FetchWithoutResults(t *testing.T) {
	t.Parallel()
	mgr, _ := connectedManager(t, testConfig())

	out := mgr.Execute(context.Background(), pgmanager.StatementInput{SQL: "INSERT INTO t VALUES (1)", Category: pgmanager.CategoryInsert, Fetch: true})
	if out.Status != pgmanager.StatusFailed {
		t.Fatalf("expected failed, got %s", out.Status)
	}
	if !errors.Is(out.Err, driver.ErrNoResults) {
		t.Errorf("expected ErrNoResults, got %v", out.Err)
	}
}

func TestExecute_ServerError(t *testing.T) {
	t.Parallel()
	serverErr := &sqlStateError{code: "42P01", msg: `relation "missing" does not exist`}
	drv := &fakeDriver{exec: func(sql string) (int64, error) {
		if strings.Contains(sql, "missing") {
			return 0, serverErr
		}
		return 1, nil
	}}
	mgr, _ := newTestManager(t, testConfig(), drv)
	ctx := context.Background()
	mgr.Connect(ctx)

	out := mgr.Execute(ctx, pgmanager.StatementInput{SQL: "INSERT INTO missing VALUES (1)", Category: pgmanager.CategoryInsert})
	if out.Status != pgmanager.StatusFailed {
		t.Fatalf("expected failed, got %s", out.Status)
	}
	var execErr *pgmanager.ExecutionError
	if !errors.As(out.Err, &execErr) || execErr.Category != pgmanager.CategoryInsert {
		t.Fatalf("expected INSERT *ExecutionError, got %#v", out.Err)
	}
	if driver.SQLState(out.Err) != "42P01" {
		t.Errorf("expected sqlstate to survive wrapping, got %q", driver.SQLState(out.Err))
	}
	if out.Error != `error with INSERT statement: relation "missing" does not exist` {
		t.Errorf("unexpected error: %s", out.Error)
	}
	if !mgr.Connected() {
		t.Error("expected a server error to keep the session open")
	}
}

func TestExecute_InterruptedStatementReleasesSession(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		cause error
	}{
		{"statement timeout", fmt.Errorf("timeout: %w", context.DeadlineExceeded)},
		{"cancelled", fmt.Errorf("conn closed: %w", context.Canceled)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			config := testConfig()
			config.Timeouts.DefaultSeconds = 1
			mgr, drv := connectedManager(t, config)
			drv.exec = func(sql string) (int64, error) { return 0, tt.cause }
			conn := drv.lastConn()
			ctx := context.Background()

			out := mgr.Execute(ctx, pgmanager.StatementInput{SQL: "INSERT INTO t VALUES (1)", Category: pgmanager.CategoryInsert})
			if out.Status != pgmanager.StatusFailed || !errors.Is(out.Err, tt.cause) {
				t.Fatalf("expected failure wrapping %v, got %s: %v", tt.cause, out.Status, out.Err)
			}
			if mgr.Connected() {
				t.Error("expected the session to be released")
			}
			if !conn.closed || !conn.cursor.closed {
				t.Errorf("expected cursor and connection closed, got cursor=%v conn=%v", conn.cursor.closed, conn.closed)
			}

			next := mgr.Execute(ctx, pgmanager.StatementInput{SQL: "SELECT 1", Category: pgmanager.CategorySelect})
			if !errors.Is(next.Err, pgmanager.ErrNotConnected) {
				t.Errorf("expected ErrNotConnected after release, got %v", next.Err)
			}
			if rb := mgr.Rollback(ctx); rb.Status != pgmanager.StatusSkipped {
				t.Errorf("expected rollback to be skipped, got %s", rb.Status)
			}
			if c := mgr.Connect(ctx); c.Status != pgmanager.StatusSucceeded {
				t.Errorf("expected reconnect to succeed, got %s: %s", c.Status, c.Error)
			}
		})
	}
}

func TestExecute_ErrorHints(t *testing.T) {
	t.Parallel()
	config := testConfig()
	config.ErrorHints = []pgmanager.ErrorHintRule{
		{Pattern: "(?i)does not exist", Message: "Create the table first."},
		{Code: "42P01", Message: "Check the schema search path."},
		{Pattern: "permission denied", Message: "never shown"},
	}
	drv := &fakeDriver{exec: func(sql string) (int64, error) {
		return 0, &sqlStateError{code: "42P01", msg: `relation "t" does not exist`}
	}}
	mgr, _ := newTestManager(t, config, drv)
	ctx := context.Background()
	mgr.Connect(ctx)

	out := mgr.Execute(ctx, pgmanager.StatementInput{SQL: "INSERT INTO t VALUES (1)", Category: pgmanager.CategoryInsert})
	want := "error with INSERT statement: relation \"t\" does not exist\n\nCreate the table first.\nCheck the schema search path."
	if out.Error != want {
		t.Errorf("error = %q, want %q", out.Error, want)
	}
	if out.Err.Error() == out.Error {
		t.Error("expected hints only in the Error string")
	}
}

func TestExecute_StrictMode(t *testing.T) {
	t.Parallel()
	config := testConfig()
	config.Gate.Strict = true
	mgr, _ := connectedManager(t, config)
	ctx := context.Background()

	out := mgr.Execute(ctx, pgmanager.StatementInput{SQL: "CREATE INDEX idx ON t (id)", Category: pgmanager.CategoryCreate})
	var vErr *pgmanager.ValidationError
	if !errors.As(out.Err, &vErr) || vErr.Reason != pgmanager.ReasonMissingKeyword {
		t.Fatalf("expected missing-keyword violation, got %v", out.Err)
	}
	if vErr.Keyword != "CREATE TABLE" {
		t.Errorf("expected CREATE TABLE keyword, got %q", vErr.Keyword)
	}

	if out := mgr.Execute(ctx, pgmanager.StatementInput{SQL: "CREATE TABLE t (id INT)", Category: pgmanager.CategoryCreate}); !out.OK() {
		t.Errorf("expected CREATE TABLE to pass strict mode, got %s", out.Error)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	mgr, _ := newTestManager(t, testConfig(), &fakeDriver{})

	tests := []struct {
		name     string
		sql      interface{}
		category pgmanager.Category
		reason   pgmanager.ValidationReason
		keyword  string
	}{
		{"clean select", "SELECT * FROM t", pgmanager.CategorySelect, "", ""},
		{"select with drop table", "SELECT * FROM t; DROP TABLE t;", pgmanager.CategorySelect, pgmanager.ReasonMixedStatementTypes, "DROP TABLE"},
		{"insert with select", "INSERT INTO t SELECT * FROM s", pgmanager.CategoryInsert, pgmanager.ReasonMixedStatementTypes, "SELECT"},
		{"update in basic mode", "UPDATE t SET id = 1", pgmanager.CategoryUpdate, pgmanager.ReasonCategoryNotAllowed, ""},
		{"unknown category", "MERGE INTO t", pgmanager.Category("MERGE"), pgmanager.ReasonUnknownCategory, ""},
		{"not a string", 3.14, pgmanager.CategorySelect, pgmanager.ReasonNotAString, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := mgr.Validate(tt.sql, tt.category)
			if tt.reason == "" {
				if err != nil {
					t.Fatalf("expected valid, got %v", err)
				}
				return
			}
			var vErr *pgmanager.ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected *ValidationError, got %T: %v", err, err)
			}
			if vErr.Reason != tt.reason {
				t.Errorf("reason = %s, want %s", vErr.Reason, tt.reason)
			}
			if vErr.Keyword != tt.keyword {
				t.Errorf("keyword = %q, want %q", vErr.Keyword, tt.keyword)
			}
		})
	}
}

func TestPreview(t *testing.T) {
	t.Parallel()
	rows := make([][]interface{}, 8)
	for i := range rows {
		rows[i] = []interface{}{i}
	}

	tests := []struct {
		n    int
		want int
	}{
		{5, 5},
		{0, 0},
		{-1, 0},
		{8, 8},
		{20, 8},
	}
	for _, tt := range tests {
		if got := len(pgmanager.Preview(rows, tt.n)); got != tt.want {
			t.Errorf("Preview(8 rows, %d) returned %d rows, want %d", tt.n, got, tt.want)
		}
	}
}

func TestExecute_VerbosePreviewIsSanitized(t *testing.T) {
	t.Parallel()
	var logs bytes.Buffer
	config := testConfig()
	config.Verbose = true
	config.PreviewRows = 1
	config.Sanitization = []pgmanager.SanitizationRule{
		{Pattern: `[a-z]+@example\.com`, Replacement: "***"},
	}
	drv := &fakeDriver{
		columns: []string{"email"},
		rows:    [][]interface{}{{"ada@example.com"}, {"grace@example.com"}},
	}
	mgr := pgmanager.New(config, zerolog.New(&logs).Level(zerolog.InfoLevel), pgmanager.WithDriver(drv))
	ctx := context.Background()
	mgr.Connect(ctx)

	out := mgr.Execute(ctx, pgmanager.StatementInput{SQL: "SELECT email FROM users", Category: pgmanager.CategorySelect})
	if !out.OK() {
		t.Fatalf("select failed: %s", out.Error)
	}
	if out.Rows[0][0] != "ada@example.com" {
		t.Errorf("sanitization must not alter returned rows, got %v", out.Rows[0][0])
	}
	logged := logs.String()
	if strings.Contains(logged, "example.com") {
		t.Errorf("expected preview redacted, got: %s", logged)
	}
	if !strings.Contains(logged, `"row_count":2`) || !strings.Contains(logged, `"preview":[["***"]]`) {
		t.Errorf("expected one-row preview of two rows, got: %s", logged)
	}
}
