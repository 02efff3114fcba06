package pgmanager_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rickchristie/govner/pgflock/client"
	"github.com/rs/zerolog"

	pgmanager "github.com/rickchristie/postgres-manager"
	"github.com/rickchristie/postgres-manager/driver"
	"github.com/rickchristie/postgres-manager/internal/pgxdriver"
)

const (
	pgflockLockerPort = 9776
	pgflockPassword   = "pgflock"
)

func acquireTestDB(t *testing.T) string {
	t.Helper()
	connStr, err := client.Lock(pgflockLockerPort, t.Name(), pgflockPassword)
	if err != nil {
		t.Fatalf("Failed to acquire test database: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Unlock(pgflockLockerPort, pgflockPassword, connStr)
	})
	return connStr
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func testConfig() pgmanager.Config {
	return pgmanager.Config{
		Connection: pgmanager.ConnectionConfig{
			Database: "testdb",
			User:     "tester",
			Host:     "localhost",
			Port:     5432,
		},
	}
}

// newTestManager creates a Manager backed by drv that never really sleeps.
func newTestManager(t *testing.T, config pgmanager.Config, drv driver.Driver) (*pgmanager.Manager, *sleepRecorder) {
	t.Helper()
	sleeps := &sleepRecorder{}
	mgr := pgmanager.New(config, testLogger(), pgmanager.WithDriver(drv), pgmanager.WithSleep(sleeps.Sleep))
	return mgr, sleeps
}

// connectedManager returns a Manager with an open session on a fake driver.
func connectedManager(t *testing.T, config pgmanager.Config) (*pgmanager.Manager, *fakeDriver) {
	t.Helper()
	drv := &fakeDriver{}
	mgr, _ := newTestManager(t, config, drv)
	if out := mgr.Connect(context.Background()); out.Status != pgmanager.StatusSucceeded {
		t.Fatalf("connect failed: %s", out.Error)
	}
	return mgr, drv
}

var errConnRefused = errors.New("dial tcp 127.0.0.1:5432: connection refused")

// sleepRecorder records requested pauses instead of sleeping.
type sleepRecorder struct {
	mu    sync.Mutex
	calls []time.Duration
	err   error
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, d)
	return s.err
}

func (s *sleepRecorder) Calls() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.calls...)
}

// fakeDriver hands out fakeConns. openErrs[i] is returned by the (i+1)th
// Open call; calls past the end succeed.
type fakeDriver struct {
	mu        sync.Mutex
	openErrs  []error
	cursorErr error
	exec      func(sql string) (int64, error)
	columns   []string
	rows      [][]interface{}

	opens int
	conns []*fakeConn
}

func (d *fakeDriver) Name() string { return "fake" }

func (d *fakeDriver) Open(ctx context.Context, connString string) (driver.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	if d.opens <= len(d.openErrs) && d.openErrs[d.opens-1] != nil {
		return nil, d.openErrs[d.opens-1]
	}
	c := &fakeConn{driver: d, connString: connString}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDriver) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

func (d *fakeDriver) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// classifyingDriver marks errors wrapping errPermanent as non-transient.
type classifyingDriver struct {
	*fakeDriver
}

var errPermanent = errors.New("password authentication failed")

func (d classifyingDriver) IsTransient(err error) bool {
	return !errors.Is(err, errPermanent)
}

// pgxClassifyingDriver classifies Open failures by SQLSTATE the way the pgx
// driver does.
type pgxClassifyingDriver struct {
	*fakeDriver
}

func (d pgxClassifyingDriver) IsTransient(err error) bool {
	return pgxdriver.IsTransient(err)
}

type fakeConn struct {
	driver     *fakeDriver
	connString string

	commitErr   error
	rollbackErr error
	closeErr    error

	commits   int
	rollbacks int
	closed    bool
	cursor    *fakeCursor
}

func (c *fakeConn) Cursor(ctx context.Context) (driver.Cursor, error) {
	if c.driver.cursorErr != nil {
		return nil, c.driver.cursorErr
	}
	c.cursor = &fakeCursor{conn: c}
	return c.cursor, nil
}

func (c *fakeConn) Commit(ctx context.Context) error {
	c.commits++
	if c.commitErr != nil {
		return c.commitErr
	}
	c.cursor.pending = nil
	return nil
}

func (c *fakeConn) Rollback(ctx context.Context) error {
	c.rollbacks++
	if c.rollbackErr != nil {
		return c.rollbackErr
	}
	if c.cursor != nil {
		c.cursor.pending = nil
	}
	return nil
}

func (c *fakeConn) Close(ctx context.Context) error {
	c.closed = true
	return c.closeErr
}

type fakeCursor struct {
	conn     *fakeConn
	executed []string
	pending  []string // executed since the last commit or rollback
	fetched  bool
	closeErr error
	closed   bool
}

func (c *fakeCursor) Execute(ctx context.Context, sql string) (int64, error) {
	c.executed = append(c.executed, sql)
	c.fetched = false
	if c.conn.driver.exec != nil {
		n, err := c.conn.driver.exec(sql)
		if err != nil {
			return 0, err
		}
		c.pending = append(c.pending, sql)
		return n, nil
	}
	c.pending = append(c.pending, sql)
	return 1, nil
}

func (c *fakeCursor) FetchAll(ctx context.Context) ([]string, [][]interface{}, error) {
	if c.conn.driver.columns == nil || c.fetched {
		return nil, nil, driver.ErrNoResults
	}
	c.fetched = true
	return c.conn.driver.columns, c.conn.driver.rows, nil
}

func (c *fakeCursor) Close(ctx context.Context) error {
	c.closed = true
	return c.closeErr
}
