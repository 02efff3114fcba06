package pgmanager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rickchristie/postgres-manager/driver"
)

const (
	// DefaultMaxAttempts is the number of connection attempts made by Connect.
	DefaultMaxAttempts = 4
	// DefaultRetryInterval is the pause between failed connection attempts.
	DefaultRetryInterval = 2 * time.Second
)

// SleepFunc pauses between connection attempts. It returns early with
// ctx.Err() when ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// session pairs a live connection with its cursor.
type session struct {
	conn   driver.Conn
	cursor driver.Cursor
}

// Supervisor owns the connection lifecycle: connect with bounded retries,
// commit, rollback and disconnect. It holds at most one session and is not
// safe for concurrent use; Manager serializes access.
type Supervisor struct {
	params      ConnectionConfig
	driver      driver.Driver
	maxAttempts int
	interval    time.Duration
	// stopOnPermanent consults the driver's TransientClassifier.
	stopOnPermanent bool
	sleep           SleepFunc
	session         *session
	logger          zerolog.Logger
}

// NewSupervisor creates a Supervisor. maxAttempts <= 0 and interval < 0
// fall back to the defaults; a nil sleep uses a context-aware timer.
// With stopOnPermanent set, a failure the driver reports as non-transient
// ends Connect without further attempts.
func NewSupervisor(params ConnectionConfig, drv driver.Driver, maxAttempts int, interval time.Duration, stopOnPermanent bool, sleep SleepFunc, logger zerolog.Logger) *Supervisor {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if interval < 0 {
		interval = DefaultRetryInterval
	}
	if sleep == nil {
		sleep = sleepContext
	}
	return &Supervisor{
		params:          params,
		driver:          drv,
		maxAttempts:     maxAttempts,
		interval:        interval,
		stopOnPermanent: stopOnPermanent,
		sleep:           sleep,
		logger:          logger.With().Str("database", params.Database).Logger(),
	}
}

// Connected reports whether a session is open.
func (s *Supervisor) Connected() bool {
	return s.session != nil
}

// Connect opens a session, retrying failed attempts up to the configured
// maximum with a fixed pause in between. Every failure is retried unless
// stopOnPermanent is set and the driver classifies it as permanent. It
// returns as soon as one attempt yields a usable cursor. Connecting while
// a session is open is a no-op.
func (s *Supervisor) Connect(ctx context.Context) *LifecycleOutput {
	if s.session != nil {
		s.logger.Warn().Msg("connect skipped: session already open")
		return &LifecycleOutput{Status: StatusSkipped, Message: "already connected"}
	}
	if s.params.Database == "" {
		return s.connectFailed(&ConnectionError{Err: ErrMissingConnectionInfo})
	}

	connString := s.params.ConnString()
	var classifier driver.TransientClassifier
	if s.stopOnPermanent {
		classifier, _ = s.driver.(driver.TransientClassifier)
	}

	var lastErr error
	attempt := 1
	for ; attempt <= s.maxAttempts; attempt++ {
		sess, err := s.open(ctx, connString)
		if err == nil {
			s.session = sess
			s.logger.Info().
				Str("driver", s.driver.Name()).
				Int("attempt", attempt).
				Msg("connection established")
			return &LifecycleOutput{Status: StatusSucceeded, Attempts: attempt}
		}

		lastErr = err
		s.logger.Error().Err(err).Int("attempt", attempt).Msg("error connecting to database")

		if classifier != nil && !classifier.IsTransient(err) {
			break
		}
		if attempt == s.maxAttempts {
			break
		}
		if err := s.sleep(ctx, s.interval); err != nil {
			lastErr = errors.Join(err, lastErr)
			break
		}
	}

	return s.connectFailed(&ConnectionError{
		Database: s.params.Database,
		Attempts: attempt,
		Err:      lastErr,
	})
}

// open makes a single connection attempt.
func (s *Supervisor) open(ctx context.Context, connString string) (*session, error) {
	conn, err := s.driver.Open(ctx, connString)
	if err != nil {
		return nil, err
	}
	cursor, err := conn.Cursor(ctx)
	if err != nil {
		if closeErr := conn.Close(ctx); closeErr != nil {
			s.logger.Warn().Err(closeErr).Msg("failed to close connection without cursor")
		}
		return nil, fmt.Errorf("failed to open cursor: %w", err)
	}
	return &session{conn: conn, cursor: cursor}, nil
}

func (s *Supervisor) connectFailed(err *ConnectionError) *LifecycleOutput {
	s.logger.Error().Err(err).Int("attempts", err.Attempts).Msg("failed to connect with database")
	return &LifecycleOutput{Status: StatusFailed, Attempts: err.Attempts, Err: err, Error: err.Error()}
}

// Commit commits pending work. Failures are returned as *CommitError.
func (s *Supervisor) Commit(ctx context.Context) *LifecycleOutput {
	return s.endTransaction(ctx, false)
}

// Rollback discards pending work. With no session it is a no-op.
func (s *Supervisor) Rollback(ctx context.Context) *LifecycleOutput {
	if s.session == nil {
		return &LifecycleOutput{Status: StatusSkipped, Message: "no session"}
	}
	return s.endTransaction(ctx, true)
}

func (s *Supervisor) endTransaction(ctx context.Context, rollback bool) *LifecycleOutput {
	op := "commit"
	if rollback {
		op = "rollback"
	}

	if s.session == nil {
		err := &CommitError{Database: s.params.Database, Rollback: rollback, Err: ErrNotConnected}
		s.logger.Error().Err(err).Msg(op + " failed")
		return &LifecycleOutput{Status: StatusFailed, Err: err, Error: err.Error()}
	}

	s.logger.Debug().Msg("attempting " + op)
	var err error
	if rollback {
		err = s.session.conn.Rollback(ctx)
	} else {
		err = s.session.conn.Commit(ctx)
	}
	if err != nil {
		cerr := &CommitError{Database: s.params.Database, Rollback: rollback, Err: err}
		s.logger.Error().Err(err).Msg(op + " failed")
		return &LifecycleOutput{Status: StatusFailed, Err: cerr, Error: cerr.Error()}
	}
	s.logger.Info().Msg(op + " successful")
	return &LifecycleOutput{Status: StatusSucceeded}
}

// Disconnect closes the cursor and the connection. Pending uncommitted
// work is discarded. With no session it reports a no-op, so calling it
// twice is safe. The session is released even if closing fails.
func (s *Supervisor) Disconnect(ctx context.Context) *LifecycleOutput {
	if s.session == nil {
		s.logger.Warn().Msg("no database session to disconnect from")
		return &LifecycleOutput{Status: StatusSkipped, Message: "no session to disconnect from"}
	}
	sess := s.session
	s.session = nil

	cursorErr := sess.cursor.Close(ctx)
	connErr := sess.conn.Close(ctx)
	if err := errors.Join(cursorErr, connErr); err != nil {
		err = fmt.Errorf("disconnect from database (%s): %w", s.params.Database, err)
		s.logger.Error().Err(err).Msg("disconnect failed")
		return &LifecycleOutput{Status: StatusFailed, Err: err, Error: err.Error()}
	}
	s.logger.Info().Msg("connection terminated")
	return &LifecycleOutput{Status: StatusSucceeded}
}

// abandon releases a session whose connection can no longer be trusted,
// such as one torn down by the driver after a statement deadline. Close
// errors are logged, not returned.
func (s *Supervisor) abandon(ctx context.Context, cause error) {
	if s.session == nil {
		return
	}
	sess := s.session
	s.session = nil

	ctx = context.WithoutCancel(ctx)
	if err := errors.Join(sess.cursor.Close(ctx), sess.conn.Close(ctx)); err != nil {
		s.logger.Debug().Err(err).Msg("closing abandoned session")
	}
	s.logger.Warn().Err(cause).Msg("session released after interrupted statement; pending work discarded")
}

// cursor returns the open session's cursor.
func (s *Supervisor) cursor() (driver.Cursor, bool) {
	if s.session == nil {
		return nil, false
	}
	return s.session.cursor, true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
