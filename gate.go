package pgmanager

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/rickchristie/postgres-manager/driver"
	"github.com/rickchristie/postgres-manager/internal/pgxdriver"
	"github.com/rickchristie/postgres-manager/internal/protection"
	"github.com/rickchristie/postgres-manager/internal/sanitize"
	"github.com/rickchristie/postgres-manager/internal/timeout"
)

// DefaultPreviewRows is the number of rows logged after a fetch.
const DefaultPreviewRows = 5

// Gate validates category-tagged statements and executes them on the
// Supervisor's session. Each call runs Unvalidated → Validated → Executed
// → Succeeded or Failed; nothing is retried.
type Gate struct {
	supervisor  *Supervisor
	checker     *protection.Checker
	timeouts    *timeout.Manager
	sanitizer   *sanitize.Sanitizer
	verbose     bool
	previewRows int
	logger      zerolog.Logger
}

// Validate reports whether sql may be executed as category. The check is a
// lexical substring scan meant to catch mistakes, not a security boundary.
// It returns nil or a *ValidationError.
func (g *Gate) Validate(sql interface{}, category Category) error {
	if err := g.checker.Check(sql, string(category)); err != nil {
		return newValidationError(err)
	}
	return nil
}

// Execute validates the statement and runs it on the open session. Rows
// are fetched for SELECT or when input.Fetch is set. Failures never
// escape as panics: they are returned as *ValidationError or
// *ExecutionError in the output.
//
// A server-side failure leaves the pending transaction aborted; the
// caller should Rollback before issuing further statements. A statement
// interrupted by its timeout or by ctx releases the session, since the
// driver may already have closed the connection: pending work is lost
// and the caller must Connect again.
func (g *Gate) Execute(ctx context.Context, input StatementInput) *StatementOutput {
	startTime := time.Now()
	category := input.Category

	if err := g.Validate(input.SQL, category); err != nil {
		g.logger.Error().Err(err).Str("category", string(category)).Msg("statement rejected")
		return failedStatement(category, err)
	}
	sql := input.SQL.(string)

	cursor, ok := g.supervisor.cursor()
	if !ok {
		err := &ExecutionError{Database: g.supervisor.params.Database, Category: category, Err: ErrNotConnected}
		g.logger.Error().Err(err).Str("category", string(category)).Msg("statement not executed")
		return failedStatement(category, err)
	}

	execCtx := ctx
	d, rule := g.timeouts.GetTimeoutWithRule(sql, string(category))
	if d > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	fetch := input.Fetch || category == CategorySelect
	var affected int64
	var err error
	if ce, ok := cursor.(driver.CommandExecutor); ok && !fetch {
		affected, err = ce.ExecuteCommand(execCtx, sql)
	} else {
		affected, err = cursor.Execute(execCtx, sql)
	}
	if err != nil {
		g.releaseIfInterrupted(execCtx, err)
		return g.executionFailed(category, sql, err)
	}

	output := &StatementOutput{Status: StatusSucceeded, Category: category, RowsAffected: affected}
	if fetch {
		columns, rows, err := cursor.FetchAll(execCtx)
		if err != nil {
			g.releaseIfInterrupted(execCtx, err)
			return g.executionFailed(category, sql, err)
		}
		output.Columns = columns
		output.Rows = rows
	}

	logEvent := g.statementEvent().
		Str("category", string(category)).
		Str("sql", truncateForLog(sql, 200)).
		Dur("duration", time.Since(startTime)).
		Int64("rows_affected", affected)
	if rule != "" {
		logEvent = logEvent.Str("timeout_rule", rule)
	}
	if output.Rows != nil && logEvent.Enabled() {
		logEvent = logEvent.
			Int("row_count", len(output.Rows)).
			Interface("preview", g.sanitizer.SanitizeRows(Preview(output.Rows, g.previewRows)))
	}
	logEvent.Msg("statement executed")

	return output
}

// statementEvent logs successful statements at info when verbose, debug
// otherwise.
func (g *Gate) statementEvent() *zerolog.Event {
	if g.verbose {
		return g.logger.Info()
	}
	return g.logger.Debug()
}

// releaseIfInterrupted drops the session when err came from a deadline or
// cancellation.
func (g *Gate) releaseIfInterrupted(execCtx context.Context, err error) {
	if execCtx.Err() == nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return
	}
	g.supervisor.abandon(execCtx, err)
}

func (g *Gate) executionFailed(category Category, sql string, err error) *StatementOutput {
	execErr := &ExecutionError{Database: g.supervisor.params.Database, Category: category, Err: err}
	logEvent := g.logger.Error().Err(err).
		Str("category", string(category)).
		Str("sql", truncateForLog(sql, 200))
	if pe, ok := pgxdriver.AsPgError(err); ok {
		logEvent = logEvent.Str("sqlstate", pe.Code)
		if pe.Detail != "" {
			logEvent = logEvent.Str("detail", pe.Detail)
		}
	}
	logEvent.Msg("statement failed")
	return failedStatement(category, execErr)
}

func failedStatement(category Category, err error) *StatementOutput {
	return &StatementOutput{Status: StatusFailed, Category: category, Err: err, Error: err.Error()}
}

// Preview returns at most the first n rows.
func Preview(rows [][]interface{}, n int) [][]interface{} {
	if n < 0 {
		n = 0
	}
	if len(rows) <= n {
		return rows
	}
	return rows[:n]
}

// truncateForLog truncates a string for log output to avoid oversized log entries.
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	truncateAt := maxLen
	for truncateAt > 0 && !utf8.RuneStart(s[truncateAt]) {
		truncateAt--
	}
	return s[:truncateAt] + "...[truncated]"
}
