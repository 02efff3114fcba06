package pgmanager

import (
	"context"
	"fmt"
)

// RunBatch executes statements in order on the open session and commits
// only if every one succeeds. On the first failure the remaining
// statements are not run, pending work is rolled back and the output
// reports that no changes were made. An empty batch is a no-op.
func (m *Manager) RunBatch(ctx context.Context, statements []StatementInput) *BatchOutput {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(statements) == 0 {
		return &BatchOutput{Status: StatusSkipped, Message: "no statements to run"}
	}

	out := &BatchOutput{Statements: make([]*StatementOutput, 0, len(statements))}
	for i, stmt := range statements {
		result := m.hintStatement(m.gate.Execute(ctx, stmt))
		out.Statements = append(out.Statements, result)
		if result.Status == StatusFailed {
			return m.abortBatch(ctx, out, fmt.Errorf("statement %d of %d failed: %w", i+1, len(statements), result.Err))
		}
	}

	commit := m.hintLifecycle(m.supervisor.Commit(ctx))
	if commit.Status == StatusFailed {
		return m.abortBatch(ctx, out, commit.Err)
	}
	out.Status = StatusSucceeded
	out.Committed = true
	m.logger.Info().Int("statements", len(statements)).Msg("batch committed")
	return out
}

func (m *Manager) abortBatch(ctx context.Context, out *BatchOutput, err error) *BatchOutput {
	if rb := m.supervisor.Rollback(ctx); rb.Status == StatusFailed {
		m.logger.Error().Err(rb.Err).Msg("rollback after failed batch failed")
	}
	out.Status = StatusFailed
	out.Message = "no changes made"
	out.Err = err
	out.Error = m.withHints(err)
	m.logger.Error().Err(err).Msg("batch aborted, no changes made")
	return out
}
