// Package pgmanager manages a single PostgreSQL session and runs
// category-tagged statements on it.
//
// A [Supervisor] owns the connection lifecycle: Connect retries a failed
// connection up to four times with a fixed two second pause, Commit and
// Rollback end the pending transaction, Disconnect closes the session.
// A [Gate] validates each statement against its declared category before
// it reaches the database. The check is a lexical keyword scan meant to
// catch mistakes, not a security boundary: a SELECT may not contain
// INSERT, an INSERT may not contain DROP TABLE, and so on. In basic mode
// only INSERT, CREATE and SELECT are accepted.
//
// Every operation returns an output with a [Status] of succeeded, skipped
// or failed. Failures never panic; they are carried in the output's Err
// (a typed error such as [ValidationError]) and Error fields.
//
// # Library Usage
//
//	mgr := pgmanager.New(pgmanager.Config{
//		Connection: pgmanager.ConnectionConfig{
//			Database: "app",
//			User:     "app",
//			Host:     "localhost",
//			Port:     5432,
//		},
//		Gate: pgmanager.GateConfig{Mode: pgmanager.ModeAdvanced},
//	}, logger)
//
//	if out := mgr.Connect(ctx); !out.OK() {
//		log.Fatal(out.Error)
//	}
//	defer mgr.Disconnect(ctx)
//
//	out := mgr.Execute(ctx, pgmanager.StatementInput{
//		SQL:      "INSERT INTO users (name) VALUES ('ada')",
//		Category: pgmanager.CategoryInsert,
//	})
//	if out.Status == pgmanager.StatusFailed {
//		mgr.Rollback(ctx)
//	} else {
//		mgr.Commit(ctx)
//	}
//
//	// Or run several statements all-or-nothing
//	batch := mgr.RunBatch(ctx, statements)
//
//	// Or register as MCP tools
//	pgmanager.RegisterMCPTools(mcpServer, mgr)
//
// The default driver is pgx; set Config.Driver to "pq" to use lib/pq
// through database/sql, or pass [WithDriver].
package pgmanager
