package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	pgmanager "github.com/rickchristie/postgres-manager"
)

func runRun() error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	file := fs.String("file", "", "JSON file with a statements array (replaces config statements)")
	fs.Parse(os.Args[2:])

	serverConfig, err := loadServerConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	statements := serverConfig.Statements
	if *file != "" {
		statements, err = loadStatements(*file)
		if err != nil {
			return err
		}
	}

	serverConfig.Connection.Password = resolvePassword(serverConfig.Connection, isTTY(os.Stdin.Fd()), promptPassword)

	logger, closeLog := setupLogger(serverConfig.Logging)
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr := pgmanager.New(serverConfig.Config, logger)
	return runBatch(ctx, mgr, statements, os.Stdout)
}

// runBatch connects, runs statements as one unit of work, prints the batch
// output as JSON and disconnects. A failed connect or batch is returned as
// an error so the process exits non-zero.
func runBatch(ctx context.Context, mgr *pgmanager.Manager, statements []pgmanager.StatementInput, w io.Writer) error {
	if out := mgr.Connect(ctx); out.Status == pgmanager.StatusFailed {
		return fmt.Errorf("connect failed after %d attempt(s): %s", out.Attempts, out.Error)
	}
	// Disconnect must run even when ctx was cancelled by a signal.
	defer mgr.Disconnect(context.Background())

	out := mgr.RunBatch(ctx, statements)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("failed to write batch output: %w", err)
	}

	if out.Status == pgmanager.StatusFailed {
		return fmt.Errorf("batch failed, %s", out.Message)
	}
	return nil
}
