package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	pgmanager "github.com/rickchristie/postgres-manager"
)

const defaultConfigPath = ".gopgmgr/config.json"

func configPathFromEnv() string {
	if p := os.Getenv("GOPGMGR_CONFIG_PATH"); p != "" {
		return p
	}
	return defaultConfigPath
}

func loadServerConfig() (*pgmanager.ServerConfig, error) {
	configPath := configPathFromEnv()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var config pgmanager.ServerConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// loadStatements reads a JSON array of statements, the same shape as the
// config file's "statements" field.
func loadStatements(path string) ([]pgmanager.StatementInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read statements file %s: %w", path, err)
	}
	var statements []pgmanager.StatementInput
	if err := json.Unmarshal(data, &statements); err != nil {
		return nil, fmt.Errorf("failed to parse statements file %s: %w", path, err)
	}
	return statements, nil
}

// resolvePassword picks the database password: GOPGMGR_PASSWORD, then a
// password already present in the config, then an interactive prompt when
// stdin is a terminal. An empty result leaves authentication to the server
// (trust, peer, .pgpass).
func resolvePassword(conn pgmanager.ConnectionConfig, interactive bool, prompt func(string) string) string {
	if p, ok := os.LookupEnv("GOPGMGR_PASSWORD"); ok {
		return p
	}
	if conn.Password != "" {
		return conn.Password
	}
	if !interactive {
		return ""
	}
	return prompt(fmt.Sprintf("Password for %s@%s: ", conn.User, conn.Database))
}

func promptPassword(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr) // newline after password input
	if err != nil {
		return ""
	}
	return string(password)
}

// setupLogger builds the process logger. File output rotates through
// lumberjack; the returned func closes it. Every entry carries a run_id so
// lines from one process can be grouped.
func setupLogger(config pgmanager.LoggingConfig) (zerolog.Logger, func()) {
	level := zerolog.InfoLevel
	switch strings.ToLower(config.Level) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	closeFn := func() {}
	toFile := false
	var output io.Writer = os.Stderr
	switch config.Output {
	case "", "stderr":
	case "stdout":
		output = os.Stdout
	default:
		maxSize := config.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 100
		}
		lj := &lumberjack.Logger{
			Filename:   config.Output,
			MaxSize:    maxSize,
			MaxBackups: config.MaxBackups,
		}
		output = lj
		toFile = true
		closeFn = func() { lj.Close() }
	}

	if config.Format == "text" {
		output = zerolog.ConsoleWriter{Out: output, NoColor: toFile}
	}

	logger := zerolog.New(output).Level(level).With().
		Timestamp().
		Str("run_id", uuid.NewString()).
		Logger()
	return logger, closeFn
}
