package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	pgmanager "github.com/rickchristie/postgres-manager"
	"github.com/rickchristie/postgres-manager/internal/meta"
)

func runDoctor() error {
	fs := flag.NewFlagSet("doctor", flag.ExitOnError)
	configPath := fs.String("config", configPathFromEnv(), "Path to configuration file")
	fs.Parse(os.Args[2:])

	useColor := isTTY(os.Stderr.Fd())
	return doctor(os.Stderr, useColor, *configPath)
}

func doctor(w io.Writer, useColor bool, configPath string) error {
	printBanner(w, useColor)
	fmt.Fprintf(w, "gopgmgr %s\n\n", meta.Version)

	config, ok := doctorValidateConfig(w, useColor, configPath)
	if !ok {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Fix the issues above and run 'gopgmgr doctor' again.")
		return nil
	}

	fmt.Fprintln(w)
	printAgentSnippets(w, useColor, config)
	return nil
}

// doctorValidateConfig loads and validates the config file, printing check results.
// Returns the parsed config and true if all checks passed.
func doctorValidateConfig(w io.Writer, useColor bool, configPath string) (*pgmanager.ServerConfig, bool) {
	allPassed := true
	check := func(pass bool, msg string) {
		printCheck(w, useColor, pass, msg)
		if !pass {
			allPassed = false
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		check(false, fmt.Sprintf("Config file readable (%s)", configPath))
		return nil, false
	}
	check(true, fmt.Sprintf("Config file readable (%s)", configPath))

	var config pgmanager.ServerConfig
	if err := json.Unmarshal(data, &config); err != nil {
		check(false, fmt.Sprintf("Config file is valid JSON: %v", err))
		return nil, false
	}
	check(true, "Config file is valid JSON")

	if config.Connection.Database == "" {
		check(false, "connection.database is set")
	} else {
		check(true, fmt.Sprintf("connection.database is set (%s)", config.Connection.Database))
	}

	switch config.Driver {
	case "", "pgx", "pq":
		check(true, fmt.Sprintf("driver is supported (%s)", driverName(config.Driver)))
	default:
		check(false, fmt.Sprintf("driver is supported (unknown %q, use pgx or pq)", config.Driver))
	}

	if config.Retry.Interval != "" {
		if d, err := time.ParseDuration(config.Retry.Interval); err != nil || d < 0 {
			check(false, fmt.Sprintf("retry.interval is a non-negative Go duration (%q)", config.Retry.Interval))
		}
	}

	switch config.Gate.Mode {
	case "", pgmanager.ModeBasic, pgmanager.ModeAdvanced:
	default:
		check(false, fmt.Sprintf("gate.mode is basic or advanced (got %q)", config.Gate.Mode))
	}

	if config.Server.Port <= 0 {
		check(false, "server.port is > 0")
	} else {
		check(true, fmt.Sprintf("server.port is > 0 (%d)", config.Server.Port))
	}

	if config.Server.HealthCheckEnabled {
		if config.Server.HealthCheckPath == "" {
			check(false, "health_check_path is set (required when health_check_enabled)")
		} else {
			check(true, fmt.Sprintf("health_check_path is set (%s)", config.Server.HealthCheckPath))
		}
	}

	regexOK := true
	checkRegex := func(field string, pattern string) {
		if pattern == "" {
			return
		}
		if _, err := regexp.Compile(pattern); err != nil {
			check(false, fmt.Sprintf("%s regex compiles: %v", field, err))
			regexOK = false
		}
	}
	for i, rule := range config.ErrorHints {
		checkRegex(fmt.Sprintf("error_hints[%d]", i), rule.Pattern)
	}
	for i, rule := range config.Sanitization {
		checkRegex(fmt.Sprintf("sanitization[%d]", i), rule.Pattern)
	}
	for i, rule := range config.Timeouts.Rules {
		checkRegex(fmt.Sprintf("timeouts.rules[%d]", i), rule.Pattern)
	}
	if regexOK {
		check(true, "All regex patterns compile")
	}

	for i, st := range config.Statements {
		if _, ok := st.SQL.(string); !ok {
			check(false, fmt.Sprintf("statements[%d].sql is a string", i))
		}
		if !knownCategory(st.Category) {
			check(false, fmt.Sprintf("statements[%d].category is known (got %q)", i, st.Category))
		}
	}

	// Anything the individual checks missed surfaces as a panic from New.
	if allPassed {
		if err := acceptedByManager(config.Config); err != nil {
			check(false, fmt.Sprintf("Configuration accepted: %v", err))
		} else {
			check(true, "Configuration accepted")
		}
	}

	return &config, allPassed
}

func driverName(name string) string {
	if name == "" {
		return "pgx"
	}
	return name
}

func knownCategory(c pgmanager.Category) bool {
	for _, k := range pgmanager.Categories() {
		if c == k {
			return true
		}
	}
	return false
}

// acceptedByManager builds a Manager without connecting and converts a
// configuration panic into an error.
func acceptedByManager(config pgmanager.Config) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	pgmanager.New(config, zerolog.Nop())
	return nil
}

// printCheck prints a colored ✓ or ✗ check line.
func printCheck(w io.Writer, useColor bool, pass bool, msg string) {
	mark, color := "✓", "\033[32m"
	if !pass {
		mark, color = "✗", "\033[31m"
	}
	if useColor {
		fmt.Fprintf(w, "  %s%s\033[0m %s\n", color, mark, msg)
		return
	}
	fmt.Fprintf(w, "  %s %s\n", mark, msg)
}

// agentSnippet is the config an MCP client needs to reach the server. The
// body is a format string taking the endpoint URL.
type agentSnippet struct {
	title string
	body  string
}

var agentSnippets = []agentSnippet{
	{"Claude Code (.mcp.json, or: claude mcp add --transport http postgres URL)", `{
  "mcpServers": {
    "postgres": {
      "type": "http",
      "url": "%s"
    }
  }
}`},
	{"Copilot CLI (~/.copilot/mcp-config.json)", `{
  "mcpServers": {
    "postgres": {
      "type": "http",
      "url": "%s"
    }
  }
}`},
	{"Gemini CLI (~/.gemini/settings.json)", `{
  "mcpServers": {
    "postgres": {
      "httpUrl": "%s"
    }
  }
}`},
	{"OpenCode (opencode.json)", `{
  "mcp": {
    "postgres": {
      "type": "remote",
      "url": "%s"
    }
  }
}`},
	{"Cursor (.cursor/mcp.json)", `{
  "mcpServers": {
    "postgres": {
      "url": "%s"
    }
  }
}`},
	{"Windsurf (~/.codeium/windsurf/mcp_config.json)", `{
  "mcpServers": {
    "postgres": {
      "serverUrl": "%s"
    }
  }
}`},
}

// printAgentSnippets prints MCP connection config snippets for various AI agents.
func printAgentSnippets(w io.Writer, useColor bool, config *pgmanager.ServerConfig) {
	url := fmt.Sprintf("http://localhost:%d/mcp", config.Server.Port)

	if useColor {
		fmt.Fprintf(w, "\033[1;36m%s\033[0m\n\n", "Agent Connection Snippets")
	} else {
		fmt.Fprintf(w, "%s\n\n", "Agent Connection Snippets")
	}

	for _, s := range agentSnippets {
		if useColor {
			fmt.Fprintf(w, "  \033[1m%s\033[0m\n\n", s.title)
		} else {
			fmt.Fprintf(w, "  %s\n\n", s.title)
		}
		body := fmt.Sprintf(s.body, url)
		for _, line := range strings.Split(body, "\n") {
			fmt.Fprintf(w, "    %s\n", line)
		}
		fmt.Fprintln(w)
	}
}
