package pgmanager

import (
	"fmt"
	"strings"
)

// Config is the base configuration used by library mode via New().
type Config struct {
	Connection   ConnectionConfig   `json:"connection"`
	Driver       string             `json:"driver"` // pgx (default) or pq
	Retry        RetryConfig        `json:"retry"`
	Gate         GateConfig         `json:"gate"`
	Timeouts     TimeoutConfig      `json:"timeouts"`
	ErrorHints   []ErrorHintRule    `json:"error_hints"`
	Sanitization []SanitizationRule `json:"sanitization"`

	// Verbose logs every statement and its row preview at info level
	// instead of debug.
	Verbose     bool `json:"verbose"`
	PreviewRows int  `json:"preview_rows"`
}

// ServerConfig embeds Config and adds CLI-only fields.
type ServerConfig struct {
	Config
	Server     ServerSettings   `json:"server"`
	Logging    LoggingConfig    `json:"logging"`
	Statements []StatementInput `json:"statements"`
}

// ConnectionConfig holds database connection parameters. It is supplied
// once and never mutated.
type ConnectionConfig struct {
	Database string `json:"database"`
	User     string `json:"user"`
	Password string `json:"password,omitempty"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	SSLMode  string `json:"sslmode"`
}

// RetryConfig bounds connection establishment.
type RetryConfig struct {
	MaxAttempts int    `json:"max_attempts"` // default 4
	Interval    string `json:"interval"`     // Go duration, default 2s
	// StopOnPermanent gives up on the first failure the driver classifies
	// as permanent (bad credentials, unknown database). Off by default:
	// every failure is retried.
	StopOnPermanent bool `json:"stop_on_permanent"`
}

// GateConfig controls which statement categories are accepted.
type GateConfig struct {
	Mode   Mode `json:"mode"`   // basic (default) or advanced
	Strict bool `json:"strict"` // require each category's primary phrase
}

// TimeoutConfig holds optional statement deadlines. Zero means statements
// block until the server responds.
type TimeoutConfig struct {
	DefaultSeconds int           `json:"default_seconds"`
	Rules          []TimeoutRule `json:"rules"`
}

// TimeoutRule maps a category and/or SQL pattern to a timeout.
type TimeoutRule struct {
	Category       Category `json:"category"`
	Pattern        string   `json:"pattern"`
	TimeoutSeconds int      `json:"timeout_seconds"`
}

// ErrorHintRule maps an error message pattern and/or SQLSTATE code to a
// guidance message appended to the error string.
type ErrorHintRule struct {
	Pattern string `json:"pattern"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SanitizationRule redacts matching row values in logged previews.
type SanitizationRule struct {
	Pattern     string `json:"pattern"`
	Replacement string `json:"replacement"`
	Description string `json:"description"`
}

// ServerSettings holds HTTP server settings for `gopgmgr serve`.
type ServerSettings struct {
	Port               int    `json:"port"`
	HealthCheckEnabled bool   `json:"health_check_enabled"`
	HealthCheckPath    string `json:"health_check_path"`
}

// LoggingConfig holds logging settings for CLI mode.
type LoggingConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // json, text
	Output     string `json:"output"`      // stdout, stderr, or file path
	MaxSizeMB  int    `json:"max_size_mb"` // rotate file output at this size
	MaxBackups int    `json:"max_backups"` // rotated files to keep
}

// ConnString renders the connection parameters as a libpq keyword/value
// string. Empty fields are omitted.
func (c ConnectionConfig) ConnString() string {
	parts := []string{}
	add := func(key, value string) {
		if value != "" {
			parts = append(parts, key+"="+quoteConnValue(value))
		}
	}
	add("host", c.Host)
	if c.Port > 0 {
		add("port", fmt.Sprintf("%d", c.Port))
	}
	add("dbname", c.Database)
	add("user", c.User)
	add("password", c.Password)
	add("sslmode", c.SSLMode)
	return strings.Join(parts, " ")
}

// quoteConnValue quotes values containing spaces, quotes or backslashes
// per libpq rules.
func quoteConnValue(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}
