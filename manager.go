package pgmanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rickchristie/postgres-manager/driver"
	"github.com/rickchristie/postgres-manager/internal/errprompt"
	"github.com/rickchristie/postgres-manager/internal/pgxdriver"
	"github.com/rickchristie/postgres-manager/internal/pqdriver"
	"github.com/rickchristie/postgres-manager/internal/protection"
	"github.com/rickchristie/postgres-manager/internal/sanitize"
	"github.com/rickchristie/postgres-manager/internal/timeout"
)

// Manager composes a Supervisor and a Gate over one session. Unlike those
// two, its methods are safe for concurrent use: calls are serialized.
type Manager struct {
	mu         sync.Mutex
	config     Config
	supervisor *Supervisor
	gate       *Gate
	hints      *errprompt.Matcher
	logger     zerolog.Logger
}

// Option is a functional option for New().
type Option func(*options)

type options struct {
	driver driver.Driver
	sleep  SleepFunc
}

// WithDriver replaces the driver selected by Config.Driver.
func WithDriver(d driver.Driver) Option {
	return func(o *options) {
		o.driver = d
	}
}

// WithSleep replaces the pause used between connection attempts.
func WithSleep(sleep SleepFunc) Option {
	return func(o *options) {
		o.sleep = sleep
	}
}

// New creates a Manager. No connection is made until Connect.
// Panics on invalid config; logger is the sink for all diagnostics.
func New(config Config, logger zerolog.Logger, opts ...Option) *Manager {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	// --- Config validation (panics on invalid config) ---

	if config.Retry.MaxAttempts < 0 {
		panic("pgmanager: retry.max_attempts must be >= 0")
	}
	interval := DefaultRetryInterval
	if config.Retry.Interval != "" {
		d, err := time.ParseDuration(config.Retry.Interval)
		if err != nil {
			panic(fmt.Sprintf("pgmanager: invalid retry.interval %q: %v", config.Retry.Interval, err))
		}
		if d < 0 {
			panic("pgmanager: retry.interval must be >= 0")
		}
		interval = d
	}
	switch config.Gate.Mode {
	case "":
		config.Gate.Mode = ModeBasic
	case ModeBasic, ModeAdvanced:
	default:
		panic(fmt.Sprintf("pgmanager: gate.mode must be %q or %q, got %q", ModeBasic, ModeAdvanced, config.Gate.Mode))
	}
	if config.PreviewRows < 0 {
		panic("pgmanager: preview_rows must be >= 0")
	}
	if config.PreviewRows == 0 {
		config.PreviewRows = DefaultPreviewRows
	}
	if config.Timeouts.DefaultSeconds < 0 {
		panic("pgmanager: timeouts.default_seconds must be >= 0")
	}
	for _, rule := range config.Timeouts.Rules {
		if rule.TimeoutSeconds <= 0 {
			panic(fmt.Sprintf("pgmanager: timeout rule (category %q, pattern %q) has timeout_seconds <= 0", rule.Category, rule.Pattern))
		}
		if rule.Category != "" && !protection.IsCategory(string(rule.Category)) {
			panic(fmt.Sprintf("pgmanager: timeout rule has unknown category %q", rule.Category))
		}
	}

	drv := o.driver
	if drv == nil {
		switch config.Driver {
		case "", pgxdriver.Name:
			drv = pgxdriver.New()
		case pqdriver.Name:
			drv = pqdriver.New()
		default:
			panic(fmt.Sprintf("pgmanager: unknown driver %q (want %q or %q)", config.Driver, pgxdriver.Name, pqdriver.Name))
		}
	}

	// --- Initialize internal components ---

	timeoutRules := make([]timeout.Rule, len(config.Timeouts.Rules))
	for i, r := range config.Timeouts.Rules {
		timeoutRules[i] = timeout.Rule{
			Category: string(r.Category),
			Pattern:  r.Pattern,
			Timeout:  time.Duration(r.TimeoutSeconds) * time.Second,
		}
	}
	tmgr, err := timeout.NewManager(timeout.Config{
		DefaultTimeout: time.Duration(config.Timeouts.DefaultSeconds) * time.Second,
		Rules:          timeoutRules,
	})
	if err != nil {
		panic(fmt.Sprintf("pgmanager: %v", err))
	}
	san, err := sanitize.NewSanitizer(mapSanitizationRules(config.Sanitization))
	if err != nil {
		panic(fmt.Sprintf("pgmanager: %v", err))
	}
	hints, err := errprompt.NewMatcher(mapErrorHintRules(config.ErrorHints))
	if err != nil {
		panic(fmt.Sprintf("pgmanager: %v", err))
	}

	supervisor := NewSupervisor(config.Connection, drv, config.Retry.MaxAttempts, interval, config.Retry.StopOnPermanent, o.sleep, logger)
	gate := &Gate{
		supervisor: supervisor,
		checker: protection.NewChecker(protection.Config{
			Mode:   protection.Mode(config.Gate.Mode),
			Strict: config.Gate.Strict,
		}),
		timeouts:    tmgr,
		sanitizer:   san,
		verbose:     config.Verbose,
		previewRows: config.PreviewRows,
		logger:      supervisor.logger,
	}

	return &Manager{
		config:     config,
		supervisor: supervisor,
		gate:       gate,
		hints:      hints,
		logger:     logger,
	}
}

// Connect opens the session. See Supervisor.Connect.
func (m *Manager) Connect(ctx context.Context) *LifecycleOutput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hintLifecycle(m.supervisor.Connect(ctx))
}

// Commit commits pending work. See Supervisor.Commit.
func (m *Manager) Commit(ctx context.Context) *LifecycleOutput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hintLifecycle(m.supervisor.Commit(ctx))
}

// Rollback discards pending work. See Supervisor.Rollback.
func (m *Manager) Rollback(ctx context.Context) *LifecycleOutput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hintLifecycle(m.supervisor.Rollback(ctx))
}

// Disconnect closes the session. See Supervisor.Disconnect.
func (m *Manager) Disconnect(ctx context.Context) *LifecycleOutput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hintLifecycle(m.supervisor.Disconnect(ctx))
}

// Connected reports whether a session is open.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.supervisor.Connected()
}

// Validate checks a statement without executing it. See Gate.Validate.
func (m *Manager) Validate(sql interface{}, category Category) error {
	return m.gate.Validate(sql, category)
}

// Execute validates and runs one statement. See Gate.Execute.
func (m *Manager) Execute(ctx context.Context, input StatementInput) *StatementOutput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hintStatement(m.gate.Execute(ctx, input))
}

// Mode returns the gate mode in effect.
func (m *Manager) Mode() Mode {
	return m.config.Gate.Mode
}

// hintLifecycle appends matching error hints to a failed output's Error.
func (m *Manager) hintLifecycle(out *LifecycleOutput) *LifecycleOutput {
	if out.Err != nil {
		out.Error = m.withHints(out.Err)
	}
	return out
}

func (m *Manager) hintStatement(out *StatementOutput) *StatementOutput {
	if out.Err != nil {
		out.Error = m.withHints(out.Err)
	}
	return out
}

func (m *Manager) withHints(err error) string {
	errMsg := err.Error()
	code := driver.SQLState(err)
	prompt := m.hints.Match(errMsg, code)
	if prompt == "" {
		return errMsg
	}
	m.logger.Debug().Strs("error_hints", m.hints.MatchedRules(errMsg, code)).Msg("error hints matched")
	return errMsg + "\n\n" + prompt
}

// mapSanitizationRules converts pgmanager SanitizationRules to internal sanitize.Rules.
func mapSanitizationRules(rules []SanitizationRule) []sanitize.Rule {
	result := make([]sanitize.Rule, len(rules))
	for i, r := range rules {
		result[i] = sanitize.Rule{
			Pattern:     r.Pattern,
			Replacement: r.Replacement,
		}
	}
	return result
}

// mapErrorHintRules converts pgmanager ErrorHintRules to internal errprompt.Rules.
func mapErrorHintRules(rules []ErrorHintRule) []errprompt.Rule {
	result := make([]errprompt.Rule, len(rules))
	for i, r := range rules {
		result[i] = errprompt.Rule{
			Pattern: r.Pattern,
			Code:    r.Code,
			Message: r.Message,
		}
	}
	return result
}
