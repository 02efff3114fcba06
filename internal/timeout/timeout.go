package timeout

import (
	"fmt"
	"regexp"
	"time"
)

// Rule is the timeout manager's own rule type. A rule matches when its
// Category (if set) equals the statement category and its Pattern (if set)
// matches the SQL.
type Rule struct {
	Category string
	Pattern  string
	Timeout  time.Duration
}

// Config is the timeout manager's own config type.
// A zero DefaultTimeout means statements without a matching rule run
// without a deadline.
type Config struct {
	DefaultTimeout time.Duration
	Rules          []Rule
}

type compiledRule struct {
	category string
	pattern  *regexp.Regexp
	timeout  time.Duration
	label    string
}

// Manager resolves statement timeouts by category and SQL pattern.
type Manager struct {
	rules          []compiledRule
	defaultTimeout time.Duration
}

// NewManager creates a new Manager. Returns an error on invalid regex patterns.
func NewManager(config Config) (*Manager, error) {
	compiled := make([]compiledRule, len(config.Rules))
	for i, r := range config.Rules {
		var re *regexp.Regexp
		if r.Pattern != "" {
			var err error
			re, err = regexp.Compile(r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("timeout: invalid regex pattern %q: %v", r.Pattern, err)
			}
		}
		compiled[i] = compiledRule{
			category: r.Category,
			pattern:  re,
			timeout:  r.Timeout,
			label:    ruleLabel(r),
		}
	}
	return &Manager{rules: compiled, defaultTimeout: config.DefaultTimeout}, nil
}

// GetTimeout returns the timeout for the given statement.
// First matching rule wins. Falls back to default.
func (m *Manager) GetTimeout(sql, category string) time.Duration {
	d, _ := m.GetTimeoutWithRule(sql, category)
	return d
}

// GetTimeoutWithRule is GetTimeout that also returns a label of the matched
// rule, or "" when the default applied.
func (m *Manager) GetTimeoutWithRule(sql, category string) (time.Duration, string) {
	for _, rule := range m.rules {
		if rule.category != "" && rule.category != category {
			continue
		}
		if rule.pattern != nil && !rule.pattern.MatchString(sql) {
			continue
		}
		return rule.timeout, rule.label
	}
	return m.defaultTimeout, ""
}

func ruleLabel(r Rule) string {
	switch {
	case r.Category != "" && r.Pattern != "":
		return r.Category + ":" + r.Pattern
	case r.Category != "":
		return r.Category
	default:
		return r.Pattern
	}
}
