package errprompt

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule is the error hint matcher's own rule type. A rule matches when its
// Code (if set) equals the error's SQLSTATE and its Pattern (if set)
// matches the error message. A rule with neither never matches.
type Rule struct {
	Pattern string
	Code    string
	Message string
}

type compiledRule struct {
	pattern *regexp.Regexp
	code    string
	message string
}

// Matcher checks error messages against rules and returns guidance hints.
type Matcher struct {
	rules []compiledRule
}

// NewMatcher creates a new Matcher. Returns an error on invalid regex patterns.
func NewMatcher(rules []Rule) (*Matcher, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		if r.Pattern == "" && r.Code == "" {
			continue
		}
		var re *regexp.Regexp
		if r.Pattern != "" {
			var err error
			re, err = regexp.Compile(r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("errprompt: invalid regex pattern %q: %v", r.Pattern, err)
			}
		}
		compiled = append(compiled, compiledRule{pattern: re, code: r.Code, message: r.Message})
	}
	return &Matcher{rules: compiled}, nil
}

// Match checks the error against all rules (top to bottom).
// Returns all matching hint messages joined with newline separators.
// Returns empty string if no match. code may be empty for non-server errors.
func (m *Matcher) Match(errMsg, code string) string {
	var matches []string
	for _, rule := range m.rules {
		if rule.matches(errMsg, code) {
			matches = append(matches, rule.message)
		}
	}
	return strings.Join(matches, "\n")
}

// MatchedRules returns a label for each rule that matched. Returns nil if
// no match.
func (m *Matcher) MatchedRules(errMsg, code string) []string {
	var labels []string
	for _, rule := range m.rules {
		if !rule.matches(errMsg, code) {
			continue
		}
		if rule.pattern != nil {
			labels = append(labels, rule.pattern.String())
		} else {
			labels = append(labels, "sqlstate:"+rule.code)
		}
	}
	return labels
}

func (r compiledRule) matches(errMsg, code string) bool {
	if r.code != "" && r.code != code {
		return false
	}
	if r.pattern != nil && !r.pattern.MatchString(errMsg) {
		return false
	}
	return true
}
