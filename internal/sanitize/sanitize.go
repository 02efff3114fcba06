package sanitize

import (
	"fmt"
	"regexp"
)

// Rule is the sanitizer's own rule type.
type Rule struct {
	Pattern     string
	Replacement string
}

type compiledRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Sanitizer applies regex-based redaction to row values before they are
// written to logs.
type Sanitizer struct {
	rules []compiledRule
}

// NewSanitizer creates a new Sanitizer. Returns an error on invalid regex patterns.
func NewSanitizer(rules []Rule) (*Sanitizer, error) {
	compiled := make([]compiledRule, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("sanitize: invalid regex pattern %q: %v", r.Pattern, err)
		}
		compiled[i] = compiledRule{pattern: re, replacement: r.Replacement}
	}
	return &Sanitizer{rules: compiled}, nil
}

// HasRules returns true if the sanitizer has any rules configured.
func (s *Sanitizer) HasRules() bool {
	return len(s.rules) > 0
}

// SanitizeRows returns a sanitized copy of rows. The input is not modified,
// so callers can keep returning the original values.
// For JSON/array values (map[string]interface{}, []interface{}),
// recurses into primitive values.
func (s *Sanitizer) SanitizeRows(rows [][]interface{}) [][]interface{} {
	out := make([][]interface{}, len(rows))
	for i, row := range rows {
		copied := make([]interface{}, len(row))
		for j, v := range row {
			copied[j] = s.sanitizeValue(v)
		}
		out[i] = copied
	}
	return out
}

func (s *Sanitizer) sanitizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		result := val
		for _, rule := range s.rules {
			result = rule.pattern.ReplaceAllString(result, rule.replacement)
		}
		return result
	case map[string]interface{}:
		copied := make(map[string]interface{}, len(val))
		for k, item := range val {
			copied[k] = s.sanitizeValue(item)
		}
		return copied
	case []interface{}:
		copied := make([]interface{}, len(val))
		for i, item := range val {
			copied[i] = s.sanitizeValue(item)
		}
		return copied
	default:
		// Numeric, bool, nil, time.Time — return as-is.
		return v
	}
}
