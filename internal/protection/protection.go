package protection

import (
	"fmt"
	"strings"
)

// Statement categories. The string value is also the keyword scanned for.
const (
	Insert       = "INSERT"
	Create       = "CREATE"
	Select       = "SELECT"
	Update       = "UPDATE"
	Delete       = "DELETE"
	Truncate     = "TRUNCATE"
	Alter        = "ALTER"
	DropTable    = "DROP TABLE"
	DropDatabase = "DROP DATABASE"
)

// Keywords is the fixed statement vocabulary, in scan order.
var Keywords = []string{Insert, Create, Select, Update, Delete, Truncate, Alter, DropTable, DropDatabase}

// BasicCategories are the only categories accepted in basic mode.
var BasicCategories = []string{Insert, Create, Select}

// primaryPhrases are the phrases a statement of each category must contain
// under strict checking.
var primaryPhrases = map[string]string{
	Insert:       "INSERT INTO",
	Create:       "CREATE TABLE",
	Select:       "SELECT",
	Update:       "UPDATE",
	Delete:       "DELETE FROM",
	Truncate:     "TRUNCATE",
	Alter:        "ALTER TABLE",
	DropTable:    "DROP TABLE",
	DropDatabase: "DROP DATABASE",
}

// Mode selects how many categories the checker accepts.
type Mode string

const (
	ModeBasic    Mode = "basic"
	ModeAdvanced Mode = "advanced"
)

// Reason identifies why a statement was rejected.
type Reason string

const (
	ReasonNotAString          Reason = "not_a_string"
	ReasonUnknownCategory     Reason = "unknown_category"
	ReasonCategoryNotAllowed  Reason = "category_not_allowed_in_basic_mode"
	ReasonMixedStatementTypes Reason = "mixed_statement_types"
	ReasonMissingKeyword      Reason = "missing_keyword"
)

// Config is the protection checker's own config type.
type Config struct {
	Mode   Mode
	Strict bool
}

// Violation describes a rejected statement. Keyword is set for the
// keyword-based reasons.
type Violation struct {
	Category string
	Reason   Reason
	Keyword  string
}

func (v *Violation) Error() string {
	switch v.Reason {
	case ReasonNotAString:
		return fmt.Sprintf("%s statement argument must be a string", v.Category)
	case ReasonUnknownCategory:
		return fmt.Sprintf("unknown statement category %q", v.Category)
	case ReasonCategoryNotAllowed:
		return fmt.Sprintf("%s statements are not allowed in basic mode", v.Category)
	case ReasonMixedStatementTypes:
		return fmt.Sprintf("%s failed: %s not allowed to be used in same statement", v.Category, v.Keyword)
	case ReasonMissingKeyword:
		return fmt.Sprintf("%s failed: statement must contain %s", v.Category, v.Keyword)
	default:
		return fmt.Sprintf("%s failed: %s", v.Category, v.Reason)
	}
}

// Checker validates SQL text against a declared statement category.
// It is a lexical substring scan, not a parser: keywords inside string
// literals or identifiers (e.g. updated_at) are reported as well.
type Checker struct {
	config Config
}

// NewChecker creates a new Checker. Panics on an unknown mode.
func NewChecker(config Config) *Checker {
	switch config.Mode {
	case "":
		config.Mode = ModeBasic
	case ModeBasic, ModeAdvanced:
	default:
		panic(fmt.Sprintf("protection: unknown mode %q", config.Mode))
	}
	return &Checker{config: config}
}

// Mode returns the mode the checker runs in.
func (c *Checker) Mode() Mode {
	return c.config.Mode
}

// Check returns nil if sql may be executed as category, or a *Violation.
func (c *Checker) Check(sql interface{}, category string) error {
	text, ok := sql.(string)
	if !ok {
		return &Violation{Category: category, Reason: ReasonNotAString}
	}
	if !IsCategory(category) {
		return &Violation{Category: category, Reason: ReasonUnknownCategory}
	}
	if c.config.Mode == ModeBasic && !contains(BasicCategories, category) {
		return &Violation{Category: category, Reason: ReasonCategoryNotAllowed}
	}

	upper := strings.ToUpper(text)
	for _, keyword := range Keywords {
		if keyword != category && strings.Contains(upper, keyword) {
			return &Violation{Category: category, Reason: ReasonMixedStatementTypes, Keyword: keyword}
		}
	}

	if c.config.Strict {
		return checkStrict(upper, category)
	}
	return nil
}

// checkStrict requires the category's primary phrase. Foreign primary
// phrases never reach here: each one contains its own keyword, which the
// keyword scan has already rejected.
func checkStrict(upper, category string) error {
	required := primaryPhrases[category]
	if !strings.Contains(upper, required) {
		return &Violation{Category: category, Reason: ReasonMissingKeyword, Keyword: required}
	}
	return nil
}

// IsCategory reports whether s is a known statement category.
func IsCategory(s string) bool {
	return contains(Keywords, s)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
