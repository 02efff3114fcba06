package pgmanager

import "github.com/rickchristie/postgres-manager/internal/protection"

// Category is a statement category the gate validates against.
type Category string

const (
	CategoryInsert       Category = protection.Insert
	CategoryCreate       Category = protection.Create
	CategorySelect       Category = protection.Select
	CategoryUpdate       Category = protection.Update
	CategoryDelete       Category = protection.Delete
	CategoryTruncate     Category = protection.Truncate
	CategoryAlter        Category = protection.Alter
	CategoryDropTable    Category = protection.DropTable
	CategoryDropDatabase Category = protection.DropDatabase
)

// Categories returns every known category in scan order.
func Categories() []Category {
	out := make([]Category, len(protection.Keywords))
	for i, k := range protection.Keywords {
		out[i] = Category(k)
	}
	return out
}

// Mode restricts the gate to the basic categories (INSERT, CREATE, SELECT)
// or unlocks all of them.
type Mode string

const (
	ModeBasic    Mode = Mode(protection.ModeBasic)
	ModeAdvanced Mode = Mode(protection.ModeAdvanced)
)

// Status is the outcome of an operation.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusSkipped   Status = "skipped" // nothing to do
	StatusFailed    Status = "failed"
)

// StatementInput is one category-tagged statement. SQL is untyped because
// statements arrive from decoded JSON; anything but a string is rejected.
type StatementInput struct {
	SQL      interface{} `json:"sql"`
	Category Category    `json:"category"`
	// Fetch returns the result rows. Always true for SELECT.
	Fetch bool `json:"fetch,omitempty"`
}

// StatementOutput is the result of Execute. All failures (validation,
// not connected, server errors) are placed in Err and Error; callers only
// need to check Status.
type StatementOutput struct {
	Status       Status          `json:"status"`
	Category     Category        `json:"category"`
	Columns      []string        `json:"columns,omitempty"`
	Rows         [][]interface{} `json:"rows,omitempty"`
	RowsAffected int64           `json:"rows_affected"`
	Err          error           `json:"-"`
	Error        string          `json:"error,omitempty"`
}

// LifecycleOutput is the result of Connect, Commit, Rollback and
// Disconnect. Message explains a skipped outcome.
type LifecycleOutput struct {
	Status   Status `json:"status"`
	Attempts int    `json:"attempts,omitempty"`
	Message  string `json:"message,omitempty"`
	Err      error  `json:"-"`
	Error    string `json:"error,omitempty"`
}

// BatchOutput is the result of RunBatch.
type BatchOutput struct {
	Status     Status             `json:"status"`
	Statements []*StatementOutput `json:"statements"`
	Committed  bool               `json:"committed"`
	Message    string             `json:"message,omitempty"`
	Err        error              `json:"-"`
	Error      string             `json:"error,omitempty"`
}

// OK reports whether the operation succeeded or had nothing to do.
func (o *StatementOutput) OK() bool { return o.Status != StatusFailed }

// OK reports whether the operation succeeded or had nothing to do.
func (o *LifecycleOutput) OK() bool { return o.Status != StatusFailed }

// OK reports whether the operation succeeded or had nothing to do.
func (o *BatchOutput) OK() bool { return o.Status != StatusFailed }
