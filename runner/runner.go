// Package runner defines the query runner abstraction: one polymorphic
// contract that every backend adapter (relational engine, search engine,
// embedded database) implements, plus the process-wide registry mapping
// backend type names to runner constructors.
//
// A runner takes the query text verbatim, executes it against its backend,
// and returns normalized tabular data: a column list using the canonical
// type vocabulary and rows as ordered name->value mappings. Failures are
// classified with the sentinel errors in the errors package
// (ErrConfiguration, ErrConnection, ErrExecution, ErrUnsupportedQuery,
// ErrCancelled) so callers can branch with errors.Is.
package runner

import (
	"context"
	"strconv"

	"github.com/redbeam/redbeam/types"
)

// DefaultMaxRows bounds paginated runners when the caller supplies no ceiling.
const DefaultMaxRows = 100000

// RunOptions carries caller-side execution constraints into a runner.
type RunOptions struct {
	// MaxRows is the overall row-count ceiling for paginated or chunked
	// execution. Runners aggregating multiple pages must stop at this
	// bound, never iterating unboundedly. Zero means DefaultMaxRows.
	MaxRows int
}

// RowLimit resolves the effective row ceiling.
func (o RunOptions) RowLimit() int {
	if o.MaxRows > 0 {
		return o.MaxRows
	}
	return DefaultMaxRows
}

// ResultData is the normalized tabular outcome of one query execution.
// Row order preserves backend order; column order preserves the backend's
// column order (first-seen order for document backends).
type ResultData struct {
	Columns []types.Column `json:"columns"`
	Rows    []types.Row    `json:"rows"`
}

// QueryRunner is the contract every backend adapter implements.
//
// Run must release every connection and network resource on all exit
// paths, including cancellation, and must honor ctx at its natural
// checkpoints (between pages for chunked backends, via driver context
// support for single-call backends).
type QueryRunner interface {
	// Type returns the backend type name this runner registers under.
	Type() string

	// Enabled reports whether the runner is usable. A disabled runner is
	// excluded from the registry's available-type listing but remains
	// constructible; callers must check Enabled before Run.
	Enabled() bool

	// AnnotateQuery reports whether descriptive comments may be prepended
	// to the query text without breaking execution.
	AnnotateQuery() bool

	// Run executes the query text verbatim and returns normalized data
	// or a classified error.
	Run(ctx context.Context, query string, opts RunOptions) (*ResultData, error)
}

// FetchColumns normalizes a backend column list: duplicate names get a
// numeric suffix so every column name is unique, and unmapped types
// degrade to the generic string type.
func FetchColumns(cols []types.Column) []types.Column {
	seen := make(map[string]int, len(cols))
	out := make([]types.Column, 0, len(cols))

	for _, c := range cols {
		name := c.Name
		if n, dup := seen[name]; dup {
			name = name + strconv.Itoa(n)
		}
		seen[c.Name] = seen[c.Name] + 1

		col := types.NewColumn(name, c.Type)
		if c.FriendlyName != "" {
			col.FriendlyName = c.FriendlyName
		}
		out = append(out, col)
	}
	return out
}
