// Package sqlite implements the embedded relational query runner for
// SQLite database files.
package sqlite

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/redbeam/redbeam/errors"
	"github.com/redbeam/redbeam/runner"
	"github.com/redbeam/redbeam/types"
)

// TypeName is the backend type identifier this runner registers under.
const TypeName = "sqlite"

// typesMapping translates SQLite declared column types to the canonical
// types. SQLite typing is by affinity, so matching is done on the
// upper-cased declared type; expressions with no declared type degrade
// to string.
var typesMapping = map[string]types.ColumnType{
	"INT":      types.TypeInteger,
	"INTEGER":  types.TypeInteger,
	"BIGINT":   types.TypeInteger,
	"REAL":     types.TypeFloat,
	"FLOAT":    types.TypeFloat,
	"DOUBLE":   types.TypeFloat,
	"NUMERIC":  types.TypeFloat,
	"BOOLEAN":  types.TypeBoolean,
	"TEXT":     types.TypeString,
	"VARCHAR":  types.TypeString,
	"DATE":     types.TypeDate,
	"DATETIME": types.TypeDatetime,
}

func schema() runner.Schema {
	return runner.Schema{
		"dbpath": {Type: runner.FieldString, Title: "Database Path", Required: true},
	}
}

// Runner executes queries against one SQLite database file.
type Runner struct {
	path string
}

// New validates cfg and builds a runner.
func New(cfg runner.Configuration) (runner.QueryRunner, error) {
	s := schema()
	if err := s.Validate(cfg); err != nil {
		return nil, errors.Wrap(err, "sqlite runner")
	}
	return &Runner{path: s.GetString(cfg, "dbpath", "")}, nil
}

func (r *Runner) Type() string        { return TypeName }
func (r *Runner) Enabled() bool       { return true }
func (r *Runner) AnnotateQuery() bool { return true }

// Run opens the database file read-only for the duration of the query and
// closes it on every exit path.
func (r *Runner) Run(ctx context.Context, query string, opts runner.RunOptions) (*runner.ResultData, error) {
	db, err := sql.Open("sqlite3", "file:"+r.path+"?mode=ro")
	if err != nil {
		return nil, errors.Wrap(errors.ErrConnection, err.Error())
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(errors.ErrCancelled, err.Error())
		}
		return nil, errors.Wrap(errors.ErrExecution, err.Error())
	}
	defer rows.Close()

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, errors.Wrap(errors.ErrExecution, err.Error())
	}

	columns := make([]types.Column, 0, len(colTypes))
	for _, ct := range colTypes {
		columns = append(columns, types.Column{
			Name: ct.Name(),
			Type: mapDeclaredType(ct.DatabaseTypeName()),
		})
	}
	columns = runner.FetchColumns(columns)

	data := &runner.ResultData{Columns: columns, Rows: []types.Row{}}
	values := make([]interface{}, len(columns))
	targets := make([]interface{}, len(columns))
	for i := range values {
		targets[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(targets...); err != nil {
			return nil, errors.Wrap(errors.ErrExecution, err.Error())
		}
		row := make(types.Row, len(columns))
		for i, col := range columns {
			row[col.Name] = types.FormatValue(values[i], col.Type)
		}
		data.Rows = append(data.Rows, row)
	}
	if err := rows.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(errors.ErrCancelled, err.Error())
		}
		return nil, errors.Wrap(errors.ErrExecution, err.Error())
	}

	return data, nil
}

func mapDeclaredType(decl string) types.ColumnType {
	return typesMapping[strings.ToUpper(decl)]
}

func init() {
	runner.Register(runner.Registration{
		Name:   TypeName,
		New:    New,
		Schema: schema,
	})
}
