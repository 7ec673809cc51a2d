// Package postgres implements the relational query runner for PostgreSQL,
// built on the pgx stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/redbeam/redbeam/errors"
	"github.com/redbeam/redbeam/runner"
	"github.com/redbeam/redbeam/types"
)

// TypeName is the backend type identifier this runner registers under.
const TypeName = "pg"

// typesMapping translates PostgreSQL wire type names (as reported by
// database/sql ColumnType.DatabaseTypeName) to the canonical types.
// Unmapped names degrade to string.
var typesMapping = map[string]types.ColumnType{
	"INT2":        types.TypeInteger,
	"INT4":        types.TypeInteger,
	"INT8":        types.TypeInteger,
	"FLOAT4":      types.TypeFloat,
	"FLOAT8":      types.TypeFloat,
	"NUMERIC":     types.TypeFloat,
	"BOOL":        types.TypeBoolean,
	"TEXT":        types.TypeString,
	"VARCHAR":     types.TypeString,
	"BPCHAR":      types.TypeString,
	"DATE":        types.TypeDate,
	"TIMESTAMP":   types.TypeDatetime,
	"TIMESTAMPTZ": types.TypeDatetime,
}

func schema() runner.Schema {
	return runner.Schema{
		"host":     {Type: runner.FieldString, Default: "127.0.0.1"},
		"port":     {Type: runner.FieldNumber, Default: 5432},
		"user":     {Type: runner.FieldString},
		"password": {Type: runner.FieldString, Secret: true},
		"dbname":   {Type: runner.FieldString, Title: "Database Name", Required: true},
		"sslmode":  {Type: runner.FieldString, Title: "SSL Mode", Default: "prefer"},
	}
}

// Runner executes queries against one configured PostgreSQL database.
type Runner struct {
	cfg runner.Configuration

	// openDB is swapped out in tests to execute against a mock driver.
	openDB func(ctx context.Context) (*sql.DB, error)
}

// New validates cfg against the schema and builds a runner.
func New(cfg runner.Configuration) (runner.QueryRunner, error) {
	s := schema()
	if err := s.Validate(cfg); err != nil {
		return nil, errors.Wrap(err, "pg runner")
	}

	r := &Runner{cfg: cfg}
	r.openDB = func(ctx context.Context) (*sql.DB, error) {
		return sql.Open("pgx", r.dsn())
	}
	return r, nil
}

func (r *Runner) Type() string        { return TypeName }
func (r *Runner) Enabled() bool       { return true }
func (r *Runner) AnnotateQuery() bool { return true }

func (r *Runner) dsn() string {
	s := schema()
	host := s.GetString(r.cfg, "host", "127.0.0.1")
	port := s.GetInt(r.cfg, "port", 5432)
	user := s.GetString(r.cfg, "user", "")
	password := s.GetString(r.cfg, "password", "")
	dbname := s.GetString(r.cfg, "dbname", "")
	sslmode := s.GetString(r.cfg, "sslmode", "prefer")

	var b strings.Builder
	b.WriteString("postgres://")
	if user != "" {
		b.WriteString(url.UserPassword(user, password).String())
		b.WriteString("@")
	}
	fmt.Fprintf(&b, "%s:%d/%s?sslmode=%s", host, port, url.PathEscape(dbname), sslmode)
	return b.String()
}

// Run executes the query and normalizes the result set. The connection is
// released on every exit path; ctx cancellation propagates through the
// driver and is reported as ErrCancelled.
func (r *Runner) Run(ctx context.Context, query string, opts runner.RunOptions) (*runner.ResultData, error) {
	db, err := r.openDB(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrConnection, err.Error())
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return nil, classify(ctx, errors.ErrConnection, err)
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, classify(ctx, errors.ErrExecution, err)
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
			Type: typesMapping[ct.DatabaseTypeName()],
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
		return nil, classify(ctx, errors.ErrExecution, err)
	}

	return data, nil
}

// classify maps a driver error to the taxonomy, preferring ErrCancelled
// when the context is done (deadline or caller cancellation).
func classify(ctx context.Context, sentinel error, err error) error {
	if ctx.Err() != nil {
		return errors.Wrap(errors.ErrCancelled, err.Error())
	}
	return errors.Wrap(sentinel, err.Error())
}

func init() {
	runner.Register(runner.Registration{
		Name:   TypeName,
		New:    New,
		Schema: schema,
	})
}
