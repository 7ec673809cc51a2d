package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redbeam/redbeam/errors"
	"github.com/redbeam/redbeam/runner"
	"github.com/redbeam/redbeam/types"
)

func createFixtureDB(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fixture.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`
		CREATE TABLE metrics (
			id INTEGER PRIMARY KEY,
			label TEXT,
			value REAL,
			active BOOLEAN,
			observed_at DATETIME
		);
		INSERT INTO metrics VALUES (1, 'cpu', 0.75, 1, '2024-06-01T10:00:00Z');
		INSERT INTO metrics VALUES (2, 'mem', 0.5, 0, '2024-06-01T11:00:00Z');
	`)
	require.NoError(t, err)
	return path
}

func TestNewRequiresPath(t *testing.T) {
	_, err := New(runner.Configuration{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfiguration))
}

func TestRunReturnsNormalizedRows(t *testing.T) {
	path := createFixtureDB(t)
	r, err := New(runner.Configuration{"dbpath": path})
	require.NoError(t, err)

	data, err := r.Run(context.Background(), "SELECT id, label, value FROM metrics ORDER BY id", runner.RunOptions{})
	require.NoError(t, err)

	require.Len(t, data.Columns, 3)
	assert.Equal(t, types.TypeInteger, data.Columns[0].Type)
	assert.Equal(t, types.TypeString, data.Columns[1].Type)
	assert.Equal(t, types.TypeFloat, data.Columns[2].Type)

	require.Len(t, data.Rows, 2)
	assert.Equal(t, int64(1), data.Rows[0]["id"])
	assert.Equal(t, "cpu", data.Rows[0]["label"])
	assert.Equal(t, 0.75, data.Rows[0]["value"])
	// Backend row order is preserved.
	assert.Equal(t, "mem", data.Rows[1]["label"])
}

func TestRunExpressionColumnDegradesToString(t *testing.T) {
	path := createFixtureDB(t)
	r, err := New(runner.Configuration{"dbpath": path})
	require.NoError(t, err)

	data, err := r.Run(context.Background(), "SELECT label || '!' AS shout FROM metrics LIMIT 1", runner.RunOptions{})
	require.NoError(t, err)

	require.Len(t, data.Columns, 1)
	assert.Equal(t, types.TypeString, data.Columns[0].Type)
}

func TestRunSyntaxErrorIsExecutionError(t *testing.T) {
	path := createFixtureDB(t)
	r, err := New(runner.Configuration{"dbpath": path})
	require.NoError(t, err)

	_, err = r.Run(context.Background(), "SELEKT nope", runner.RunOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrExecution))
	assert.Contains(t, err.Error(), "syntax error")
}

func TestRunCancelledContext(t *testing.T) {
	path := createFixtureDB(t)
	r, err := New(runner.Configuration{"dbpath": path})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = r.Run(ctx, "SELECT * FROM metrics", runner.RunOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsCancelledError(err))
}
