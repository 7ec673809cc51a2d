package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rbtest "github.com/redbeam/redbeam/internal/testing"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()

	conn := rbtest.CreateTestDB(t)
	_, err := conn.Exec(`
		INSERT INTO data_sources (id, name, type, options, created_at, updated_at)
		VALUES (1, 'fixture', 'fake', '{}', ?, ?)`, time.Now(), time.Now())
	require.NoError(t, err)

	return NewQueue(conn)
}

func enqueueTask(t *testing.T, q *Queue, text string) *Task {
	t.Helper()
	task, err := NewTask(text, 1, nil)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(task))
	return task
}

func TestDequeueOldestFirst(t *testing.T) {
	q := newTestQueue(t)

	first := enqueueTask(t, q, "SELECT 1")
	// Distinct created_at so ordering is deterministic.
	first.CreatedAt = first.CreatedAt.Add(-time.Second)
	_, err := q.store.db.Exec(`UPDATE execution_tasks SET created_at = ? WHERE id = ?`, first.CreatedAt, first.ID)
	require.NoError(t, err)
	enqueueTask(t, q, "SELECT 2")

	got, err := q.Dequeue()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, StatusRunning, got.Status)
	require.NotNil(t, got.StartedAt)
}

func TestDequeueEmptyReturnsNil(t *testing.T) {
	q := newTestQueue(t)

	got, err := q.Dequeue()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCancelIfCreatedSkipsRunningTask(t *testing.T) {
	q := newTestQueue(t)
	task := enqueueTask(t, q, "SELECT 1")

	running, err := q.Dequeue()
	require.NoError(t, err)
	require.Equal(t, task.ID, running.ID)

	done, err := q.CancelIfCreated(task.ID, "cancelled by caller")
	require.NoError(t, err)
	assert.False(t, done, "a running task must not be cancelled in place")
}

func TestHasActive(t *testing.T) {
	q := newTestQueue(t)
	task := enqueueTask(t, q, "SELECT 1")

	active, err := q.HasActive(task.QueryHash, 1)
	require.NoError(t, err)
	assert.True(t, active)

	running, err := q.Dequeue()
	require.NoError(t, err)
	running.Cancel("cancelled by caller")
	require.NoError(t, q.Update(running))

	active, err = q.HasActive(task.QueryHash, 1)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestCleanupRemovesOldTerminalTasks(t *testing.T) {
	q := newTestQueue(t)
	task := enqueueTask(t, q, "SELECT 1")

	running, err := q.Dequeue()
	require.NoError(t, err)
	running.Cancel("done with it")
	running.UpdatedAt = time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, q.Update(running))

	removed, err := q.Cleanup(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = q.Get(task.ID)
	require.Error(t, err)
}
