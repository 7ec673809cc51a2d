package task

import (
	"database/sql"
	"time"

	"github.com/redbeam/redbeam/errors"
)

const selectColumns = `id, data_source_id, query_text, query_hash, status,
	metadata, error, result_id, created_at, started_at, completed_at, updated_at`

// Store handles persistence of execution tasks.
type Store struct {
	db *sql.DB
}

// NewStore creates a new task store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateTask inserts a new task.
func (s *Store) CreateTask(t *Task) error {
	metadata := "{}"
	if len(t.Metadata) > 0 {
		metadata = string(t.Metadata)
	}

	_, err := s.db.Exec(`
		INSERT INTO execution_tasks (
			id, data_source_id, query_text, query_hash, status,
			metadata, error, result_id, created_at, started_at, completed_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.DataSourceID, t.QueryText, t.QueryHash, t.Status,
		metadata, t.Error, t.ResultID, t.CreatedAt, t.StartedAt, t.CompletedAt, t.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create task")
	}
	return nil
}

// GetTask retrieves a task by handle.
func (s *Store) GetTask(id string) (*Task, error) {
	row := s.db.QueryRow(`SELECT `+selectColumns+` FROM execution_tasks WHERE id = ?`, id)

	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("task %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get task")
	}
	return t, nil
}

// UpdateTask updates an existing task's state.
func (s *Store) UpdateTask(t *Task) error {
	_, err := s.db.Exec(`
		UPDATE execution_tasks
		SET status = ?, error = ?, result_id = ?,
		    started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ?`,
		t.Status, t.Error, t.ResultID,
		t.StartedAt, t.CompletedAt, t.UpdatedAt, t.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update task")
	}
	return nil
}

// OldestCreated returns the oldest task still in the Created state, or
// nil when none is waiting.
func (s *Store) OldestCreated() (*Task, error) {
	row := s.db.QueryRow(`
		SELECT ` + selectColumns + `
		FROM execution_tasks
		WHERE status = 'created'
		ORDER BY created_at ASC
		LIMIT 1`)

	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get next created task")
	}
	return t, nil
}

// MarkCancelledIfCreated transitions a task to Cancelled only if it is
// still in the Created state. Returns true when the transition happened.
func (s *Store) MarkCancelledIfCreated(id, reason string) (bool, error) {
	now := time.Now().UTC()
	result, err := s.db.Exec(`
		UPDATE execution_tasks
		SET status = 'cancelled', error = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'created'`,
		reason, now, now, id,
	)
	if err != nil {
		return false, errors.Wrap(err, "failed to cancel created task")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return affected > 0, nil
}

// ListByStatus returns tasks in the given state, newest first.
func (s *Store) ListByStatus(status Status, limit int) ([]*Task, error) {
	rows, err := s.db.Query(`
		SELECT `+selectColumns+`
		FROM execution_tasks
		WHERE status = ?
		ORDER BY created_at DESC
		LIMIT ?`, status, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tasks")
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan task")
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating tasks")
	}
	return tasks, nil
}

// CountActive returns the number of non-terminal tasks for one
// (query hash, data source) pair. The scheduler uses this to skip
// groups that already have an execution in flight.
func (s *Store) CountActive(queryHash string, dataSourceID int64) (int, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*)
		FROM execution_tasks
		WHERE query_hash = ? AND data_source_id = ?
		  AND status IN ('created', 'running')`,
		queryHash, dataSourceID,
	).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count active tasks")
	}
	return count, nil
}

// CleanupOldTasks removes terminal tasks older than the given age, so
// handles expire instead of accumulating forever.
func (s *Store) CleanupOldTasks(olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	result, err := s.db.Exec(`
		DELETE FROM execution_tasks
		WHERE status IN ('succeeded', 'failed', 'cancelled')
		  AND updated_at < ?`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old tasks")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(rows), nil
}

func scanTask(row interface{ Scan(...interface{}) error }) (*Task, error) {
	var t Task
	var metadata string
	var errMsg string
	var resultID sql.NullInt64
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&t.ID, &t.DataSourceID, &t.QueryText, &t.QueryHash, &t.Status,
		&metadata, &errMsg, &resultID, &t.CreatedAt, &startedAt, &completedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if metadata != "" && metadata != "{}" {
		t.Metadata = []byte(metadata)
	}
	t.Error = errMsg
	if resultID.Valid {
		t.ResultID = &resultID.Int64
	}
	if startedAt.Valid {
		t.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}
