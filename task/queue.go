package task

import (
	"database/sql"
	"sync"
	"time"

	"github.com/redbeam/redbeam/errors"
)

// Queue serializes task state transitions over the store. Dequeue is the
// only operation that races between workers, so every transition goes
// through one mutex.
type Queue struct {
	store *Store
	mu    sync.Mutex
}

// NewQueue creates a new task queue.
func NewQueue(db *sql.DB) *Queue {
	return &Queue{store: NewStore(db)}
}

// Enqueue adds a new task in the Created state.
func (q *Queue) Enqueue(t *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.CreateTask(t); err != nil {
		return errors.Wrapf(err, "failed to enqueue task %s", t.ID)
	}
	return nil
}

// Dequeue picks up the oldest Created task and marks it Running.
// Returns nil when no work is waiting.
func (q *Queue) Dequeue() (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, err := q.store.OldestCreated()
	if err != nil || t == nil {
		return nil, err
	}

	t.Start()
	if err := q.store.UpdateTask(t); err != nil {
		return nil, errors.Wrapf(err, "failed to mark task %s as running", t.ID)
	}
	return t, nil
}

// Get retrieves a task by handle.
func (q *Queue) Get(id string) (*Task, error) {
	return q.store.GetTask(id)
}

// Update persists a task's state.
func (q *Queue) Update(t *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.store.UpdateTask(t)
}

// CancelIfCreated transitions a task to Cancelled only while it is still
// waiting; a task a worker has already picked up is untouched. Returns
// true when the transition happened.
func (q *Queue) CancelIfCreated(id, reason string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.store.MarkCancelledIfCreated(id, reason)
}

// HasActive reports whether any non-terminal task exists for the pair.
func (q *Queue) HasActive(queryHash string, dataSourceID int64) (bool, error) {
	count, err := q.store.CountActive(queryHash, dataSourceID)
	return count > 0, err
}

// Cleanup removes terminal tasks older than the retention window.
func (q *Queue) Cleanup(olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.store.CleanupOldTasks(olderThan)
}
