// Package task provides asynchronous query execution with lifecycle
// tracking and cancellation. Work is submitted as a task, dispatched to
// a worker pool, executed through the matching query runner, and its
// result written to the result store under the query hash.
package task

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/redbeam/redbeam/errors"
	"github.com/redbeam/redbeam/query"
)

// Status represents the current state of an execution task.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsValidStatus returns true if the status string is a valid Status.
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusCreated, StatusRunning, StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status is final.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Task is one asynchronous unit of work: run a query against a data
// source and persist the result. Metadata is observability-only payload
// supplied by the submitter (the scheduler records the grouped query IDs
// there); it never affects execution or result storage.
type Task struct {
	ID           string          `json:"id"`
	DataSourceID int64           `json:"data_source_id"`
	QueryText    string          `json:"query"`
	QueryHash    string          `json:"query_hash"`
	Status       Status          `json:"status"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	Error        string          `json:"error,omitempty"`
	ResultID     *int64          `json:"result_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// NewTask creates a task in the Created state with a fresh handle.
// The hash is derived from the already-substituted query text.
func NewTask(queryText string, dataSourceID int64, metadata json.RawMessage) (*Task, error) {
	if queryText == "" {
		return nil, errors.New("query text cannot be empty")
	}

	now := time.Now().UTC()
	return &Task{
		ID:           uuid.NewString(),
		DataSourceID: dataSourceID,
		QueryText:    queryText,
		QueryHash:    query.Hash(queryText),
		Status:       StatusCreated,
		Metadata:     metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Start marks the task as running.
func (t *Task) Start() {
	now := time.Now().UTC()
	t.Status = StatusRunning
	t.StartedAt = &now
	t.UpdatedAt = now
}

// Succeed marks the task as succeeded with the stored result's ID.
func (t *Task) Succeed(resultID int64) {
	now := time.Now().UTC()
	t.Status = StatusSucceeded
	t.ResultID = &resultID
	t.CompletedAt = &now
	t.UpdatedAt = now
}

// Fail marks the task as failed with an error message.
func (t *Task) Fail(err error) {
	now := time.Now().UTC()
	t.Status = StatusFailed
	t.Error = err.Error()
	t.CompletedAt = &now
	t.UpdatedAt = now
}

// Cancel marks the task as cancelled with a reason.
func (t *Task) Cancel(reason string) {
	now := time.Now().UTC()
	t.Status = StatusCancelled
	t.Error = reason
	t.CompletedAt = &now
	t.UpdatedAt = now
}
