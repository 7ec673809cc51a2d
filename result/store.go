package result

import (
	"database/sql"
	"sync"
	"time"

	"github.com/redbeam/redbeam/errors"
)

// Store persists query results. Writes for the same (query hash, data
// source) pair are serialized through a per-key lock so concurrent
// completions never interleave; the stored row order is completion
// order, and readers always see the most recently completed write.
type Store struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[writeKey]*sync.Mutex
}

type writeKey struct {
	hash         string
	dataSourceID int64
}

// NewStore creates a new result store.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:    db,
		locks: make(map[writeKey]*sync.Mutex),
	}
}

func (s *Store) lockFor(hash string, dataSourceID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := writeKey{hash: hash, dataSourceID: dataSourceID}
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Save inserts a new result, superseding any earlier result with the
// same hash and data source. The previous result is left in place for
// readers mid-flight; Latest picks up the new row atomically.
func (s *Store) Save(r *QueryResult) error {
	dataJSON, err := MarshalData(r.Data)
	if err != nil {
		return err
	}

	if r.RetrievedAt.IsZero() {
		r.RetrievedAt = time.Now().UTC()
	}

	l := s.lockFor(r.QueryHash, r.DataSourceID)
	l.Lock()
	defer l.Unlock()

	res, err := s.db.Exec(`
		INSERT INTO query_results (
			data_source_id, query_hash, query_text, data, runtime_seconds, retrieved_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		r.DataSourceID, r.QueryHash, r.QueryText, dataJSON, r.Runtime, r.RetrievedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to save query result")
	}

	r.ID, err = res.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "failed to get result id")
	}
	return nil
}

// Latest returns the most recently completed result for the pair, or
// NotFound when no execution has ever succeeded. Completion order is
// insertion order, so a slow stale execution that finishes after a
// fresher one wins; only completion time is tracked.
func (s *Store) Latest(queryHash string, dataSourceID int64) (*QueryResult, error) {
	row := s.db.QueryRow(`
		SELECT id, data_source_id, query_hash, query_text, data, runtime_seconds, retrieved_at
		FROM query_results
		WHERE query_hash = ? AND data_source_id = ?
		ORDER BY id DESC
		LIMIT 1`,
		queryHash, dataSourceID,
	)

	return scanResult(row)
}

// Get returns one result by ID.
func (s *Store) Get(id int64) (*QueryResult, error) {
	row := s.db.QueryRow(`
		SELECT id, data_source_id, query_hash, query_text, data, runtime_seconds, retrieved_at
		FROM query_results
		WHERE id = ?`, id,
	)

	return scanResult(row)
}

func scanResult(row *sql.Row) (*QueryResult, error) {
	var r QueryResult
	var dataJSON string

	err := row.Scan(&r.ID, &r.DataSourceID, &r.QueryHash, &r.QueryText,
		&dataJSON, &r.Runtime, &r.RetrievedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(errors.ErrNotFound, "query result")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get query result")
	}

	r.Data, err = ParseData(dataJSON)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
