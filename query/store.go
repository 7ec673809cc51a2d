package query

import (
	"database/sql"
	"time"

	"github.com/redbeam/redbeam/errors"
)

// Store handles persistence of data sources and queries.
type Store struct {
	db *sql.DB
}

// NewStore creates a new query store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateDataSource inserts a new data source and assigns its ID.
func (s *Store) CreateDataSource(ds *DataSource) error {
	optionsJSON, err := MarshalOptions(ds.Options)
	if err != nil {
		return errors.Wrap(err, "failed to marshal data source options")
	}

	now := time.Now().UTC()
	ds.CreatedAt = now
	ds.UpdatedAt = now

	result, err := s.db.Exec(`
		INSERT INTO data_sources (name, type, options, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		ds.Name, ds.Type, optionsJSON, ds.CreatedAt, ds.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create data source")
	}

	ds.ID, err = result.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "failed to get data source id")
	}
	return nil
}

// GetDataSource retrieves a data source by ID.
func (s *Store) GetDataSource(id int64) (*DataSource, error) {
	var ds DataSource
	var optionsJSON string

	err := s.db.QueryRow(`
		SELECT id, name, type, options, created_at, updated_at
		FROM data_sources WHERE id = ?`, id,
	).Scan(&ds.ID, &ds.Name, &ds.Type, &optionsJSON, &ds.CreatedAt, &ds.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("data source %d", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get data source")
	}

	ds.Options, err = UnmarshalOptions(optionsJSON)
	if err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal data source options")
	}
	return &ds, nil
}

// ListDataSources returns all data sources ordered by name.
func (s *Store) ListDataSources() ([]*DataSource, error) {
	rows, err := s.db.Query(`
		SELECT id, name, type, options, created_at, updated_at
		FROM data_sources ORDER BY name ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list data sources")
	}
	defer rows.Close()

	var sources []*DataSource
	for rows.Next() {
		var ds DataSource
		var optionsJSON string
		if err := rows.Scan(&ds.ID, &ds.Name, &ds.Type, &optionsJSON, &ds.CreatedAt, &ds.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan data source")
		}
		ds.Options, err = UnmarshalOptions(optionsJSON)
		if err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal data source options")
		}
		sources = append(sources, &ds)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating data sources")
	}
	return sources, nil
}

// DeleteDataSource removes a data source and, via foreign keys, its
// queries and cached results.
func (s *Store) DeleteDataSource(id int64) error {
	result, err := s.db.Exec(`DELETE FROM data_sources WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete data source")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if affected == 0 {
		return errors.NewNotFoundError("data source %d", id)
	}
	return nil
}

// CreateQuery inserts a new query, deriving its hash from the text.
func (s *Store) CreateQuery(q *Query) error {
	q.Hash = Hash(q.Text)
	now := time.Now().UTC()
	q.CreatedAt = now
	q.UpdatedAt = now

	var schedule sql.NullInt64
	if q.Schedule != nil {
		schedule = sql.NullInt64{Int64: *q.Schedule, Valid: true}
	}

	result, err := s.db.Exec(`
		INSERT INTO queries (
			data_source_id, name, query_text, query_hash,
			schedule_interval_seconds, is_archived, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		q.DataSourceID, q.Name, q.Text, q.Hash,
		schedule, q.IsArchived, q.CreatedAt, q.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create query")
	}

	q.ID, err = result.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "failed to get query id")
	}
	return nil
}

// GetQuery retrieves a query by ID.
func (s *Store) GetQuery(id int64) (*Query, error) {
	row := s.db.QueryRow(`
		SELECT id, data_source_id, name, query_text, query_hash,
		       schedule_interval_seconds, is_archived, created_at, updated_at
		FROM queries WHERE id = ?`, id)

	q, err := scanQuery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("query %d", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get query")
	}
	return q, nil
}

// UpdateQueryText replaces a query's text and recomputes its hash.
func (s *Store) UpdateQueryText(id int64, text string) error {
	result, err := s.db.Exec(`
		UPDATE queries
		SET query_text = ?, query_hash = ?, updated_at = ?
		WHERE id = ?`,
		text, Hash(text), time.Now().UTC(), id,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update query text")
	}
	return requireAffected(result, "query %d", id)
}

// SetSchedule sets or clears a query's refresh interval. A nil interval
// removes the query from automatic refresh.
func (s *Store) SetSchedule(id int64, intervalSeconds *int64) error {
	var schedule sql.NullInt64
	if intervalSeconds != nil {
		schedule = sql.NullInt64{Int64: *intervalSeconds, Valid: true}
	}

	result, err := s.db.Exec(`
		UPDATE queries SET schedule_interval_seconds = ?, updated_at = ? WHERE id = ?`,
		schedule, time.Now().UTC(), id,
	)
	if err != nil {
		return errors.Wrap(err, "failed to set query schedule")
	}
	return requireAffected(result, "query %d", id)
}

// ArchiveQuery marks a query archived, removing it from scheduling
// without deleting its history.
func (s *Store) ArchiveQuery(id int64) error {
	result, err := s.db.Exec(`
		UPDATE queries SET is_archived = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return errors.Wrap(err, "failed to archive query")
	}
	return requireAffected(result, "query %d", id)
}

// ListScheduled returns every non-archived query with a schedule interval.
func (s *Store) ListScheduled() ([]*Query, error) {
	rows, err := s.db.Query(`
		SELECT id, data_source_id, name, query_text, query_hash,
		       schedule_interval_seconds, is_archived, created_at, updated_at
		FROM queries
		WHERE schedule_interval_seconds IS NOT NULL AND is_archived = 0
		ORDER BY id ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list scheduled queries")
	}
	defer rows.Close()

	var queries []*Query
	for rows.Next() {
		q, err := scanQuery(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan query")
		}
		queries = append(queries, q)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating scheduled queries")
	}
	return queries, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQuery(row rowScanner) (*Query, error) {
	var q Query
	var schedule sql.NullInt64
	err := row.Scan(&q.ID, &q.DataSourceID, &q.Name, &q.Text, &q.Hash,
		&schedule, &q.IsArchived, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if schedule.Valid {
		q.Schedule = &schedule.Int64
	}
	return &q, nil
}

func requireAffected(result sql.Result, format string, args ...interface{}) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if affected == 0 {
		return errors.NewNotFoundError(format, args...)
	}
	return nil
}
