// Package query holds the query and data-source models, query text
// normalization and hashing, and parameter binding.
package query

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/redbeam/redbeam/runner"
)

// DataSource identifies one configured backend: a runner type name plus
// the connection configuration validated against that runner's schema.
// Connection details are read-only to running tasks; configuration changes
// take effect for new executions only.
type DataSource struct {
	ID        int64                `json:"id"`
	Name      string               `json:"name"`
	Type      string               `json:"type"`
	Options   runner.Configuration `json:"options"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// Query is a user-authored unit of work bound to one data source. A nil
// Schedule means the query is never auto-refreshed. Hash is derived from
// the normalized text and is the deduplication and result-cache key.
type Query struct {
	ID           int64     `json:"id"`
	DataSourceID int64     `json:"data_source_id"`
	Name         string    `json:"name"`
	Text         string    `json:"query"`
	Hash         string    `json:"query_hash"`
	Schedule     *int64    `json:"schedule,omitempty"` // interval in seconds
	IsArchived   bool      `json:"is_archived"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsScheduled reports whether the freshness scheduler should consider
// this query at all.
func (q *Query) IsScheduled() bool {
	return q.Schedule != nil && !q.IsArchived
}

// Interval returns the schedule interval as a duration, or zero when
// the query has no schedule.
func (q *Query) Interval() time.Duration {
	if q.Schedule == nil {
		return 0
	}
	return time.Duration(*q.Schedule) * time.Second
}

// Normalize collapses all whitespace runs in text to single spaces and
// lowercases the result. Two texts that normalize equally are the same
// unit of work.
func Normalize(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// Hash returns the stable content digest of the normalized query text.
// Identical normalized text always hashes identically, so logical queries
// sharing text and data source share one cached result.
func Hash(text string) string {
	sum := md5.Sum([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}

// MarshalOptions serializes a configuration for storage.
func MarshalOptions(options runner.Configuration) (string, error) {
	if options == nil {
		return "{}", nil
	}
	data, err := json.Marshal(options)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// UnmarshalOptions parses a stored configuration.
func UnmarshalOptions(data string) (runner.Configuration, error) {
	if data == "" {
		return runner.Configuration{}, nil
	}
	var options runner.Configuration
	if err := json.Unmarshal([]byte(data), &options); err != nil {
		return nil, err
	}
	return options, nil
}
