// Package result is the result store: the cache of normalized query
// results keyed by (query hash, data source). A successful execution
// writes a new result; earlier results are superseded, never mutated.
package result

import (
	"encoding/json"
	"time"

	"github.com/redbeam/redbeam/errors"
	"github.com/redbeam/redbeam/runner"
	"github.com/redbeam/redbeam/types"
)

// QueryResult is the outcome of one successful execution. It is shared
// by every logical query whose normalized text and data source match.
type QueryResult struct {
	ID           int64              `json:"id"`
	DataSourceID int64              `json:"data_source_id"`
	QueryHash    string             `json:"query_hash"`
	QueryText    string             `json:"query"`
	Data         *runner.ResultData `json:"data"`
	Runtime      float64            `json:"runtime"` // seconds
	RetrievedAt  time.Time          `json:"retrieved_at"`
}

// wireData is the serialized result payload:
//
//	{"columns": [{"name", "friendly_name", "type"}...], "rows": [{col: value}...]}
type wireData struct {
	Columns []types.Column `json:"columns"`
	Rows    []types.Row    `json:"rows"`
}

// MarshalData serializes normalized tabular data to the wire format.
// Column order is preserved; values are already in stable textual or
// numeric form (no locale-dependent formatting).
func MarshalData(data *runner.ResultData) (string, error) {
	if data == nil {
		return "", errors.New("cannot marshal nil result data")
	}
	encoded, err := json.Marshal(wireData{Columns: data.Columns, Rows: data.Rows})
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal result data")
	}
	return string(encoded), nil
}

// ParseData parses the wire format back into normalized tabular data.
func ParseData(raw string) (*runner.ResultData, error) {
	var w wireData
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, errors.Wrap(err, "failed to parse result data")
	}
	if w.Columns == nil {
		w.Columns = []types.Column{}
	}
	if w.Rows == nil {
		w.Rows = []types.Row{}
	}
	return &runner.ResultData{Columns: w.Columns, Rows: w.Rows}, nil
}
