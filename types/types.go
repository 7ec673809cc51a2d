// Package types defines the canonical column type vocabulary shared by all
// query runners. Every backend-native type maps into one of the six logical
// types here; anything a runner cannot classify degrades to TypeString.
package types

import (
	"encoding/json"
	"strconv"
	"time"
)

// ColumnType is one of the six canonical logical column types.
type ColumnType string

const (
	TypeInteger  ColumnType = "integer"
	TypeFloat    ColumnType = "float"
	TypeBoolean  ColumnType = "boolean"
	TypeString   ColumnType = "string"
	TypeDate     ColumnType = "date"
	TypeDatetime ColumnType = "datetime"
)

// IsValid returns true if t is one of the canonical column types.
func IsValid(t ColumnType) bool {
	switch t {
	case TypeInteger, TypeFloat, TypeBoolean, TypeString, TypeDate, TypeDatetime:
		return true
	default:
		return false
	}
}

// Column describes one column of a normalized query result.
// Columns are owned by the result that produced them and are never shared.
type Column struct {
	Name         string     `json:"name"`
	FriendlyName string     `json:"friendly_name"`
	Type         ColumnType `json:"type"`
}

// NewColumn builds a column descriptor, defaulting an unknown or empty
// type to TypeString rather than failing.
func NewColumn(name string, t ColumnType) Column {
	if !IsValid(t) {
		t = TypeString
	}
	return Column{Name: name, FriendlyName: name, Type: t}
}

// Row is an ordered mapping from column name to value. Ordering is carried
// by the companion []Column slice; the map itself holds the cell values.
type Row map[string]interface{}

// Timestamp layouts for the wire format. Explicit and locale-independent.
const (
	DateLayout     = "2006-01-02"
	DatetimeLayout = time.RFC3339
)

// FormatValue renders a cell value in the stable textual form used by the
// wire format: integers in decimal, floats with the shortest round-trip
// representation, booleans as true/false, times per the canonical layouts.
// Nil stays nil so JSON null survives the round trip.
func FormatValue(v interface{}, t ColumnType) interface{} {
	if v == nil {
		return nil
	}

	switch t {
	case TypeDate:
		if ts, ok := v.(time.Time); ok {
			return ts.UTC().Format(DateLayout)
		}
	case TypeDatetime:
		if ts, ok := v.(time.Time); ok {
			return ts.UTC().Format(DatetimeLayout)
		}
	}

	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(DatetimeLayout)
	case []byte:
		return string(val)
	case json.Number:
		return val.String()
	default:
		return v
	}
}

// FormatScalar renders a value as a plain string, used where a textual
// cell is required (CSV export, log lines). Numeric formatting is explicit
// so output never depends on locale.
func FormatScalar(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.FormatInt(int64(val), 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case time.Time:
		return val.UTC().Format(DatetimeLayout)
	case json.Number:
		return val.String()
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
