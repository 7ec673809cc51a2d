package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsValid(t *testing.T) {
	for _, ct := range []ColumnType{TypeInteger, TypeFloat, TypeBoolean, TypeString, TypeDate, TypeDatetime} {
		assert.True(t, IsValid(ct), "%s should be valid", ct)
	}
	assert.False(t, IsValid("geo_point"))
	assert.False(t, IsValid(""))
}

func TestNewColumnDegradesUnknownType(t *testing.T) {
	col := NewColumn("location", "geo_point")
	assert.Equal(t, TypeString, col.Type)
	assert.Equal(t, "location", col.Name)
	assert.Equal(t, "location", col.FriendlyName)

	col = NewColumn("count", TypeInteger)
	assert.Equal(t, TypeInteger, col.Type)
}

func TestFormatValueTimes(t *testing.T) {
	ts := time.Date(2016, 3, 14, 15, 9, 26, 0, time.UTC)

	assert.Equal(t, "2016-03-14", FormatValue(ts, TypeDate))
	assert.Equal(t, "2016-03-14T15:09:26Z", FormatValue(ts, TypeDatetime))

	// A time value in a column the backend mislabeled still serializes
	// deterministically.
	assert.Equal(t, "2016-03-14T15:09:26Z", FormatValue(ts, TypeString))
}

func TestFormatValuePassthrough(t *testing.T) {
	assert.Nil(t, FormatValue(nil, TypeString))
	assert.Equal(t, int64(42), FormatValue(int64(42), TypeInteger))
	assert.Equal(t, "blob", FormatValue([]byte("blob"), TypeString))
}

func TestFormatScalar(t *testing.T) {
	assert.Equal(t, "", FormatScalar(nil))
	assert.Equal(t, "42", FormatScalar(42))
	assert.Equal(t, "42", FormatScalar(int64(42)))
	assert.Equal(t, "3.25", FormatScalar(3.25))
	assert.Equal(t, "true", FormatScalar(true))
	assert.Equal(t, "hello", FormatScalar("hello"))

	ts := time.Date(2016, 3, 14, 15, 9, 26, 0, time.UTC)
	assert.Equal(t, "2016-03-14T15:09:26Z", FormatScalar(ts))
}
