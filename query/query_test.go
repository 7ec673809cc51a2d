package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redbeam/redbeam/errors"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "select 1", Normalize("SELECT   1"))
	assert.Equal(t, "select * from t", Normalize("select\n\t*  from\n  t\n"))
	assert.Equal(t, Normalize("SELECT 1"), Normalize("select\n1"))
}

func TestHashIdenticalNormalizedTextSharesHash(t *testing.T) {
	a := Hash("SELECT count(*)\nFROM events")
	b := Hash("select   count(*) from EVENTS")
	assert.Equal(t, a, b)

	c := Hash("select count(*) from other_events")
	assert.NotEqual(t, a, c)
}

func TestHashIsStable(t *testing.T) {
	// The digest is part of the stored format; it must never drift.
	assert.Equal(t, "95adb6e77a0884d9e50232cb8c5c969d", Hash("SELECT 1"))
	assert.Len(t, Hash("select 1"), 32)
}

func TestApplyParameters(t *testing.T) {
	t.Run("substitutes values", func(t *testing.T) {
		out, err := ApplyParameters("SELECT * FROM t WHERE region = '{{region}}'",
			map[string]string{"region": "eu"})
		require.NoError(t, err)
		assert.Equal(t, "SELECT * FROM t WHERE region = 'eu'", out)
	})

	t.Run("tolerates inner whitespace", func(t *testing.T) {
		out, err := ApplyParameters("SELECT {{ x }}", map[string]string{"x": "1"})
		require.NoError(t, err)
		assert.Equal(t, "SELECT 1", out)
	})

	t.Run("missing parameter is a user error naming the placeholder", func(t *testing.T) {
		_, err := ApplyParameters("SELECT {{x}}", nil)
		require.Error(t, err)
		assert.True(t, errors.IsInvalidRequestError(err))
		assert.Contains(t, err.Error(), "x")
	})

	t.Run("reports all missing names once", func(t *testing.T) {
		_, err := ApplyParameters("SELECT {{a}}, {{b}}, {{a}}", map[string]string{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "a, b")
	})

	t.Run("no placeholders passes through", func(t *testing.T) {
		out, err := ApplyParameters("SELECT 1", nil)
		require.NoError(t, err)
		assert.Equal(t, "SELECT 1", out)
	})
}

func TestPlaceholders(t *testing.T) {
	names := Placeholders("SELECT {{b}}, {{a}}, {{ a }}")
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestAnnotation(t *testing.T) {
	got := Annotation("task-1", "abc123")
	assert.Equal(t, "/* Task: task-1, Query hash: abc123 */", got)
}
