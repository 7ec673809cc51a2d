package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redbeam/redbeam/errors"
	"github.com/redbeam/redbeam/types"
)

func testSchema() Schema {
	return Schema{
		"host":     {Type: FieldString, Required: true},
		"port":     {Type: FieldNumber, Default: 5432},
		"user":     {Type: FieldString},
		"password": {Type: FieldString, Secret: true},
		"sslmode":  {Type: FieldString, Default: "disable"},
	}
}

func TestSchemaValidate(t *testing.T) {
	s := testSchema()

	t.Run("missing required field", func(t *testing.T) {
		err := s.Validate(Configuration{"port": 5432})
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrConfiguration))
		assert.Contains(t, err.Error(), `"host"`)
	})

	t.Run("required field present", func(t *testing.T) {
		err := s.Validate(Configuration{"host": "db.internal"})
		assert.NoError(t, err)
	})

	t.Run("optional field with default never raises", func(t *testing.T) {
		err := s.Validate(Configuration{"host": "db.internal"})
		assert.NoError(t, err)
		assert.Equal(t, 5432, s.GetInt(Configuration{"host": "db.internal"}, "port", 0))
	})

	t.Run("required field with default is satisfied by default", func(t *testing.T) {
		s2 := Schema{"db": {Type: FieldString, Required: true, Default: "main"}}
		assert.NoError(t, s2.Validate(Configuration{}))
	})
}

func TestSchemaRedact(t *testing.T) {
	s := testSchema()
	cfg := Configuration{"host": "db.internal", "password": "hunter2"}

	redacted := s.Redact(cfg)
	assert.Equal(t, "db.internal", redacted["host"])
	assert.Equal(t, "--------", redacted["password"])
	// Original untouched.
	assert.Equal(t, "hunter2", cfg["password"])

	assert.Equal(t, []string{"password"}, s.SecretFields())
}

func TestSchemaGetters(t *testing.T) {
	s := testSchema()
	cfg := Configuration{"host": "db.internal", "port": float64(6432)}

	assert.Equal(t, "db.internal", s.GetString(cfg, "host", ""))
	assert.Equal(t, "disable", s.GetString(cfg, "sslmode", ""))
	assert.Equal(t, "fallback", s.GetString(cfg, "user", "fallback"))
	// JSON-decoded numbers arrive as float64.
	assert.Equal(t, 6432, s.GetInt(cfg, "port", 0))
}

func TestFetchColumnsDeduplicatesNames(t *testing.T) {
	cols := FetchColumns([]types.Column{
		{Name: "id", Type: types.TypeInteger},
		{Name: "name", Type: types.TypeString},
		{Name: "name", Type: types.TypeString},
		{Name: "name", Type: types.TypeString},
	})

	require.Len(t, cols, 4)
	assert.Equal(t, "id", cols[0].Name)
	assert.Equal(t, "name", cols[1].Name)
	assert.Equal(t, "name1", cols[2].Name)
	assert.Equal(t, "name2", cols[3].Name)
}

func TestFetchColumnsDegradesUnknownTypes(t *testing.T) {
	cols := FetchColumns([]types.Column{{Name: "geo", Type: "geo_point"}})
	require.Len(t, cols, 1)
	assert.Equal(t, types.TypeString, cols[0].Type)
}

type fakeRunner struct {
	name    string
	enabled bool
}

func (f *fakeRunner) Type() string        { return f.name }
func (f *fakeRunner) Enabled() bool       { return f.enabled }
func (f *fakeRunner) AnnotateQuery() bool { return true }
func (f *fakeRunner) Run(ctx context.Context, query string, opts RunOptions) (*ResultData, error) {
	return &ResultData{}, nil
}

func fakeRegistration(name string, enabled bool) Registration {
	return Registration{
		Name:    name,
		New:     func(cfg Configuration) (QueryRunner, error) { return &fakeRunner{name, enabled}, nil },
		Schema:  func() Schema { return Schema{} },
		Enabled: func() bool { return enabled },
	}
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	r.Register(fakeRegistration("pg", true))

	reg, err := r.Lookup("pg")
	require.NoError(t, err)
	assert.Equal(t, "pg", reg.Name)

	_, err = r.Lookup("oracle")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestRegistryDisabledRunnerStillConstructible(t *testing.T) {
	r := NewRegistry()
	r.Register(fakeRegistration("mongodb", false))

	assert.NotContains(t, r.AvailableTypes(), "mongodb")
	assert.False(t, r.IsEnabled("mongodb"))

	reg, err := r.Lookup("mongodb")
	require.NoError(t, err)
	rn, err := reg.New(Configuration{})
	require.NoError(t, err)
	assert.False(t, rn.Enabled())
}

func TestRegistryRestrictDeduplicates(t *testing.T) {
	r := NewRegistry()
	r.Register(fakeRegistration("pg", true))
	r.Register(fakeRegistration("elasticsearch", true))
	r.Register(fakeRegistration("sqlite", true))

	// Overlapping enabled + additional lists collapse to one entry each;
	// unknown identifiers are ignored.
	r.Restrict([]string{"pg", "elasticsearch", "pg"}, []string{"elasticsearch", "vertica"})

	assert.Equal(t, []string{"elasticsearch", "pg"}, r.AvailableTypes())
}

func TestRegistryDuplicateRegistrationPanics(t *testing.T) {
	r := NewRegistry()
	r.Register(fakeRegistration("pg", true))
	assert.Panics(t, func() { r.Register(fakeRegistration("pg", true)) })
}
