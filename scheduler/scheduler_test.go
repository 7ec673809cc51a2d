package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redbeam/redbeam/errors"
	rbtest "github.com/redbeam/redbeam/internal/testing"
	"github.com/redbeam/redbeam/query"
	"github.com/redbeam/redbeam/result"
	"github.com/redbeam/redbeam/runner"
	"github.com/redbeam/redbeam/types"
)

// recordingExecutor captures submissions instead of running anything.
type recordingExecutor struct {
	submissions []submission
	active      map[string]bool  // key: hash
	failFor     map[int64]error  // data source id -> submission error
}

type submission struct {
	text         string
	dataSourceID int64
	metadata     map[string]interface{}
}

func (r *recordingExecutor) Submit(text string, ds *query.DataSource, params map[string]string, metadata map[string]interface{}) (string, error) {
	if err, ok := r.failFor[ds.ID]; ok {
		return "", err
	}
	r.submissions = append(r.submissions, submission{text: text, dataSourceID: ds.ID, metadata: metadata})
	return "handle", nil
}

func (r *recordingExecutor) HasActive(queryHash string, dataSourceID int64) (bool, error) {
	return r.active[queryHash], nil
}

type fixture struct {
	scheduler *Scheduler
	executor  *recordingExecutor
	sources   *query.Store
	results   *result.Store
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	conn := rbtest.CreateTestDB(t)
	sources := query.NewStore(conn)
	results := result.NewStore(conn)
	executor := &recordingExecutor{active: map[string]bool{}, failFor: map[int64]error{}}

	s := New(sources, results, executor, nil)
	f := &fixture{scheduler: s, executor: executor, sources: sources, results: results,
		now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	s.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) createDataSource(t *testing.T, name string) *query.DataSource {
	t.Helper()
	ds := &query.DataSource{Name: name, Type: "pg", Options: runner.Configuration{"dbname": name}}
	require.NoError(t, f.sources.CreateDataSource(ds))
	return ds
}

func (f *fixture) createScheduledQuery(t *testing.T, ds *query.DataSource, text string, intervalSeconds int64) *query.Query {
	t.Helper()
	q := &query.Query{DataSourceID: ds.ID, Text: text, Schedule: &intervalSeconds}
	require.NoError(t, f.sources.CreateQuery(q))
	return q
}

func (f *fixture) storeResult(t *testing.T, ds *query.DataSource, text string, retrievedAt time.Time) {
	t.Helper()
	r := &result.QueryResult{
		DataSourceID: ds.ID,
		QueryHash:    query.Hash(text),
		QueryText:    text,
		Data: &runner.ResultData{
			Columns: []types.Column{{Name: "n", FriendlyName: "n", Type: types.TypeInteger}},
			Rows:    []types.Row{},
		},
		RetrievedAt: retrievedAt,
	}
	require.NoError(t, f.results.Save(r))
}

func TestIdenticalQueriesSubmitOneTask(t *testing.T) {
	f := newFixture(t)
	ds := f.createDataSource(t, "analytics")

	// Same normalized text, different logical queries, both stale (no result).
	a := f.createScheduledQuery(t, ds, "SELECT count(*)\nFROM events", 60)
	b := f.createScheduledQuery(t, ds, "select   count(*) from events", 60)

	stats, err := f.scheduler.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Stale)
	assert.Equal(t, 1, stats.Submitted)
	require.Len(t, f.executor.submissions, 1)

	ids := f.executor.submissions[0].metadata["query_ids"].([]int64)
	assert.ElementsMatch(t, []int64{a.ID, b.ID}, ids)
}

func TestSameTextOnTwoDataSourcesIsNotMerged(t *testing.T) {
	f := newFixture(t)
	ds1 := f.createDataSource(t, "primary")
	ds2 := f.createDataSource(t, "replica")

	f.createScheduledQuery(t, ds1, "SELECT 1", 60)
	f.createScheduledQuery(t, ds2, "SELECT 1", 60)

	stats, err := f.scheduler.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Submitted)
	require.Len(t, f.executor.submissions, 2)
	sourceIDs := []int64{f.executor.submissions[0].dataSourceID, f.executor.submissions[1].dataSourceID}
	assert.ElementsMatch(t, []int64{ds1.ID, ds2.ID}, sourceIDs)
}

func TestUnscheduledQueryIsNeverSubmitted(t *testing.T) {
	f := newFixture(t)
	ds := f.createDataSource(t, "analytics")

	q := &query.Query{DataSourceID: ds.ID, Text: "SELECT 1"} // schedule = null
	require.NoError(t, f.sources.CreateQuery(q))

	stats, err := f.scheduler.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Scanned)
	assert.Empty(t, f.executor.submissions)
}

func TestStalenessBoundary(t *testing.T) {
	f := newFixture(t)
	ds := f.createDataSource(t, "analytics")
	f.createScheduledQuery(t, ds, "SELECT 1", 60)

	t.Run("one second inside the interval is fresh", func(t *testing.T) {
		f.storeResult(t, ds, "SELECT 1", f.now.Add(-59*time.Second))

		stats, err := f.scheduler.RunCycle(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, stats.Stale)
		assert.Empty(t, f.executor.submissions)
	})

	t.Run("exactly at the interval is stale", func(t *testing.T) {
		f.storeResult(t, ds, "SELECT 1", f.now.Add(-60*time.Second))

		stats, err := f.scheduler.RunCycle(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Stale)
		assert.Len(t, f.executor.submissions, 1)
	})
}

func TestQueryWithNoPriorResultIsStale(t *testing.T) {
	f := newFixture(t)
	ds := f.createDataSource(t, "analytics")
	f.createScheduledQuery(t, ds, "SELECT 1", 3600)

	stats, err := f.scheduler.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Stale)
	assert.Equal(t, 1, stats.Submitted)
}

func TestInFlightGroupIsSkipped(t *testing.T) {
	f := newFixture(t)
	ds := f.createDataSource(t, "analytics")
	f.createScheduledQuery(t, ds, "SELECT 1", 60)

	f.executor.active[query.Hash("SELECT 1")] = true

	stats, err := f.scheduler.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Stale)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 0, stats.Submitted)
	assert.Empty(t, f.executor.submissions)
}

func TestGroupFailureIsIsolated(t *testing.T) {
	f := newFixture(t)
	broken := f.createDataSource(t, "broken")
	healthy := f.createDataSource(t, "healthy")

	f.createScheduledQuery(t, broken, "SELECT 1", 60)
	f.createScheduledQuery(t, healthy, "SELECT 2", 60)

	f.executor.failFor[broken.ID] = errors.Wrap(errors.ErrConnection, "dial tcp: connection refused")

	stats, err := f.scheduler.RunCycle(context.Background())
	require.NoError(t, err, "a failed group must not fail the cycle")

	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Submitted)
	require.Len(t, f.executor.submissions, 1)
	assert.Equal(t, healthy.ID, f.executor.submissions[0].dataSourceID)
}

func TestFreshQueriesAreLeftAlone(t *testing.T) {
	f := newFixture(t)
	ds := f.createDataSource(t, "analytics")
	f.createScheduledQuery(t, ds, "SELECT 1", 3600)
	f.storeResult(t, ds, "SELECT 1", f.now.Add(-time.Minute))

	stats, err := f.scheduler.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Scanned)
	assert.Equal(t, 0, stats.Stale)
	assert.Empty(t, f.executor.submissions)
}
