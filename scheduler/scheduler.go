// Package scheduler implements the freshness control loop: it scans all
// schedule-bearing queries, computes staleness from each query's latest
// cached result, deduplicates identical work by (query hash, data
// source), and submits exactly one execution task per distinct group.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/redbeam/redbeam/errors"
	"github.com/redbeam/redbeam/query"
	"github.com/redbeam/redbeam/result"
)

// Executor is the execution layer the scheduler submits into. Submission
// is fire-and-forget; the scheduler never waits for a task's result.
type Executor interface {
	Submit(queryText string, ds *query.DataSource, params map[string]string, metadata map[string]interface{}) (string, error)
	HasActive(queryHash string, dataSourceID int64) (bool, error)
}

// CycleStats summarizes one scheduler run.
type CycleStats struct {
	Scanned   int // schedule-bearing queries considered
	Stale     int // queries past their interval
	Submitted int // tasks actually submitted (one per group)
	Skipped   int // groups skipped because an execution is already in flight
	Failed    int // groups whose submission failed
}

// Scheduler drives periodic refresh of scheduled queries.
type Scheduler struct {
	sources  *query.Store
	results  *result.Store
	executor Executor
	logger   *zap.SugaredLogger

	// now is swapped in tests to pin staleness boundaries.
	now func() time.Time
}

// New creates a scheduler.
func New(sources *query.Store, results *result.Store, executor Executor, logger *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		sources:  sources,
		results:  results,
		executor: executor,
		logger:   logger,
		now:      time.Now,
	}
}

// group is one deduplicated unit of work: all stale queries sharing
// normalized text and data source.
type group struct {
	hash         string
	dataSourceID int64
	queryText    string
	queryIDs     []int64
}

type groupKey struct {
	hash         string
	dataSourceID int64
}

// RunCycle performs one scan-and-submit pass. A failure in one group is
// logged and isolated; the remaining groups are still submitted. A query
// left stale by a failed group is simply re-attempted on the next cycle.
func (s *Scheduler) RunCycle(ctx context.Context) (CycleStats, error) {
	var stats CycleStats

	queries, err := s.sources.ListScheduled()
	if err != nil {
		return stats, errors.Wrap(err, "failed to list scheduled queries")
	}
	stats.Scanned = len(queries)

	now := s.now()
	groups := make(map[groupKey]*group)
	var order []groupKey

	for _, q := range queries {
		stale, err := s.isStale(q, now)
		if err != nil {
			stats.Failed++
			if s.logger != nil {
				s.logger.Warnw("Failed to compute staleness",
					"query_id", q.ID, "error", err)
			}
			continue
		}
		if !stale {
			continue
		}
		stats.Stale++

		key := groupKey{hash: q.Hash, dataSourceID: q.DataSourceID}
		g, ok := groups[key]
		if !ok {
			g = &group{hash: q.Hash, dataSourceID: q.DataSourceID, queryText: q.Text}
			groups[key] = g
			order = append(order, key)
		}
		g.queryIDs = append(g.queryIDs, q.ID)
	}

	sourceCache := make(map[int64]*query.DataSource)
	for _, key := range order {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}

		g := groups[key]
		if err := s.submitGroup(g, sourceCache, &stats); err != nil {
			stats.Failed++
			if s.logger != nil {
				s.logger.Errorw("Failed to submit refresh group",
					"query_hash", g.hash,
					"data_source_id", g.dataSourceID,
					"query_ids", g.queryIDs,
					"error", err,
				)
			}
		}
	}

	if s.logger != nil && (stats.Stale > 0 || stats.Failed > 0) {
		s.logger.Infow("Refresh cycle complete",
			"scanned", stats.Scanned,
			"stale", stats.Stale,
			"submitted", stats.Submitted,
			"skipped", stats.Skipped,
			"failed", stats.Failed,
		)
	}
	return stats, nil
}

// isStale reports whether a scheduled query's cached result is past its
// interval. A query with no prior result is immediately stale; the
// boundary is inclusive (now - retrievedAt >= interval).
func (s *Scheduler) isStale(q *query.Query, now time.Time) (bool, error) {
	latest, err := s.results.Latest(q.Hash, q.DataSourceID)
	if errors.IsNotFoundError(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return now.Sub(latest.RetrievedAt) >= q.Interval(), nil
}

// submitGroup submits one task for a deduplicated group, unless the pair
// already has an execution in flight from an earlier cycle or a manual
// refresh.
func (s *Scheduler) submitGroup(g *group, sourceCache map[int64]*query.DataSource, stats *CycleStats) error {
	active, err := s.executor.HasActive(g.hash, g.dataSourceID)
	if err != nil {
		return errors.Wrap(err, "failed to check in-flight executions")
	}
	if active {
		stats.Skipped++
		if s.logger != nil {
			s.logger.Debugw("Refresh already in flight, skipping group",
				"query_hash", g.hash,
				"data_source_id", g.dataSourceID,
			)
		}
		return nil
	}

	ds, ok := sourceCache[g.dataSourceID]
	if !ok {
		ds, err = s.sources.GetDataSource(g.dataSourceID)
		if err != nil {
			return err
		}
		sourceCache[g.dataSourceID] = ds
	}

	// Query IDs ride along for observability only; the result lands once
	// under the shared hash.
	metadata := map[string]interface{}{
		"scheduled": true,
		"query_ids": g.queryIDs,
	}

	handle, err := s.executor.Submit(g.queryText, ds, nil, metadata)
	if err != nil {
		return err
	}
	stats.Submitted++

	if s.logger != nil {
		s.logger.Debugw("Submitted scheduled refresh",
			"task_id", handle,
			"query_hash", g.hash,
			"data_source_id", g.dataSourceID,
			"query_ids", g.queryIDs,
		)
	}
	return nil
}
