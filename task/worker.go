package task

import (
	"context"
	"database/sql"
	"time"

	"github.com/redbeam/redbeam/db"
	"github.com/redbeam/redbeam/errors"
	"github.com/redbeam/redbeam/query"
	"github.com/redbeam/redbeam/result"
	"github.com/redbeam/redbeam/runner"
)

// sweepInterval is how often the retention sweep runs.
const sweepInterval = 10 * time.Minute

// Start begins processing tasks with the worker pool. Safe to call again
// after Stop; a fresh worker context is derived from the parent.
func (m *Manager) Start() {
	m.mu.Lock()
	select {
	case <-m.ctx.Done():
		m.ctx, m.cancel = context.WithCancel(m.parentCtx)
	default:
	}
	m.mu.Unlock()

	for i := 0; i < m.cfg.Workers; i++ {
		m.wg.Add(1)
		go m.worker(i)
	}

	if m.cfg.Retention > 0 {
		m.wg.Add(1)
		go m.sweeper()
	}

	if m.logger != nil {
		m.logger.Infow("Execution workers started",
			"workers", m.cfg.Workers,
			"poll_interval", m.cfg.PollInterval,
		)
	}
}

// Stop gracefully stops the worker pool, waiting for in-flight tasks to
// finish or checkpoint. Bounded so shutdown never hangs on a stuck
// backend call.
func (m *Manager) Stop() {
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if m.logger != nil {
			m.logger.Infow("Execution workers stopped cleanly")
		}
	case <-time.After(30 * time.Second):
		if m.logger != nil {
			m.logger.Warnw("Execution worker shutdown timed out")
		}
	}
}

// worker polls for tasks. Consecutive dequeue errors back off
// exponentially so a broken database does not produce a log flood.
func (m *Manager) worker(id int) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	errorCount := 0
	const maxConsecutiveErrors = 5
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if err := m.processNext(); err != nil {
				select {
				case <-m.ctx.Done():
					return
				default:
				}
				if errors.Is(err, sql.ErrConnDone) || db.IsDatabaseClosed(err) {
					// Database closed during shutdown.
					return
				}

				errorCount++
				if m.logger != nil {
					m.logger.Errorw("Worker error processing task",
						"worker_id", id,
						"error", err,
						"consecutive_errors", errorCount,
					)
				}
				if errorCount >= maxConsecutiveErrors {
					time.Sleep(backoff)
					backoff = min(backoff*2, maxBackoff)
				}
			} else {
				errorCount = 0
				backoff = time.Second
			}
		}
	}
}

// sweeper expires terminal task handles past the retention window.
func (m *Manager) sweeper() {
	defer m.wg.Done()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			removed, err := m.queue.Cleanup(m.cfg.Retention)
			if err != nil {
				if m.logger != nil && !db.IsDatabaseClosed(err) {
					m.logger.Warnw("Task retention sweep failed", "error", err)
				}
				continue
			}
			if removed > 0 && m.logger != nil {
				m.logger.Debugw("Expired old task handles", "removed", removed)
			}
		}
	}
}

// processNext picks up the next waiting task and executes it end-to-end.
func (m *Manager) processNext() error {
	select {
	case <-m.ctx.Done():
		return nil
	default:
	}

	t, err := m.queue.Dequeue()
	if err != nil {
		return errors.Wrap(err, "failed to dequeue task")
	}
	if t == nil {
		return nil
	}

	m.execute(t)
	return nil
}

// execute runs one task through its query runner and records the
// terminal state. Runner errors propagate unmodified into Failed;
// cancellation, whether before or during the backend call, lands in
// Cancelled.
func (m *Manager) execute(t *Task) {
	taskCtx, cancelTask := context.WithCancel(m.ctx)
	defer cancelTask()

	m.registerCancel(t.ID, cancelTask)
	defer m.unregisterCancel(t.ID)

	data, runtime, err := m.runQuery(taskCtx, t)
	if err != nil {
		if errors.IsCancelledError(err) || taskCtx.Err() != nil {
			t.Cancel(err.Error())
		} else {
			t.Fail(err)
		}
		if updateErr := m.queue.Update(t); updateErr != nil && m.logger != nil {
			m.logger.Errorw("Failed to record task failure", "task_id", t.ID, "error", updateErr)
		}
		if m.logger != nil {
			m.logger.Infow("Task finished",
				"task_id", t.ID,
				"status", t.Status,
				"error", t.Error,
			)
		}
		return
	}

	res := &result.QueryResult{
		DataSourceID: t.DataSourceID,
		QueryHash:    t.QueryHash,
		QueryText:    t.QueryText,
		Data:         data,
		Runtime:      runtime.Seconds(),
	}
	if err := m.results.Save(res); err != nil {
		t.Fail(errors.Wrap(err, "failed to store result"))
		if updateErr := m.queue.Update(t); updateErr != nil && m.logger != nil {
			m.logger.Errorw("Failed to record task failure", "task_id", t.ID, "error", updateErr)
		}
		return
	}

	t.Succeed(res.ID)
	if err := m.queue.Update(t); err != nil && m.logger != nil {
		m.logger.Errorw("Failed to record task success", "task_id", t.ID, "error", err)
	}

	if m.logger != nil {
		m.logger.Infow("Task finished",
			"task_id", t.ID,
			"status", t.Status,
			"rows", len(data.Rows),
			"runtime", runtime,
		)
	}
}

// runQuery resolves the data source and runner, applies the rate gate
// and annotation, and invokes the backend.
func (m *Manager) runQuery(ctx context.Context, t *Task) (*runner.ResultData, time.Duration, error) {
	ds, err := m.sources.GetDataSource(t.DataSourceID)
	if err != nil {
		return nil, 0, err
	}

	reg, err := m.registry.Lookup(ds.Type)
	if err != nil {
		return nil, 0, err
	}
	if !m.registry.IsEnabled(ds.Type) {
		return nil, 0, errors.Wrapf(errors.ErrConfiguration, "query runner type %q is disabled", ds.Type)
	}

	r, err := reg.New(ds.Options)
	if err != nil {
		return nil, 0, err
	}

	if l := m.limiterFor(ds.ID); l != nil {
		if err := l.Wait(ctx); err != nil {
			return nil, 0, errors.Wrap(errors.ErrCancelled, err.Error())
		}
	}

	text := t.QueryText
	if r.AnnotateQuery() {
		text = query.Annotation(t.ID, t.QueryHash) + " " + text
	}

	start := time.Now()
	data, err := r.Run(ctx, text, runner.RunOptions{MaxRows: m.cfg.MaxRows})
	elapsed := time.Since(start)
	if err != nil {
		return nil, elapsed, err
	}
	return data, elapsed, nil
}
