package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/redbeam/redbeam/errors"
	"github.com/redbeam/redbeam/query"
	"github.com/redbeam/redbeam/result"
	"github.com/redbeam/redbeam/runner"
)

// Config contains execution layer configuration.
type Config struct {
	Workers       int           `json:"workers"`         // concurrent workers
	PollInterval  time.Duration `json:"poll_interval"`   // how often workers check for new tasks
	MaxRows       int           `json:"max_rows"`        // per-execution row ceiling
	Retention     time.Duration `json:"retention"`       // how long terminal tasks stay queryable
	RatePerSecond float64       `json:"rate_per_second"` // per-data-source execution rate; 0 disables the gate
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:      2,
		PollInterval: time.Second,
		MaxRows:      runner.DefaultMaxRows,
		Retention:    7 * 24 * time.Hour,
	}
}

// Manager is the execution layer: it accepts submissions, dispatches
// them to a worker pool, tracks lifecycle, and supports cancellation
// by handle.
type Manager struct {
	cfg      Config
	queue    *Queue
	sources  *query.Store
	results  *result.Store
	registry *runner.Registry
	logger   *zap.SugaredLogger

	parentCtx context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu       sync.Mutex
	cancels  map[string]context.CancelFunc
	limiters map[int64]*rate.Limiter
}

// NewManager creates an execution manager. Callers must Start() it
// before submitted tasks make progress.
func NewManager(db *sql.DB, sources *query.Store, results *result.Store, registry *runner.Registry, cfg Config, logger *zap.SugaredLogger) *Manager {
	return NewManagerWithContext(context.Background(), db, sources, results, registry, cfg, logger)
}

// NewManagerWithContext creates a manager whose workers stop when the
// parent context is cancelled. Useful for tests and for shutdown
// coordination from the daemon.
func NewManagerWithContext(ctx context.Context, db *sql.DB, sources *query.Store, results *result.Store, registry *runner.Registry, cfg Config, logger *zap.SugaredLogger) *Manager {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	workerCtx, cancel := context.WithCancel(ctx)
	return &Manager{
		cfg:       cfg,
		queue:     NewQueue(db),
		sources:   sources,
		results:   results,
		registry:  registry,
		logger:    logger,
		parentCtx: ctx,
		ctx:       workerCtx,
		cancel:    cancel,
		cancels:   make(map[string]context.CancelFunc),
		limiters:  make(map[int64]*rate.Limiter),
	}
}

// Submit creates a task for the given query text against a data source,
// after applying parameter substitution. A query with unresolved
// placeholders is rejected before any task exists. The returned handle
// is used for status, result, and cancel.
func (m *Manager) Submit(queryText string, ds *query.DataSource, params map[string]string, metadata map[string]interface{}) (string, error) {
	text, err := query.ApplyParameters(queryText, params)
	if err != nil {
		return "", err
	}

	// Fail fast on unusable backends instead of at execution time.
	if _, err := m.registry.Lookup(ds.Type); err != nil {
		return "", err
	}
	if !m.registry.IsEnabled(ds.Type) {
		return "", errors.Wrapf(errors.ErrConfiguration, "query runner type %q is disabled", ds.Type)
	}

	var metadataJSON json.RawMessage
	if metadata != nil {
		metadataJSON, err = json.Marshal(metadata)
		if err != nil {
			return "", errors.Wrap(err, "failed to marshal task metadata")
		}
	}

	t, err := NewTask(text, ds.ID, metadataJSON)
	if err != nil {
		return "", err
	}

	if err := m.queue.Enqueue(t); err != nil {
		return "", err
	}

	if m.logger != nil {
		m.logger.Debugw("Task submitted",
			"task_id", t.ID,
			"data_source_id", ds.ID,
			"query_hash", t.QueryHash,
		)
	}
	return t.ID, nil
}

// Status returns the task's current state, or NotFound for an unknown
// or expired handle.
func (m *Manager) Status(handle string) (Status, error) {
	t, err := m.queue.Get(handle)
	if err != nil {
		return "", err
	}
	return t.Status, nil
}

// Result returns the stored result of a succeeded task. A failed task
// yields its execution error, a cancelled task a cancellation error,
// and a task still in flight an invalid-request error.
func (m *Manager) Result(handle string) (*result.QueryResult, error) {
	t, err := m.queue.Get(handle)
	if err != nil {
		return nil, err
	}

	switch t.Status {
	case StatusSucceeded:
		if t.ResultID == nil {
			return nil, errors.Newf("task %s succeeded without a result", handle)
		}
		return m.results.Get(*t.ResultID)
	case StatusFailed:
		return nil, errors.Wrap(errors.ErrExecution, t.Error)
	case StatusCancelled:
		return nil, errors.Wrap(errors.ErrCancelled, t.Error)
	default:
		return nil, errors.NewInvalidRequestError("task %s is still %s", handle, t.Status)
	}
}

// Cancel transitions a Created or Running task to Cancelled. Cancelling
// a task already in a terminal state is a no-op. A Created task never
// enters Running; a Running task has its context cancelled and the
// runner abandons the backend call at its next checkpoint.
func (m *Manager) Cancel(handle string) error {
	t, err := m.queue.Get(handle)
	if err != nil {
		return err
	}

	if t.Status.IsTerminal() {
		return nil
	}

	// Waiting task: cancel in place, it never runs.
	done, err := m.queue.CancelIfCreated(handle, "cancelled by caller")
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	// Running task: signal its context; the worker records the terminal
	// state when the runner returns.
	m.mu.Lock()
	cancel, ok := m.cancels[handle]
	m.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

// limiterFor returns the shared rate gate for one data source.
func (m *Manager) limiterFor(dataSourceID int64) *rate.Limiter {
	if m.cfg.RatePerSecond <= 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.limiters[dataSourceID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(m.cfg.RatePerSecond), 1)
		m.limiters[dataSourceID] = l
	}
	return l
}

func (m *Manager) registerCancel(id string, cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels[id] = cancel
}

func (m *Manager) unregisterCancel(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cancels, id)
}

// HasActive reports whether a non-terminal task exists for the pair.
// The scheduler uses this to keep at most one in-flight execution per
// (query hash, data source).
func (m *Manager) HasActive(queryHash string, dataSourceID int64) (bool, error) {
	return m.queue.HasActive(queryHash, dataSourceID)
}

// Queue exposes the task queue.
func (m *Manager) Queue() *Queue {
	return m.queue
}
