package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redbeam/redbeam/query"
)

// lockedExecutor guards the recorder against the ticker goroutine.
type lockedExecutor struct {
	mu    sync.Mutex
	inner *recordingExecutor
}

func (l *lockedExecutor) Submit(text string, ds *query.DataSource, params map[string]string, metadata map[string]interface{}) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.Submit(text, ds, params, metadata)
}

func (l *lockedExecutor) HasActive(queryHash string, dataSourceID int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.HasActive(queryHash, dataSourceID)
}

func (l *lockedExecutor) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.inner.submissions)
}

func TestTickerRunsCycles(t *testing.T) {
	f := newFixture(t)
	ds := f.createDataSource(t, "analytics")
	f.createScheduledQuery(t, ds, "SELECT 1", 60)

	locked := &lockedExecutor{inner: f.executor}
	f.scheduler.executor = locked

	ticker := NewTicker(f.scheduler, TickerConfig{Interval: 10 * time.Millisecond}, nil)
	ticker.Start()
	defer ticker.Stop()

	require.Eventually(t, func() bool {
		return locked.count() > 0
	}, 5*time.Second, 5*time.Millisecond)

	stats := ticker.Stats()
	assert.Positive(t, stats["ticks_since_start"])
}

func TestTickerStopIsClean(t *testing.T) {
	f := newFixture(t)

	ticker := NewTicker(f.scheduler, TickerConfig{Interval: 10 * time.Millisecond}, nil)
	ticker.Start()
	time.Sleep(30 * time.Millisecond)
	ticker.Stop()

	// No goroutine is left ticking after Stop returns.
	stats := ticker.Stats()
	ticks := stats["ticks_since_start"]
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, ticks, ticker.Stats()["ticks_since_start"])
}
