package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Ticker invokes the scheduler's scan-and-submit cycle on a fixed
// cadence, independent of any single query's interval. The cycle is
// lightweight and single-threaded; overlap between a cycle's tasks and
// the next cycle is handled by the in-flight check, not by the ticker.
type Ticker struct {
	scheduler *Scheduler
	interval  time.Duration
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *zap.SugaredLogger

	mu              sync.Mutex
	lastTickAt      time.Time
	ticksSinceStart int64
}

// TickerConfig contains configuration for the refresh ticker.
type TickerConfig struct {
	Interval time.Duration // how often to run a refresh cycle
}

// DefaultTickerConfig returns sensible defaults.
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{Interval: 30 * time.Second}
}

// NewTicker creates a refresh ticker.
func NewTicker(scheduler *Scheduler, cfg TickerConfig, logger *zap.SugaredLogger) *Ticker {
	return NewTickerWithContext(context.Background(), scheduler, cfg, logger)
}

// NewTickerWithContext creates a ticker with a parent context.
func NewTickerWithContext(ctx context.Context, scheduler *Scheduler, cfg TickerConfig, logger *zap.SugaredLogger) *Ticker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTickerConfig().Interval
	}
	tickerCtx, cancel := context.WithCancel(ctx)
	return &Ticker{
		scheduler: scheduler,
		interval:  cfg.Interval,
		ctx:       tickerCtx,
		cancel:    cancel,
		logger:    logger,
	}
}

// Start begins the ticker loop.
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	if t.logger != nil {
		t.logger.Infow("Refresh ticker started", "interval", t.interval)
	}
}

// Stop gracefully stops the ticker.
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	if t.logger != nil {
		t.logger.Infow("Refresh ticker stopped")
	}
}

func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case tickTime := <-ticker.C:
			t.mu.Lock()
			t.lastTickAt = tickTime
			t.ticksSinceStart++
			t.mu.Unlock()

			if _, err := t.scheduler.RunCycle(t.ctx); err != nil && t.logger != nil {
				t.logger.Warnw("Refresh cycle error", "error", err)
			}
		}
	}
}

// Stats returns ticker statistics.
func (t *Ticker) Stats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	return map[string]interface{}{
		"last_tick_at":      t.lastTickAt,
		"ticks_since_start": t.ticksSinceStart,
		"interval":          t.interval,
	}
}
