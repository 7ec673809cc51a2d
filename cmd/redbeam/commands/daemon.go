package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/redbeam/redbeam/logger"
	"github.com/redbeam/redbeam/query"
	"github.com/redbeam/redbeam/result"
	"github.com/redbeam/redbeam/runner"
	"github.com/redbeam/redbeam/scheduler"
	"github.com/redbeam/redbeam/task"

	// Query runner registrations.
	_ "github.com/redbeam/redbeam/runner/elastic"
	_ "github.com/redbeam/redbeam/runner/postgres"
	_ "github.com/redbeam/redbeam/runner/sqlite"
)

// DaemonCmd runs the execution workers and the refresh scheduler.
var DaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the execution workers and refresh scheduler",
	Long: `Run redbeam in foreground mode.

The daemon will:
- Start the worker pool that executes submitted query tasks
- Start the refresh loop that keeps scheduled queries fresh
- Run until interrupted (Ctrl+C) with graceful shutdown`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if workers, _ := cmd.Flags().GetInt("workers"); workers > 0 {
			cfg.Execution.Workers = workers
		}

		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		runner.Default.Restrict(cfg.Runners.Enabled, cfg.Runners.Additional)

		sources := query.NewStore(database)
		results := result.NewStore(database)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		managerCfg := task.Config{
			Workers:       cfg.Execution.Workers,
			PollInterval:  cfg.Execution.PollInterval(),
			MaxRows:       cfg.Execution.MaxRows,
			Retention:     cfg.Execution.Retention(),
			RatePerSecond: cfg.Execution.RatePerSecond,
		}
		manager := task.NewManagerWithContext(ctx, database, sources, results, runner.Default, managerCfg, logger.Logger)
		manager.Start()

		sched := scheduler.New(sources, results, manager, logger.Logger)

		// The refresh loop runs either on a fixed interval or, when
		// configured, on a cron expression.
		var stopRefresh func()
		if cfg.Scheduler.Cron != "" {
			c := cron.New()
			if _, err := c.AddFunc(cfg.Scheduler.Cron, func() {
				if _, err := sched.RunCycle(ctx); err != nil {
					logger.Warnw("Refresh cycle error", "error", err)
				}
			}); err != nil {
				manager.Stop()
				return fmt.Errorf("invalid scheduler cron expression %q: %w", cfg.Scheduler.Cron, err)
			}
			c.Start()
			stopRefresh = func() {
				stopCtx := c.Stop()
				select {
				case <-stopCtx.Done():
				case <-time.After(30 * time.Second):
					logger.Warnw("Refresh cycle shutdown timed out")
				}
			}
		} else {
			ticker := scheduler.NewTickerWithContext(ctx, sched, scheduler.TickerConfig{
				Interval: cfg.Scheduler.Interval(),
			}, logger.Logger)
			ticker.Start()
			stopRefresh = ticker.Stop
		}

		fmt.Println("redbeam daemon started")
		fmt.Printf("  Database:        %s\n", cfg.Database.Path)
		fmt.Printf("  Workers:         %d\n", cfg.Execution.Workers)
		fmt.Printf("  Poll interval:   %v\n", cfg.Execution.PollInterval())
		if cfg.Scheduler.Cron != "" {
			fmt.Printf("  Refresh cron:    %s\n", cfg.Scheduler.Cron)
		} else {
			fmt.Printf("  Refresh cadence: %v\n", cfg.Scheduler.Interval())
		}
		fmt.Printf("  Runner types:    %v\n", runner.Default.AvailableTypes())
		fmt.Println("\nPress Ctrl+C for graceful shutdown")

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		fmt.Println("\nShutting down...")

		// Stop in reverse order of startup so nothing submits into a
		// stopped worker pool.
		stopRefresh()
		manager.Stop()
		cancel()

		fmt.Println("redbeam daemon stopped")
		return nil
	},
}

func init() {
	DaemonCmd.Flags().Int("workers", 0, "Number of concurrent workers (overrides config)")
}
