package commands

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/redbeam/redbeam/errors"
	"github.com/redbeam/redbeam/logger"
	"github.com/redbeam/redbeam/query"
	"github.com/redbeam/redbeam/result"
	"github.com/redbeam/redbeam/runner"
	"github.com/redbeam/redbeam/task"
	"github.com/redbeam/redbeam/types"
)

// QueryCmd manages queries and their executions.
var QueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Submit, run, schedule, and inspect queries",
	Long: `Submit, run, schedule, and inspect queries.

'run' executes a query synchronously and prints the result. 'submit'
enqueues a task for a running daemon and prints the handle; use
'status', 'result', and 'cancel' with that handle.

Examples:
  redbeam query run --source 1 "SELECT count(*) FROM events"
  redbeam query run --source 1 --param org=42 "SELECT * FROM users WHERE org_id = {{org}}"
  redbeam query submit --source 1 "SELECT * FROM big_table"
  redbeam query add --source 1 --name daily-count "SELECT count(*) FROM events" --every 3600`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var queryRunCmd = &cobra.Command{
	Use:   "run <text>",
	Short: "Execute a query synchronously and print the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sourceID, _ := cmd.Flags().GetInt64("source")
		paramFlags, _ := cmd.Flags().GetStringSlice("param")
		jsonOutput, _ := cmd.Flags().GetBool("json")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		params, err := parseParams(paramFlags)
		if err != nil {
			return err
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		runner.Default.Restrict(cfg.Runners.Enabled, cfg.Runners.Additional)

		sources := query.NewStore(database)
		results := result.NewStore(database)
		ds, err := sources.GetDataSource(sourceID)
		if err != nil {
			return err
		}

		// An inline single-worker pool: submit, wait, print.
		manager := task.NewManager(database, sources, results, runner.Default, task.Config{
			Workers:      1,
			PollInterval: 50 * time.Millisecond,
			MaxRows:      cfg.Execution.MaxRows,
		}, logger.Logger)
		manager.Start()
		defer manager.Stop()

		handle, err := manager.Submit(args[0], ds, params, nil)
		if err != nil {
			return err
		}

		deadline := time.Now().Add(timeout)
		for {
			status, err := manager.Status(handle)
			if err != nil {
				return err
			}
			if status.IsTerminal() {
				break
			}
			if time.Now().After(deadline) {
				manager.Cancel(handle)
				return errors.Wrapf(errors.ErrCancelled, "query did not finish within %v", timeout)
			}
			time.Sleep(50 * time.Millisecond)
		}

		res, err := manager.Result(handle)
		if err != nil {
			return err
		}
		return printResult(res, jsonOutput)
	},
}

var querySubmitCmd = &cobra.Command{
	Use:   "submit <text>",
	Short: "Enqueue a query task for the daemon and print its handle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sourceID, _ := cmd.Flags().GetInt64("source")
		paramFlags, _ := cmd.Flags().GetStringSlice("param")

		params, err := parseParams(paramFlags)
		if err != nil {
			return err
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		runner.Default.Restrict(cfg.Runners.Enabled, cfg.Runners.Additional)

		sources := query.NewStore(database)
		results := result.NewStore(database)
		ds, err := sources.GetDataSource(sourceID)
		if err != nil {
			return err
		}

		// The manager is never started here; a running daemon picks the
		// task up from the shared queue.
		manager := task.NewManager(database, sources, results, runner.Default, task.DefaultConfig(), logger.Logger)
		handle, err := manager.Submit(args[0], ds, params, nil)
		if err != nil {
			return err
		}

		fmt.Println(handle)
		return nil
	},
}

var queryStatusCmd = &cobra.Command{
	Use:   "status <handle>",
	Short: "Show a task's current state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		t, err := task.NewQueue(database).Get(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Task:    %s\n", t.ID)
		fmt.Printf("Status:  %s\n", t.Status)
		fmt.Printf("Created: %s\n", t.CreatedAt.Format(time.RFC3339))
		if t.StartedAt != nil {
			fmt.Printf("Started: %s\n", t.StartedAt.Format(time.RFC3339))
		}
		if t.CompletedAt != nil {
			fmt.Printf("Done:    %s\n", t.CompletedAt.Format(time.RFC3339))
		}
		if t.Error != "" {
			fmt.Printf("Error:   %s\n", t.Error)
		}
		return nil
	},
}

var queryResultCmd = &cobra.Command{
	Use:   "result <handle>",
	Short: "Print the stored result of a succeeded task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		sources := query.NewStore(database)
		results := result.NewStore(database)
		manager := task.NewManager(database, sources, results, runner.Default, task.DefaultConfig(), logger.Logger)

		res, err := manager.Result(args[0])
		if err != nil {
			return err
		}
		return printResult(res, jsonOutput)
	},
}

var queryCancelCmd = &cobra.Command{
	Use:   "cancel <handle>",
	Short: "Cancel a waiting task",
	Long: `Cancel a waiting task.

A task the daemon has already picked up can only be interrupted from
the daemon process itself; this command cancels tasks still waiting in
the queue.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		queue := task.NewQueue(database)
		done, err := queue.CancelIfCreated(args[0], "cancelled by caller")
		if err != nil {
			return err
		}
		if !done {
			t, err := queue.Get(args[0])
			if err != nil {
				return err
			}
			if t.Status.IsTerminal() {
				fmt.Printf("Task %s already %s\n", args[0], t.Status)
				return nil
			}
			return errors.NewInvalidRequestError("task %s is %s; cancel it from the daemon", args[0], t.Status)
		}

		fmt.Printf("Cancelled task %s\n", args[0])
		return nil
	},
}

var queryAddCmd = &cobra.Command{
	Use:   "add <text>",
	Short: "Save a named query, optionally on a refresh schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sourceID, _ := cmd.Flags().GetInt64("source")
		name, _ := cmd.Flags().GetString("name")
		every, _ := cmd.Flags().GetInt64("every")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		q := &query.Query{DataSourceID: sourceID, Name: name, Text: args[0]}
		if every > 0 {
			q.Schedule = &every
		}
		if err := query.NewStore(database).CreateQuery(q); err != nil {
			return err
		}

		fmt.Printf("Created query %d (hash %s)\n", q.ID, q.Hash)
		if q.Schedule != nil {
			fmt.Printf("Refreshed every %ds while the daemon runs\n", *q.Schedule)
		}
		return nil
	},
}

var queryScheduleCmd = &cobra.Command{
	Use:   "schedule <id>",
	Short: "Set or clear a saved query's refresh interval",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		every, _ := cmd.Flags().GetInt64("every")
		never, _ := cmd.Flags().GetBool("never")

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return errors.NewInvalidRequestError("invalid query id %q", args[0])
		}
		if !never && every <= 0 {
			return errors.NewInvalidRequestError("pass --every <seconds> or --never")
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		store := query.NewStore(database)
		if never {
			if err := store.SetSchedule(id, nil); err != nil {
				return err
			}
			fmt.Printf("Query %d removed from automatic refresh\n", id)
			return nil
		}
		if err := store.SetSchedule(id, &every); err != nil {
			return err
		}
		fmt.Printf("Query %d refreshed every %ds while the daemon runs\n", id, every)
		return nil
	},
}

var queryArchiveCmd = &cobra.Command{
	Use:   "archive <id>",
	Short: "Archive a saved query, keeping its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return errors.NewInvalidRequestError("invalid query id %q", args[0])
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		if err := query.NewStore(database).ArchiveQuery(id); err != nil {
			return err
		}
		fmt.Printf("Archived query %d\n", id)
		return nil
	},
}

// parseParams turns repeated key=value flags into a parameter map.
func parseParams(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, errors.NewInvalidRequestError("parameter %q is not key=value", pair)
		}
		params[key] = value
	}
	return params, nil
}

// printResult renders a stored result as a table or as JSON.
func printResult(res *result.QueryResult, jsonOutput bool) error {
	if jsonOutput {
		output, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to format result")
		}
		fmt.Println(string(output))
		return nil
	}

	columns := res.Data.Columns
	for i, col := range columns {
		if i > 0 {
			fmt.Print("\t")
		}
		fmt.Print(col.FriendlyName)
	}
	fmt.Println()

	for _, row := range res.Data.Rows {
		for i, col := range columns {
			if i > 0 {
				fmt.Print("\t")
			}
			fmt.Print(types.FormatScalar(row[col.Name]))
		}
		fmt.Println()
	}

	fmt.Printf("\n%d row(s) in %.3fs, retrieved %s\n",
		len(res.Data.Rows), res.Runtime, res.RetrievedAt.Format(time.RFC3339))
	return nil
}

func init() {
	queryRunCmd.Flags().Int64("source", 0, "Data source ID")
	queryRunCmd.Flags().StringSlice("param", nil, "Query parameter as key=value (repeatable)")
	queryRunCmd.Flags().Bool("json", false, "Print the result as JSON")
	queryRunCmd.Flags().Duration("timeout", 5*time.Minute, "Abort if the query takes longer than this")
	queryRunCmd.MarkFlagRequired("source")

	querySubmitCmd.Flags().Int64("source", 0, "Data source ID")
	querySubmitCmd.Flags().StringSlice("param", nil, "Query parameter as key=value (repeatable)")
	querySubmitCmd.MarkFlagRequired("source")

	queryResultCmd.Flags().Bool("json", false, "Print the result as JSON")

	queryAddCmd.Flags().Int64("source", 0, "Data source ID")
	queryAddCmd.Flags().String("name", "", "Query name")
	queryAddCmd.Flags().Int64("every", 0, "Refresh interval in seconds (0 = no schedule)")
	queryAddCmd.MarkFlagRequired("source")

	queryScheduleCmd.Flags().Int64("every", 0, "Refresh interval in seconds")
	queryScheduleCmd.Flags().Bool("never", false, "Remove the query from automatic refresh")

	QueryCmd.AddCommand(queryRunCmd)
	QueryCmd.AddCommand(querySubmitCmd)
	QueryCmd.AddCommand(queryStatusCmd)
	QueryCmd.AddCommand(queryResultCmd)
	QueryCmd.AddCommand(queryCancelCmd)
	QueryCmd.AddCommand(queryAddCmd)
	QueryCmd.AddCommand(queryScheduleCmd)
	QueryCmd.AddCommand(queryArchiveCmd)
}
