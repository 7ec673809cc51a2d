package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/redbeam/redbeam/cmd/redbeam/commands"
	"github.com/redbeam/redbeam/logger"
)

var rootCmd = &cobra.Command{
	Use:   "redbeam",
	Short: "redbeam - query execution engine",
	Long: `redbeam - query execution over heterogeneous data sources.

redbeam normalizes SQL and non-SQL backends into one tabular result
contract, runs queries asynchronously through a worker pool, and keeps
scheduled queries fresh with a background refresh loop.

Available commands:
  daemon  - Run the execution workers and refresh scheduler
  source  - Manage data sources
  query   - Submit, run, schedule, and inspect queries
  db      - Manage the metadata database
  version - Show version information

Examples:
  redbeam source add --name analytics --type pg --options '{"dbname":"app"}'
  redbeam query run --source 1 "SELECT count(*) FROM events"
  redbeam daemon`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to a TOML config file")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON")

	rootCmd.AddCommand(commands.DaemonCmd)
	rootCmd.AddCommand(commands.SourceCmd)
	rootCmd.AddCommand(commands.QueryCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
