package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// DbCmd manages the metadata database.
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the metadata database",
	Long: `Manage the metadata database.

Examples:
  redbeam db migrate   # Apply pending schema migrations
  redbeam db stats     # Show table counts`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
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

		fmt.Printf("Database at %s is up to date\n", cfg.Database.Path)
		return nil
	},
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show table counts",
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

		fmt.Printf("Database: %s\n\n", cfg.Database.Path)
		for _, table := range []string{"data_sources", "queries", "query_results", "execution_tasks"} {
			var count int
			if err := database.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
				return fmt.Errorf("failed to count %s: %w", table, err)
			}
			fmt.Printf("%-16s %d\n", table, count)
		}
		return nil
	},
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}
