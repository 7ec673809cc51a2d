package commands

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/redbeam/redbeam/errors"
	"github.com/redbeam/redbeam/query"
	"github.com/redbeam/redbeam/runner"

	_ "github.com/redbeam/redbeam/runner/elastic"
	_ "github.com/redbeam/redbeam/runner/postgres"
	_ "github.com/redbeam/redbeam/runner/sqlite"
)

// SourceCmd manages data sources.
var SourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Manage data sources",
	Long: `Manage the data sources queries run against.

Examples:
  redbeam source add --name analytics --type pg --options '{"dbname":"app","host":"db1"}'
  redbeam source ls
  redbeam source schema elasticsearch
  redbeam source rm 3`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var sourceAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a new data source",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		typeName, _ := cmd.Flags().GetString("type")
		optionsJSON, _ := cmd.Flags().GetString("options")

		options := runner.Configuration{}
		if optionsJSON != "" {
			if err := json.Unmarshal([]byte(optionsJSON), &options); err != nil {
				return errors.Wrap(err, "options must be a JSON object")
			}
		}

		// Validate the configuration against the runner's schema before
		// anything is persisted.
		reg, err := runner.Lookup(typeName)
		if err != nil {
			return err
		}
		if _, err := reg.New(options); err != nil {
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

		ds := &query.DataSource{Name: name, Type: typeName, Options: options}
		if err := query.NewStore(database).CreateDataSource(ds); err != nil {
			return err
		}

		fmt.Printf("Created data source %d (%s, type %s)\n", ds.ID, ds.Name, ds.Type)
		return nil
	},
}

var sourceLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List data sources",
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

		sources, err := query.NewStore(database).ListDataSources()
		if err != nil {
			return err
		}
		if len(sources) == 0 {
			fmt.Println("No data sources registered")
			return nil
		}

		fmt.Printf("%-5s %-20s %-15s %s\n", "ID", "NAME", "TYPE", "CREATED")
		for _, ds := range sources {
			fmt.Printf("%-5d %-20s %-15s %s\n", ds.ID, ds.Name, ds.Type, ds.CreatedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var sourceRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a data source and its queries and cached results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return errors.NewInvalidRequestError("invalid data source id %q", args[0])
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

		if err := query.NewStore(database).DeleteDataSource(id); err != nil {
			return err
		}
		fmt.Printf("Deleted data source %d\n", id)
		return nil
	},
}

var sourceTypesCmd = &cobra.Command{
	Use:   "types",
	Short: "List available backend types",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range runner.Default.AvailableTypes() {
			fmt.Println(name)
		}
		return nil
	},
}

var sourceSchemaCmd = &cobra.Command{
	Use:   "schema <type>",
	Short: "Show the configuration schema for a backend type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := runner.Lookup(args[0])
		if err != nil {
			return err
		}

		output, err := json.MarshalIndent(reg.Schema(), "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to format schema")
		}
		fmt.Println(string(output))
		return nil
	},
}

func init() {
	sourceAddCmd.Flags().String("name", "", "Data source name")
	sourceAddCmd.Flags().String("type", "", "Backend type (see 'source types')")
	sourceAddCmd.Flags().String("options", "", "Backend configuration as JSON")
	sourceAddCmd.MarkFlagRequired("name")
	sourceAddCmd.MarkFlagRequired("type")

	SourceCmd.AddCommand(sourceAddCmd)
	SourceCmd.AddCommand(sourceLsCmd)
	SourceCmd.AddCommand(sourceRmCmd)
	SourceCmd.AddCommand(sourceTypesCmd)
	SourceCmd.AddCommand(sourceSchemaCmd)
}
