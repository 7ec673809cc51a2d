package commands

import (
	"database/sql"

	"github.com/spf13/cobra"

	"github.com/redbeam/redbeam/config"
	"github.com/redbeam/redbeam/db"
	"github.com/redbeam/redbeam/errors"
	"github.com/redbeam/redbeam/logger"
)

// loadConfig loads configuration, honoring the global --config flag.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}
	return cfg, nil
}

// openDatabase opens and migrates the metadata database at the
// configured path. Uses logger.Logger for db operations.
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	database, err := db.OpenWithMigrations(cfg.Database.Path, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", cfg.Database.Path)
	}
	return database, nil
}
