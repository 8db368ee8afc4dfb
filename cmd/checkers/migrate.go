package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/liamcoop/checkers/internal/logger"
	"github.com/liamcoop/checkers/store"
)

var (
	migrateDatabase string
	migrateDriver   string
	migratePath     string
	migrateCommand  string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [version]",
	Short: "Apply or inspect database migrations",
	Long: `Run golang-migrate against the checker store. The database URL and driver
default to database.url and database.driver from the configuration. force
takes the version to record as an argument.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().StringVar(&migrateDatabase, "database", "", "Database URL (defaults to database.url / DATABASE_URL)")
	migrateCmd.Flags().StringVar(&migrateDriver, "driver", "", "Database driver: postgres or sqlite3")
	migrateCmd.Flags().StringVar(&migratePath, "path", "", "Migrations directory holding one folder per driver")
	migrateCmd.Flags().StringVar(&migrateCommand, "command", store.MigrateUp, "Migration command: up, down, version, force")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	databaseURL := migrateDatabase
	if databaseURL == "" {
		databaseURL = cfg.Database.URL
	}
	if databaseURL == "" {
		return fmt.Errorf("database URL is required, use --database or DATABASE_URL")
	}
	driver := migrateDriver
	if driver == "" {
		driver = cfg.Database.Driver
	}
	if driver != store.DriverPostgres && driver != store.DriverSQLite {
		return fmt.Errorf("migrations need a postgres or sqlite3 driver, got %q", driver)
	}
	path := migratePath
	if path == "" {
		path = cfg.Database.Migrations
	}

	version := 0
	if migrateCommand == store.MigrateForce {
		if len(args) < 1 {
			return fmt.Errorf("force command requires a version number: --command force <version>")
		}
		version, err = strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version number: %w", err)
		}
	}

	logger.Info("running migrations", "command", migrateCommand, "driver", driver, "path", path)
	return store.Migrate(driver, databaseURL, path, migrateCommand, version)
}
