package main

import (
	"errors"

	"github.com/ageniuscoder/roomtalk/backend/internal/storage/postgres"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the postgres schema and exit",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()
	if cfg.Store.Driver != "postgres" || cfg.Store.PostgresDSN == "" {
		return errors.New("migrate needs store.driver=postgres and store.postgres_dsn")
	}

	pg, err := postgres.New(cfg.Store.PostgresDSN, cfg.Store.Timeout, log)
	if err != nil {
		return err
	}
	defer pg.Close(cmd.Context())

	if err := pg.Migrate(cmd.Context()); err != nil {
		return err
	}
	log.Info("migration completed")
	return nil
}
