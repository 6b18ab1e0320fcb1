package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fastbudget/internal/cli"
	"fastbudget/internal/log"
	"fastbudget/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply client storage migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := cli.LoadAndValidateConfig()
		if err != nil {
			return err
		}
		logger := cli.SetupLogger(cfg)

		if cfg.StorageBackend != "sqlite" {
			logger.Info("Nothing to migrate", "storage", cfg.StorageBackend)
			return nil
		}
		if err := storage.RunMigrations(cfg.SQLiteDBPath); err != nil {
			return fmt.Errorf("migrate %s: %w", cfg.SQLiteDBPath, err)
		}
		logger.Info("Migrations applied", log.FieldOperation, log.OpMigrate, "path", cfg.SQLiteDBPath)
		return nil
	},
}
