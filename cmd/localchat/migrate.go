package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/comigor/localchat/internal/config"
	"github.com/comigor/localchat/internal/history"
	"github.com/comigor/localchat/internal/logger"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations for the postgres history driver",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.History.Driver != config.DriverPostgres {
				logger.L.Info("nothing to migrate", "driver", cfg.History.Driver)
				return nil
			}
			if cfg.History.DSN == "" {
				return errors.New("migrate: history.dsn is required")
			}
			return history.RunMigrations(cfg.History.DSN)
		},
	}
}
