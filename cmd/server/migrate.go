package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dex-analytics/internal/config"
	"dex-analytics/internal/logging"
	"dex-analytics/internal/storage/migrations"
	pgstore "dex-analytics/internal/storage/postgres"
)

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded SQL migrations",
		RunE:  migrateFunc,
	}
}

func migrateFunc(c *cobra.Command, _ []string) error {
	envFile, _ := c.Flags().GetString("env-file")
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	if cfg.UseMemory {
		return fmt.Errorf("nothing to migrate with USE_MEMORY=true")
	}

	logger, err := logging.New()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := c.Context()
	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		return err
	}
	logger.Info("postgres migrations applied")

	if cfg.ClickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
		if err != nil {
			return err
		}
		_ = conn.Close()
		logger.Info("clickhouse migrations applied")
	}
	return nil
}

