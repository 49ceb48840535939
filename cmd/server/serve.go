package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dex-analytics/internal/config"
	"dex-analytics/internal/logging"
)

func serveCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "serve",
		Short: "Run ingestion, ledger reconstruction and the HTTP API",
		RunE:  serveFunc,
	}
	flags := c.Flags()
	flags.String("http-addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	flags.Bool("use-memory", false, "Use in-memory storage instead of Postgres and ClickHouse")
	flags.String("postgres-dsn", "", "Postgres connection string (overrides POSTGRES_DSN)")
	flags.String("clickhouse-dsn", "", "ClickHouse connection string (overrides CLICKHOUSE_DSN)")
	flags.String("env", "", "production or development (overrides ENV)")
	return c
}

// applyFlags overrides configuration with explicitly set flags.
func applyFlags(c *cobra.Command, cfg *config.Config) error {
	flags := c.Flags()
	if flags.Changed("http-addr") {
		cfg.HTTPAddr, _ = flags.GetString("http-addr")
	}
	if flags.Changed("use-memory") {
		cfg.UseMemory, _ = flags.GetBool("use-memory")
	}
	if flags.Changed("postgres-dsn") {
		cfg.PostgresDSN, _ = flags.GetString("postgres-dsn")
	}
	if flags.Changed("clickhouse-dsn") {
		cfg.ClickhouseDSN, _ = flags.GetString("clickhouse-dsn")
	}
	if flags.Changed("env") {
		cfg.Env, _ = flags.GetString("env")
	}
	return cfg.Validate()
}

func serveFunc(c *cobra.Command, _ []string) error {
	envFile, _ := c.Flags().GetString("env-file")
	cfg, err := config.Parse(envFile)
	if err != nil {
		return err
	}
	if err := applyFlags(c, &cfg); err != nil {
		return err
	}

	logger, err := logging.New()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := c.Context()
	srv, err := newServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer srv.Close()

	logger.Info("starting server",
		zap.String("env", cfg.Env),
		zap.String("addr", cfg.HTTPAddr),
		zap.Bool("memory", cfg.UseMemory),
		zap.Int64s("chains", cfg.ChainIDs))
	return srv.Run(ctx)
}
