package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/finploy/sitemap-crawler/internal/config"
	"github.com/finploy/sitemap-crawler/internal/frontier/postgres"
	"github.com/finploy/sitemap-crawler/internal/logging"
)

func newCleanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Truncates the durable frontier table",
		Long: `Removes all crawl state from the configured Postgres frontier so
the next crawl starts from scratch. Errors when no database DSN is set,
since the in-memory frontier holds no state between runs.`,
		RunE: runClean,
	}
	return cmd
}

func runClean(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if cfg.DB.DSN == "" {
		return fmt.Errorf("clean requires db.dsn; the in-memory frontier has nothing to clean")
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	store, err := postgres.New(cmd.Context(), postgres.Config{
		DSN:             cfg.DB.DSN,
		Table:           cfg.DB.Table,
		MaxConns:        int32(cfg.DB.MaxConns),
		MaxConnLifetime: time.Duration(cfg.DB.ConnLifetimeSec) * time.Second,
	}, nil, logger)
	if err != nil {
		return fmt.Errorf("init frontier store: %w", err)
	}
	defer store.Close()

	if err := store.Reset(cmd.Context()); err != nil {
		return fmt.Errorf("reset frontier: %w", err)
	}
	logger.Info("frontier table truncated")
	return nil
}
