package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/finploy/sitemap-crawler/internal/api"
	"github.com/finploy/sitemap-crawler/internal/config"
	"github.com/finploy/sitemap-crawler/internal/crawler"
	"github.com/finploy/sitemap-crawler/internal/discovery"
	"github.com/finploy/sitemap-crawler/internal/fetcher/headless"
	"github.com/finploy/sitemap-crawler/internal/fetcher/static"
	"github.com/finploy/sitemap-crawler/internal/frontier/memory"
	"github.com/finploy/sitemap-crawler/internal/frontier/postgres"
	"github.com/finploy/sitemap-crawler/internal/logging"
	"github.com/finploy/sitemap-crawler/internal/orchestrator"
	"github.com/finploy/sitemap-crawler/internal/robots"
	"github.com/finploy/sitemap-crawler/internal/router"
	"github.com/finploy/sitemap-crawler/internal/sitemap"
)

func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs a breadth-first crawl and writes sitemap XML",
		Long: `Crawls the configured seed URLs level by level, fetching each page
statically or via headless rendering, and writes the discovered pages
as sitemaps.org XML files.`,
		RunE: runCrawl,
	}
	return cmd
}

func runCrawl(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	frontier, closeFrontier, err := buildFrontier(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeFrontier()

	strategyRouter, closeRouter, err := buildRouter(cfg, logger)
	if err != nil {
		return err
	}
	defer closeRouter()

	seeds := cfg.Crawler.Seeds
	if cfg.Crawler.DiscoverSeeds {
		disc := discovery.New(cfg.Crawler.UserAgent, cfg.HTTPTimeout(), logger)
		for _, seed := range cfg.Crawler.Seeds {
			seeds = append(seeds, disc.Seeds(ctx, seed)...)
		}
	}

	skip, err := crawler.NewSkipList(cfg.Crawler.SkipPatterns)
	if err != nil {
		return fmt.Errorf("compile skip patterns: %w", err)
	}

	orch, err := orchestrator.New(frontier, strategyRouter, skip, orchestrator.Config{
		Seeds:          seeds,
		AllowedDomains: cfg.Crawler.AllowedDomains,
		MaxDepth:       cfg.Crawler.MaxDepth,
		Concurrency:    cfg.Crawler.Concurrency,
		BatchSize:      cfg.Crawler.BatchSize,
		Delay:          cfg.Delay(),
		MaxURLs:        cfg.Crawler.MaxURLs,
	}, nil, logger)
	if err != nil {
		return err
	}

	if cfg.Server.Enabled {
		srv := api.NewServer(orch, logger)
		go func() {
			if serr := srv.Serve(ctx, cfg.Server.Port); serr != nil {
				logger.Error("status server stopped", zap.Error(serr))
			}
		}()
	}

	summary, err := orch.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("crawl run: %w", err)
	}

	// The run context may already be cancelled (SIGINT); emission of the
	// partial result still needs a live context.
	emitCtx, emitCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer emitCancel()

	records, err := orch.Snapshot(emitCtx)
	if err != nil {
		return err
	}
	writer := sitemap.New(sitemap.Config{
		OutputDir:  cfg.Sitemap.OutputDir,
		MaxPerFile: cfg.Sitemap.MaxPerFile,
		Compress:   cfg.Sitemap.Compress,
	}, nil, logger)
	files, err := writer.Write(records, firstSeedBase(cfg.Crawler.Seeds))
	if err != nil {
		return fmt.Errorf("write sitemap: %w", err)
	}

	logger.Info("run complete",
		zap.String("run_id", summary.RunID),
		zap.Int("discovered", summary.TotalDiscovered),
		zap.Int("fetched", summary.TotalFetched),
		zap.Int("failed", summary.TotalFailed),
		zap.Int("max_depth", summary.MaxDepthReached),
		zap.Duration("duration", summary.Duration),
		zap.Strings("sitemaps", files))
	return nil
}

// buildFrontier selects the durable Postgres frontier when a DSN is
// configured, and the in-memory frontier otherwise.
func buildFrontier(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.FrontierStore, func(), error) {
	if cfg.DB.DSN == "" {
		logger.Info("using in-memory frontier; crawl state will not survive restarts")
		return memory.New(nil), func() {}, nil
	}
	store, err := postgres.New(ctx, postgres.Config{
		DSN:             cfg.DB.DSN,
		Table:           cfg.DB.Table,
		MaxConns:        int32(cfg.DB.MaxConns),
		MaxConnLifetime: time.Duration(cfg.DB.ConnLifetimeSec) * time.Second,
	}, nil, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init frontier store: %w", err)
	}
	return store, store.Close, nil
}

func buildRouter(cfg config.Config, logger *zap.Logger) (*router.Router, func(), error) {
	staticFetcher := static.New(static.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.HTTPTimeout(),
	}, logger)

	var dynamicFetcher crawler.Fetcher
	closeFn := func() {}
	if cfg.Headless.Enabled {
		hf, err := headless.New(headless.Config{
			MaxParallel:     cfg.Headless.MaxParallel,
			UserAgent:       cfg.Crawler.UserAgent,
			NavTimeout:      cfg.NavTimeout(),
			MaxInteractions: cfg.Headless.MaxInteractions,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("init headless fetcher: %w", err)
		}
		dynamicFetcher = hf
		closeFn = hf.Close
	}

	r, err := router.New(router.Config{
		Static:     staticFetcher,
		Dynamic:    dynamicFetcher,
		Classifier: crawler.NewClassifier(cfg.PatternRules),
		Robots:     robots.New(cfg.Crawler.RespectRobots, cfg.Crawler.UserAgent, logger),
		Retry: crawler.NewExponentialRetryPolicy(
			cfg.HTTP.MaxRetries,
			time.Duration(cfg.HTTP.BackoffInitialMs)*time.Millisecond,
			time.Duration(cfg.HTTP.BackoffMaxMs)*time.Millisecond,
		),
		DynamicPaths: cfg.Crawler.DynamicPaths,
		Logger:       logger,
	})
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("init router: %w", err)
	}
	return r, closeFn, nil
}

// firstSeedBase derives the public base URL for sitemap index locations
// from the first seed.
func firstSeedBase(seeds []string) string {
	if len(seeds) == 0 {
		return ""
	}
	normalized, err := crawler.Normalize(seeds[0], "")
	if err != nil {
		return seeds[0]
	}
	parsed, err := url.Parse(normalized)
	if err != nil {
		return normalized
	}
	return parsed.Scheme + "://" + parsed.Host
}
