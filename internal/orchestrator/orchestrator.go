// Package orchestrator drives the depth-synchronous BFS crawl loop.
// All depth-N entries are dequeued, dispatched, and their discoveries
// enqueued at depth N+1 before any depth-N+1 entry is dequeued; the
// depth-limit bookkeeping depends on that barrier.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/finploy/sitemap-crawler/internal/crawler"
	"github.com/finploy/sitemap-crawler/internal/metrics"
)

// FetchRouter is the orchestrator's view of the strategy router.
type FetchRouter interface {
	Fetch(ctx context.Context, rec crawler.URLRecord) crawler.FetchResult
}

// Config is the immutable policy for one crawl run.
type Config struct {
	Seeds          []string
	AllowedDomains []string
	MaxDepth       int
	Concurrency    int
	BatchSize      int
	Delay          time.Duration
	MaxURLs        int
}

func (c Config) validate() error {
	if len(c.Seeds) == 0 {
		return fmt.Errorf("%w: at least one seed URL is required", crawler.ErrConfiguration)
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("%w: max depth must be >= 0", crawler.ErrConfiguration)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("%w: concurrency must be > 0", crawler.ErrConfiguration)
	}
	return nil
}

// Orchestrator owns the crawl loop. The frontier store is the only
// shared mutable state; the orchestrator is its single writer for
// enqueues and result recording.
type Orchestrator struct {
	frontier crawler.FrontierStore
	router   FetchRouter
	skip     *crawler.SkipList
	cfg      Config
	allowed  map[string]struct{}
	limiter  *rate.Limiter
	clock    crawler.Clock
	logger   *zap.Logger
}

// New validates the config and builds an Orchestrator. When no domain
// allowlist is configured, the seed hosts become the allowlist.
func New(frontier crawler.FrontierStore, router FetchRouter, skip *crawler.SkipList, cfg Config, clock crawler.Clock, logger *zap.Logger) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if clock == nil {
		clock = crawler.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	allowed := make(map[string]struct{})
	for _, d := range cfg.AllowedDomains {
		allowed[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}
	if len(allowed) == 0 {
		for _, seed := range cfg.Seeds {
			if host := crawler.Host(seed); host != "" {
				allowed[host] = struct{}{}
			}
		}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.Delay > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.Delay), 1)
	}

	return &Orchestrator{
		frontier: frontier,
		router:   router,
		skip:     skip,
		cfg:      cfg,
		allowed:  allowed,
		limiter:  limiter,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Run executes the crawl to completion and returns a summary. It fails
// only on storage or configuration errors; per-URL failures are counted
// in the summary. Cancellation stops dispatching, flushes what is in
// flight, and returns the partial summary.
func (o *Orchestrator) Run(ctx context.Context) (crawler.Summary, error) {
	start := o.clock.Now()
	runID := uuid.NewString()
	log := o.logger.With(zap.String("run_id", runID))

	// A prior aborted run may have left rows in flight; their outcome
	// is unknown, so they go back to pending.
	recovered, err := o.frontier.RecoverInFlight(ctx)
	if err != nil {
		return crawler.Summary{}, err
	}
	if recovered > 0 {
		log.Info("recovered in-flight records from prior run", zap.Int("count", recovered))
	}

	if err := o.enqueueSeeds(ctx); err != nil {
		return crawler.Summary{}, err
	}

	capReached := false
	maxDepthReached := 0

depthLoop:
	for depth := 0; depth <= o.cfg.MaxDepth; depth++ {
		metrics.CurrentDepth.Set(float64(depth))

		for {
			if ctx.Err() != nil {
				log.Info("crawl cancelled; flushing state", zap.Int("depth", depth))
				break depthLoop
			}
			batch, err := o.frontier.DequeueBatch(ctx, depth, o.cfg.BatchSize)
			if err != nil {
				return crawler.Summary{}, err
			}
			if len(batch) == 0 {
				break
			}
			maxDepthReached = depth

			results := o.dispatch(ctx, batch)
			if err := o.recordAndExpand(ctx, depth, batch, results, &capReached); err != nil {
				return crawler.Summary{}, err
			}
			if capReached {
				log.Info("soft URL cap reached; stopping crawl", zap.Int("cap", o.cfg.MaxURLs))
				break depthLoop
			}
		}

		more, err := o.pendingBeyond(ctx, depth+1)
		if err != nil {
			return crawler.Summary{}, err
		}
		if !more {
			log.Debug("frontier exhausted before max depth", zap.Int("depth", depth))
			break
		}
	}

	summary, err := o.buildSummary(ctx, runID, start, maxDepthReached)
	if err != nil {
		return crawler.Summary{}, err
	}
	log.Info("crawl finished",
		zap.Int("discovered", summary.TotalDiscovered),
		zap.Int("fetched", summary.TotalFetched),
		zap.Int("failed", summary.TotalFailed),
		zap.Duration("duration", summary.Duration))
	return summary, nil
}

// Snapshot exposes the frontier's record set for sitemap emission and
// the status endpoint, during or after a run.
func (o *Orchestrator) Snapshot(ctx context.Context) ([]crawler.URLRecord, error) {
	return o.frontier.Snapshot(ctx)
}

// Stats proxies the frontier's aggregate view.
func (o *Orchestrator) Stats(ctx context.Context) (crawler.FrontierStats, error) {
	return o.frontier.Stats(ctx)
}

func (o *Orchestrator) enqueueSeeds(ctx context.Context) error {
	for _, seed := range o.cfg.Seeds {
		normalized, err := crawler.Normalize(seed, "")
		if err != nil {
			return fmt.Errorf("%w: seed %q: %v", crawler.ErrConfiguration, seed, err)
		}
		if !o.domainAllowed(normalized) {
			return fmt.Errorf("%w: seed %q is outside the domain allowlist", crawler.ErrConfiguration, seed)
		}
		added, err := o.frontier.Enqueue(ctx, normalized, 0, "")
		if err != nil {
			return err
		}
		if added {
			metrics.DiscoveredTotal.Inc()
		}
	}
	return nil
}

// dispatch fans a batch out to the router under the concurrency cap.
// The per-request delay is applied before each fetch starts, so the
// cap bounds in-flight fetches and the limiter bounds their spacing.
func (o *Orchestrator) dispatch(ctx context.Context, batch []crawler.URLRecord) []crawler.FetchResult {
	results := make([]crawler.FetchResult, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)
	for i, rec := range batch {
		g.Go(func() error {
			if err := o.limiter.Wait(gctx); err != nil {
				results[i] = crawler.FetchResult{ErrorDetail: err.Error()}
				return nil
			}
			results[i] = o.router.Fetch(gctx, rec)
			return nil
		})
	}
	// Workers never return errors; per-URL failures live in results.
	_ = g.Wait()
	return results
}

// recordAndExpand persists batch results and feeds discovered links
// back into the frontier at depth+1. The soft URL cap is evaluated once
// per batch, after recording.
func (o *Orchestrator) recordAndExpand(ctx context.Context, depth int, batch []crawler.URLRecord, results []crawler.FetchResult, capReached *bool) error {
	for i, rec := range batch {
		result := results[i]
		if result.Failed() && ctx.Err() != nil {
			// A failure observed during shutdown says nothing about the
			// URL itself. The record stays in_progress so the next run's
			// recovery puts it back in the queue; recording it failed
			// would pin a durable frontier row forever.
			continue
		}
		if err := o.frontier.RecordResult(ctx, rec.URL, result); err != nil {
			if errors.Is(err, crawler.ErrStorage) {
				return err
			}
			o.logger.Warn("dropping unrecordable result", zap.String("url", rec.URL), zap.Error(err))
			continue
		}
		if result.Failed() || depth >= o.cfg.MaxDepth || *capReached {
			continue
		}
		if err := o.expandLinks(ctx, rec, depth, result.Links); err != nil {
			return err
		}
	}

	if o.cfg.MaxURLs > 0 {
		stats, err := o.frontier.Stats(ctx)
		if err != nil {
			return err
		}
		if stats.Total >= o.cfg.MaxURLs {
			*capReached = true
		}
	}
	return nil
}

func (o *Orchestrator) expandLinks(ctx context.Context, parent crawler.URLRecord, depth int, links []string) error {
	for _, link := range links {
		normalized, err := crawler.Normalize(link, parent.URL)
		if err != nil {
			// Malformed or non-http links were never fetchable; they
			// are dropped without becoming failed records.
			continue
		}
		if !o.domainAllowed(normalized) || o.skip.ShouldSkip(normalized) {
			continue
		}
		added, err := o.frontier.Enqueue(ctx, normalized, depth+1, parent.URL)
		if err != nil {
			return err
		}
		if added {
			metrics.DiscoveredTotal.Inc()
		}
	}
	return nil
}

func (o *Orchestrator) domainAllowed(normalized string) bool {
	host := crawler.Host(normalized)
	if host == "" {
		return false
	}
	_, ok := o.allowed[host]
	return ok
}

// pendingBeyond reports whether any pending work remains at depths the
// loop has not finished yet. Expansion only enqueues at depth+1, but a
// resumed crawl can hold recovered pending rows at deeper levels, so
// every remaining depth is checked.
func (o *Orchestrator) pendingBeyond(ctx context.Context, from int) (bool, error) {
	for d := from; d <= o.cfg.MaxDepth; d++ {
		pending, err := o.frontier.HasPendingAt(ctx, d)
		if err != nil {
			return false, err
		}
		if pending {
			return true, nil
		}
	}
	return false, nil
}

func (o *Orchestrator) buildSummary(ctx context.Context, runID string, start time.Time, maxDepthReached int) (crawler.Summary, error) {
	records, err := o.frontier.Snapshot(ctx)
	if err != nil {
		return crawler.Summary{}, err
	}
	summary := crawler.Summary{
		RunID:           runID,
		ByStrategy:      make(map[crawler.Strategy]int),
		MaxDepthReached: maxDepthReached,
		Duration:        o.clock.Now().Sub(start),
	}
	for _, rec := range records {
		summary.TotalDiscovered++
		switch rec.State {
		case crawler.StateDone:
			summary.TotalFetched++
			summary.ByStrategy[rec.Strategy]++
		case crawler.StateFailed:
			summary.TotalFailed++
		}
	}
	if secs := summary.Duration.Seconds(); secs > 0 {
		summary.URLsPerSecond = float64(summary.TotalFetched+summary.TotalFailed) / secs
	}
	return summary, nil
}
