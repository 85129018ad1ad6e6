// Package router dispatches each URL to a fetch strategy and shields
// the orchestrator from transient fetch failures.
package router

import (
	"context"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/finploy/sitemap-crawler/internal/crawler"
	"github.com/finploy/sitemap-crawler/internal/metrics"
)

// Router selects static or dynamic fetching per URL. Static is the
// default; dynamic rendering is reserved for URLs that match the
// configured dynamic path patterns AND whose pattern signature has not
// been rendered yet this run.
type Router struct {
	static       crawler.Fetcher
	dynamic      crawler.Fetcher
	classifier   *crawler.Classifier
	robots       crawler.RobotsPolicy
	retry        crawler.RetryPolicy
	dynamicPaths []*regexp.Regexp
	rendered     sync.Map
	logger       *zap.Logger
}

// Config wires the Router's collaborators.
type Config struct {
	Static       crawler.Fetcher
	Dynamic      crawler.Fetcher
	Classifier   *crawler.Classifier
	Robots       crawler.RobotsPolicy
	Retry        crawler.RetryPolicy
	DynamicPaths []string
	Logger       *zap.Logger
}

// DefaultDynamicPaths matches the page families expected to hydrate
// content client-side on a listing site.
func DefaultDynamicPaths() []string {
	return []string{`/browse-jobs`, `/jobs-in-`, `/jobs\?`, `/search\?`}
}

// New builds a Router. Dynamic fetching is disabled when cfg.Dynamic is
// nil. Invalid dynamic path expressions are an error.
func New(cfg Config) (*Router, error) {
	if cfg.Classifier == nil {
		cfg.Classifier = crawler.NewClassifier(nil)
	}
	if cfg.Retry == nil {
		cfg.Retry = crawler.NewExponentialRetryPolicy(0, 0, 0)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.DynamicPaths == nil {
		cfg.DynamicPaths = DefaultDynamicPaths()
	}
	paths := make([]*regexp.Regexp, 0, len(cfg.DynamicPaths))
	for _, raw := range cfg.DynamicPaths {
		re, err := regexp.Compile(`(?i)` + raw)
		if err != nil {
			return nil, err
		}
		paths = append(paths, re)
	}
	return &Router{
		static:       cfg.Static,
		dynamic:      cfg.Dynamic,
		classifier:   cfg.Classifier,
		robots:       cfg.Robots,
		retry:        cfg.Retry,
		dynamicPaths: paths,
		logger:       cfg.Logger,
	}, nil
}

// Fetch resolves the strategy for the record's URL and executes it with
// retries. Per-URL failures come back as a failed FetchResult, never as
// an error: a single dead URL must not abort the run.
func (r *Router) Fetch(ctx context.Context, rec crawler.URLRecord) crawler.FetchResult {
	if r.robots != nil && !r.robots.Allowed(ctx, rec.URL) {
		return crawler.FetchResult{
			Strategy:    crawler.StrategyStatic,
			ErrorDetail: crawler.ErrDisallowed.Error(),
		}
	}

	fetcher, strategy := r.route(rec.URL)
	result, err := r.fetchWithRetry(ctx, fetcher, rec.URL)
	if err != nil {
		r.logger.Debug("fetch failed after retries",
			zap.String("url", rec.URL),
			zap.String("strategy", string(strategy)),
			zap.Error(err))
		metrics.FetchesTotal.WithLabelValues(string(strategy), "failed").Inc()
		return crawler.FetchResult{
			Strategy:    strategy,
			ErrorDetail: err.Error(),
		}
	}
	metrics.FetchesTotal.WithLabelValues(string(result.Strategy), "done").Inc()
	metrics.FetchDurationSeconds.WithLabelValues(string(result.Strategy)).Observe(result.Latency.Seconds())
	return result
}

// route picks the fetcher for a URL. The signature is claimed before
// the render happens, so concurrent dispatches of sibling URLs cannot
// both win: at most one URL per signature is ever dynamically rendered.
func (r *Router) route(url string) (crawler.Fetcher, crawler.Strategy) {
	if r.dynamic == nil || !r.matchesDynamicPath(url) {
		return r.static, crawler.StrategyStatic
	}
	sig := r.classifier.Classify(url)
	if _, rendered := r.rendered.LoadOrStore(sig, struct{}{}); rendered {
		metrics.RendersSkippedTotal.Inc()
		r.logger.Debug("render skipped for already-seen pattern",
			zap.String("url", url), zap.String("signature", string(sig)))
		return r.static, crawler.StrategyStatic
	}
	return r.dynamic, crawler.StrategyDynamic
}

func (r *Router) matchesDynamicPath(url string) bool {
	for _, re := range r.dynamicPaths {
		if re.MatchString(url) {
			return true
		}
	}
	return false
}

func (r *Router) fetchWithRetry(ctx context.Context, fetcher crawler.Fetcher, url string) (crawler.FetchResult, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		result, err := fetcher.Fetch(ctx, url)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !r.retry.ShouldRetry(err, attempt+1) {
			return crawler.FetchResult{}, lastErr
		}
		metrics.RetriesTotal.Inc()
		if !sleepCtx(ctx, r.retry.Backoff(attempt)) {
			// Cancellation abandons remaining retries.
			return crawler.FetchResult{}, lastErr
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
