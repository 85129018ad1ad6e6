// Package static implements the lightweight fetch strategy with Colly.
// It issues a plain HTTP GET and harvests hyperlinks from the returned
// markup, without executing any page scripts.
package static

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/finploy/sitemap-crawler/internal/crawler"
	"github.com/finploy/sitemap-crawler/internal/extract"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher implements crawler.Fetcher using the Colly collector. One
// Fetcher serves all concurrent fetches of a run; per-fetch state lives
// only in the clone's callbacks.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New builds a Fetcher. Everything that touches the collector's shared
// backend (timeout, transport, user-agent) is configured here, once:
// clones share the backend's http.Client, so mutating those per fetch
// would race with other in-flight visits.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	// Robots enforcement lives in the router's policy, not here.
	c.IgnoreRobotsTxt = true
	// Clones share the visited-URL store; the frontier already
	// deduplicates, and retries must be able to re-request a URL.
	c.AllowURLRevisit = true
	c.SetRequestTimeout(cfg.Timeout)
	c.WithTransport(newHTTPTransport())

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		logger:        logger,
	}
}

// Fetch executes a single HTTP GET. A non-2xx status is a valid result
// with zero outbound links, not an error; only transport-level failures
// return an error.
func (f *Fetcher) Fetch(ctx context.Context, url string) (crawler.FetchResult, error) {
	var (
		result   crawler.FetchResult
		body     []byte
		fetchErr error
	)
	start := time.Now()

	collector := f.baseCollector.Clone()

	collector.OnResponse(func(r *colly.Response) {
		result = crawler.FetchResult{
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Strategy:    crawler.StrategyStatic,
		}
		body = append([]byte(nil), r.Body...)
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			// 404/403 and friends are data, not failures.
			result = crawler.FetchResult{
				StatusCode:  r.StatusCode,
				ContentType: r.Headers.Get("Content-Type"),
				Strategy:    crawler.StrategyStatic,
			}
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	var visitErr error
	select {
	case <-ctx.Done():
		// The abandoned visit goroutine may still be writing result and
		// body through the callbacks; return without reading either.
		return crawler.FetchResult{}, fmt.Errorf("static fetch canceled: %w", ctx.Err())
	case visitErr = <-done:
	}

	if fetchErr != nil {
		return crawler.FetchResult{}, fmt.Errorf("static fetch %s: %w", url, fetchErr)
	}
	// Colly reports non-2xx statuses as errors from Visit, but OnError
	// has already captured them as valid results above. Only treat the
	// visit error as fatal when no status was observed at all.
	if visitErr != nil && result.StatusCode == 0 {
		return crawler.FetchResult{}, fmt.Errorf("visit %s: %w", url, visitErr)
	}

	result.Latency = time.Since(start)
	if result.StatusCode >= 200 && result.StatusCode < 300 && isHTML(result.ContentType) {
		links, err := extract.Links(body)
		if err != nil {
			f.logger.Warn("link extraction failed", zap.String("url", url), zap.Error(err))
		}
		result.Links = links
	}
	return result, nil
}

func isHTML(contentType string) bool {
	main := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	return main == "text/html" || main == "application/xhtml+xml" || main == ""
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
