// Package headless implements the rendering fetch strategy. Pages are
// loaded in a headless Chrome tab so client-side hydrated content
// contributes its links; non-essential subresources are blocked and a
// bounded number of reveal-more interactions are attempted before the
// document is harvested.
package headless

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/finploy/sitemap-crawler/internal/crawler"
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel     int
	UserAgent       string
	NavTimeout      time.Duration
	MaxInteractions int
	BlockedURLs     []string
}

// DefaultBlockedURLs lists subresource patterns skipped during
// rendering. Link discovery does not need pixels.
func DefaultBlockedURLs() []string {
	return []string{
		"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.svg", "*.ico",
		"*.css", "*.woff", "*.woff2", "*.ttf", "*.otf", "*.mp4",
	}
}

// Fetcher implements crawler.Fetcher using chromedp. Browser tabs are
// far more expensive than HTTP requests, so MaxParallel is expected to
// be a small number (2-3) regardless of the static concurrency cap.
type Fetcher struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// New creates a headless fetcher backed by a shared Chrome allocator.
// Call Close to tear the browser down.
func New(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 2
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	if cfg.MaxInteractions < 0 {
		return nil, fmt.Errorf("max interactions must be >= 0")
	}
	if cfg.BlockedURLs == nil {
		cfg.BlockedURLs = DefaultBlockedURLs()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		limiter:     make(chan struct{}, cfg.MaxParallel),
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close cancels the allocator context, shutting down the browser.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch renders the URL and returns links from the hydrated document.
// The tab context is released on every exit path via defers.
func (f *Fetcher) Fetch(ctx context.Context, url string) (crawler.FetchResult, error) {
	if err := f.acquire(ctx); err != nil {
		return crawler.FetchResult{}, err
	}
	defer f.release()

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.cfg.NavTimeout)
	defer cancel()

	// Stop rendering promptly if the crawl itself is cancelled.
	go func() {
		select {
		case <-ctx.Done():
			taskCancel()
		case <-taskCtx.Done():
		}
	}()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	links, err := f.render(taskCtx, url)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return crawler.FetchResult{}, fmt.Errorf("render canceled: %w", ctx.Err())
		}
		return crawler.FetchResult{}, fmt.Errorf("render %s: %w", url, err)
	}

	status, contentType := meta.snapshot()
	if status == 0 {
		status = 200
	}
	return crawler.FetchResult{
		StatusCode:  status,
		ContentType: contentType,
		Strategy:    crawler.StrategyDynamic,
		Latency:     latency,
		Links:       dedupe(links),
	}, nil
}

func (f *Fetcher) render(ctx context.Context, url string) ([]string, error) {
	var links []string
	actions := []chromedp.Action{
		f.networkSetup(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return nil, err
	}

	// Interaction failures are non-fatal: harvest whatever is rendered.
	if err := f.revealMore(ctx, url); err != nil {
		f.logger.Warn("reveal-more interaction failed",
			zap.String("url", url), zap.Error(err))
	}

	if err := chromedp.Run(ctx, chromedp.Evaluate(collectLinksJS, &links)); err != nil {
		return nil, err
	}
	return links, nil
}

// revealMore scrolls and clicks load-more controls up to the
// interaction cap, giving hydrated listings a chance to append rows.
func (f *Fetcher) revealMore(ctx context.Context, url string) error {
	for i := 0; i < f.cfg.MaxInteractions; i++ {
		var clicked bool
		err := chromedp.Run(ctx,
			chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
			chromedp.Sleep(400*time.Millisecond),
			chromedp.Evaluate(clickLoadMoreJS, &clicked),
			chromedp.Sleep(700*time.Millisecond),
		)
		if err != nil {
			return err
		}
		if !clicked {
			return nil
		}
		f.logger.Debug("clicked load-more control",
			zap.String("url", url), zap.Int("interaction", i+1))
	}
	return nil
}

func (f *Fetcher) networkSetup() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if len(f.cfg.BlockedURLs) > 0 {
			if err := network.SetBlockedURLs(f.cfg.BlockedURLs).Do(ctx); err != nil {
				return fmt.Errorf("block subresources: %w", err)
			}
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("render slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	select {
	case <-f.limiter:
	default:
	}
}

const collectLinksJS = `Array.from(document.querySelectorAll('a[href], area[href]'))
	.map(el => el.getAttribute('href'))
	.filter(h => h && h.trim() !== '' && !h.startsWith('#'))`

const clickLoadMoreJS = `(() => {
	const re = /(load|view|show)\s*more/i;
	const els = Array.from(document.querySelectorAll('button, a, [role="button"]'));
	for (const el of els) {
		const labelled = el.matches('.load-more, .view-more, [data-load-more]');
		if ((labelled || re.test(el.textContent || '')) && el.offsetParent !== null) {
			el.click();
			return true;
		}
	}
	return false;
})()`

type responseMeta struct {
	mu          sync.Mutex
	status      int
	contentType string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	if ct, ok := resp.Response.Headers["Content-Type"]; ok {
		m.contentType = strings.TrimSpace(fmt.Sprint(ct))
	}
	m.mu.Unlock()
}

func (m *responseMeta) snapshot() (int, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.contentType
}

func dedupe(links []string) []string {
	seen := make(map[string]struct{}, len(links))
	out := links[:0]
	for _, l := range links {
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}
