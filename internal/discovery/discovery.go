// Package discovery supplements crawl seeds from a site's published
// robots.txt and sitemap files.
package discovery

import (
	"bufio"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/finploy/sitemap-crawler/internal/crawler"
)

// maxSitemapBytes caps how much of a published sitemap is read.
const maxSitemapBytes = 10 << 20

// Discoverer finds extra seed URLs a site already advertises.
type Discoverer struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger
}

// New builds a Discoverer.
func New(userAgent string, timeout time.Duration, logger *zap.Logger) *Discoverer {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		logger:    logger,
	}
}

type sitemapDoc struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []loc    `xml:"url"`
}

type sitemapIndexDoc struct {
	XMLName  xml.Name `xml:"sitemapindex"`
	Sitemaps []loc    `xml:"sitemap"`
}

type loc struct {
	Loc string `xml:"loc"`
}

// Seeds collects URLs advertised for the seed's host: sitemap locations
// named in robots.txt plus the conventional /sitemap.xml, expanded one
// level through sitemap indexes. Only normalized same-host URLs come
// back; discovery failures degrade to an empty result, never an error,
// since the configured seeds alone are enough to crawl.
func (d *Discoverer) Seeds(ctx context.Context, seed string) []string {
	normalized, err := crawler.Normalize(seed, "")
	if err != nil {
		return nil
	}
	host := crawler.Host(normalized)
	base := baseOf(normalized)

	sitemaps := d.robotsSitemaps(ctx, base)
	sitemaps = append(sitemaps, base+"/sitemap.xml")

	var urls []string
	seen := make(map[string]struct{})
	for _, sm := range sitemaps {
		for _, raw := range d.sitemapURLs(ctx, sm, 0) {
			n, err := crawler.Normalize(raw, base)
			if err != nil || crawler.Host(n) != host {
				continue
			}
			if _, dup := seen[n]; dup {
				continue
			}
			seen[n] = struct{}{}
			urls = append(urls, n)
		}
	}
	if len(urls) > 0 {
		d.logger.Info("discovered seed urls from published sitemaps",
			zap.String("host", host), zap.Int("count", len(urls)))
	}
	return urls
}

// robotsSitemaps reads Sitemap: directives from the host's robots.txt.
func (d *Discoverer) robotsSitemaps(ctx context.Context, base string) []string {
	body, err := d.get(ctx, base+"/robots.txt")
	if err != nil {
		d.logger.Debug("robots.txt unavailable", zap.String("base", base), zap.Error(err))
		return nil
	}
	var sitemaps []string
	scanner := bufio.NewScanner(strings.NewReader(string(body)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if rest, ok := cutPrefixFold(line, "sitemap:"); ok {
			if u := strings.TrimSpace(rest); u != "" {
				sitemaps = append(sitemaps, u)
			}
		}
	}
	return sitemaps
}

// sitemapURLs fetches one sitemap file and returns its page URLs,
// recursing a single level into sitemap indexes.
func (d *Discoverer) sitemapURLs(ctx context.Context, url string, depth int) []string {
	body, err := d.get(ctx, url)
	if err != nil {
		d.logger.Debug("sitemap unavailable", zap.String("url", url), zap.Error(err))
		return nil
	}

	var index sitemapIndexDoc
	if err := xml.Unmarshal(body, &index); err == nil && len(index.Sitemaps) > 0 {
		if depth >= 1 {
			return nil
		}
		var urls []string
		for _, child := range index.Sitemaps {
			urls = append(urls, d.sitemapURLs(ctx, strings.TrimSpace(child.Loc), depth+1)...)
		}
		return urls
	}

	var doc sitemapDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		d.logger.Debug("unparsable sitemap", zap.String("url", url), zap.Error(err))
		return nil
	}
	urls := make([]string, 0, len(doc.URLs))
	for _, u := range doc.URLs {
		if l := strings.TrimSpace(u.Loc); l != "" {
			urls = append(urls, l)
		}
	}
	return urls
}

func (d *Discoverer) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxSitemapBytes))
}

func baseOf(normalized string) string {
	if i := strings.Index(normalized, "://"); i >= 0 {
		if j := strings.Index(normalized[i+3:], "/"); j >= 0 {
			return normalized[:i+3+j]
		}
	}
	return normalized
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return "", false
}
