// Package sitemap renders crawl results as sitemaps.org XML.
package sitemap

import (
	"compress/gzip"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/finploy/sitemap-crawler/internal/crawler"
)

const xmlns = "http://www.sitemaps.org/schemas/sitemap/0.9"

// maxPerFileLimit is the protocol ceiling on URLs per sitemap file.
const maxPerFileLimit = 50000

type urlEntry struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod,omitempty"`
	ChangeFreq string `xml:"changefreq,omitempty"`
	Priority   string `xml:"priority,omitempty"`
}

type urlset struct {
	XMLName xml.Name   `xml:"urlset"`
	Xmlns   string     `xml:"xmlns,attr"`
	URLs    []urlEntry `xml:"url"`
}

type indexEntry struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

type sitemapIndex struct {
	XMLName  xml.Name     `xml:"sitemapindex"`
	Xmlns    string       `xml:"xmlns,attr"`
	Sitemaps []indexEntry `xml:"sitemap"`
}

// Config controls sitemap output.
type Config struct {
	OutputDir  string
	MaxPerFile int
	Compress   bool
}

// Writer emits sitemap files from a frontier snapshot.
type Writer struct {
	cfg    Config
	clock  crawler.Clock
	logger *zap.Logger
}

// New builds a Writer.
func New(cfg Config, clock crawler.Clock, logger *zap.Logger) *Writer {
	if cfg.MaxPerFile <= 0 || cfg.MaxPerFile > maxPerFileLimit {
		cfg.MaxPerFile = maxPerFileLimit
	}
	if clock == nil {
		clock = crawler.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{cfg: cfg, clock: clock, logger: logger}
}

// Write renders all successfully fetched records (2xx/3xx) into one or
// more sitemap files under the output directory and, when more than one
// file is needed, a sitemap index referencing them. It returns the
// written file paths.
func (w *Writer) Write(records []crawler.URLRecord, baseURL string) ([]string, error) {
	entries := w.buildEntries(records)
	if len(entries) == 0 {
		return nil, fmt.Errorf("no eligible urls to emit")
	}
	if err := os.MkdirAll(w.cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	chunks := chunk(entries, w.cfg.MaxPerFile)
	files := make([]string, 0, len(chunks))
	for i, part := range chunks {
		name := "sitemap.xml"
		if len(chunks) > 1 {
			name = fmt.Sprintf("sitemap_%d.xml", i+1)
		}
		if w.cfg.Compress {
			name += ".gz"
		}
		path := filepath.Join(w.cfg.OutputDir, name)
		if err := w.writeXML(path, urlset{Xmlns: xmlns, URLs: part}); err != nil {
			return nil, err
		}
		files = append(files, path)
	}

	if len(files) > 1 {
		indexPath, err := w.writeIndex(files, baseURL)
		if err != nil {
			return nil, err
		}
		files = append(files, indexPath)
	}

	w.logger.Info("sitemap written",
		zap.Int("urls", len(entries)), zap.Int("files", len(files)))
	return files, nil
}

// RobotsSnippet returns robots.txt lines advertising the sitemaps.
func (w *Writer) RobotsSnippet(baseURL string, files []string) string {
	var b strings.Builder
	b.WriteString("User-agent: *\nAllow: /\n\n")
	for _, f := range files {
		fmt.Fprintf(&b, "Sitemap: %s/%s\n", strings.TrimRight(baseURL, "/"), filepath.Base(f))
	}
	return b.String()
}

func (w *Writer) buildEntries(records []crawler.URLRecord) []urlEntry {
	entries := make([]urlEntry, 0, len(records))
	for _, rec := range records {
		if rec.State != crawler.StateDone {
			continue
		}
		if rec.StatusCode < 200 || rec.StatusCode >= 400 {
			continue
		}
		entry := urlEntry{
			Loc:        rec.URL,
			ChangeFreq: "weekly",
			Priority:   fmt.Sprintf("%.1f", priorityFor(rec)),
		}
		if rec.LastFetchedAt != nil {
			entry.LastMod = rec.LastFetchedAt.UTC().Format(time.RFC3339)
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Loc < entries[j].Loc })
	return entries
}

// priorityFor degrades with depth; rendered listing pages rank above
// plain static pages at the same depth.
func priorityFor(rec crawler.URLRecord) float64 {
	p := 1.0 - 0.2*float64(rec.Depth)
	if rec.Strategy == crawler.StrategyDynamic {
		p += 0.1
	}
	if p > 1.0 {
		p = 1.0
	}
	if p < 0.1 {
		p = 0.1
	}
	return p
}

func (w *Writer) writeXML(path string, doc any) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()

	var out io.Writer = f
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(f)
		out = gz
	}

	if _, err := out.Write([]byte(xml.Header)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	enc := xml.NewEncoder(out)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("close gzip %s: %w", path, err)
		}
	}
	return nil
}

func (w *Writer) writeIndex(files []string, baseURL string) (string, error) {
	now := w.clock.Now().UTC().Format(time.RFC3339)
	index := sitemapIndex{Xmlns: xmlns}
	for _, f := range files {
		index.Sitemaps = append(index.Sitemaps, indexEntry{
			Loc:     strings.TrimRight(baseURL, "/") + "/" + filepath.Base(f),
			LastMod: now,
		})
	}
	path := filepath.Join(w.cfg.OutputDir, "sitemap_index.xml")
	if err := w.writeXML(path, index); err != nil {
		return "", err
	}
	return path, nil
}

func chunk(entries []urlEntry, size int) [][]urlEntry {
	var chunks [][]urlEntry
	for len(entries) > size {
		chunks = append(chunks, entries[:size])
		entries = entries[size:]
	}
	return append(chunks, entries)
}
