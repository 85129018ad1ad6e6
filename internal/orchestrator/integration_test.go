package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finploy/sitemap-crawler/internal/crawler"
	"github.com/finploy/sitemap-crawler/internal/fetcher/static"
	"github.com/finploy/sitemap-crawler/internal/frontier/memory"
	"github.com/finploy/sitemap-crawler/internal/router"
)

// TestCrawlAgainstLiveServer wires the real static fetcher, router, and
// in-memory frontier against an httptest site and checks the whole
// pipeline end to end.
func TestCrawlAgainstLiveServer(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	page := func(links ...string) http.HandlerFunc {
		return func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, "<html><body>")
			for _, l := range links {
				fmt.Fprintf(w, `<a href=%q>link</a>`, l)
			}
			fmt.Fprint(w, "</body></html>")
		}
	}
	mux.HandleFunc("/{$}", page("/jobs", "/about", "/cv.pdf", "mailto:hr@example.com"))
	mux.HandleFunc("/jobs", page("/jobs/1", "/jobs/2", "/about"))
	mux.HandleFunc("/about", page("/"))
	mux.HandleFunc("/jobs/1", page())
	mux.HandleFunc("/jobs/2", page())

	srv := httptest.NewServer(mux)
	defer srv.Close()

	fetcher := static.New(static.Config{UserAgent: "sitemapper-test", Timeout: 5 * time.Second}, nil)
	strategyRouter, err := router.New(router.Config{Static: fetcher})
	require.NoError(t, err)

	skip, err := crawler.NewSkipList(nil)
	require.NoError(t, err)

	store := memory.New(nil)
	orch, err := New(store, strategyRouter, skip, Config{
		Seeds:       []string{srv.URL + "/"},
		MaxDepth:    4,
		Concurrency: 4,
		BatchSize:   2,
	}, nil, nil)
	require.NoError(t, err)

	summary, err := orch.Run(context.Background())
	require.NoError(t, err)

	// /, /jobs, /about, /jobs/1, /jobs/2. The PDF is skip-listed and
	// the mailto link is dropped by extraction.
	assert.Equal(t, 5, summary.TotalDiscovered)
	assert.Equal(t, 5, summary.TotalFetched)
	assert.Equal(t, 0, summary.TotalFailed)
	assert.Equal(t, 2, summary.MaxDepthReached)
	assert.Equal(t, 5, summary.ByStrategy[crawler.StrategyStatic])

	records, err := orch.Snapshot(context.Background())
	require.NoError(t, err)
	for _, rec := range records {
		assert.Equal(t, crawler.StateDone, rec.State)
		assert.Equal(t, 200, rec.StatusCode)
		require.NotNil(t, rec.LastFetchedAt)
	}
}

// TestCrawlRecordsServerErrors checks that HTTP error statuses are
// recorded as completed fetches with their status, not failures.
func TestCrawlRecordsServerErrors(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><a href="/gone">gone</a></body></html>`)
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	fetcher := static.New(static.Config{Timeout: 5 * time.Second}, nil)
	strategyRouter, err := router.New(router.Config{Static: fetcher})
	require.NoError(t, err)

	store := memory.New(nil)
	orch, err := New(store, strategyRouter, nil, Config{
		Seeds:       []string{srv.URL + "/"},
		MaxDepth:    2,
		Concurrency: 2,
	}, nil, nil)
	require.NoError(t, err)

	summary, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalFetched)
	assert.Equal(t, 0, summary.TotalFailed)

	records, err := orch.Snapshot(context.Background())
	require.NoError(t, err)
	statuses := make(map[int]int)
	for _, rec := range records {
		statuses[rec.StatusCode]++
	}
	assert.Equal(t, 1, statuses[http.StatusOK])
	assert.Equal(t, 1, statuses[http.StatusGone])
}
