package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finploy/sitemap-crawler/internal/crawler"
)

type fakeStats struct {
	stats crawler.FrontierStats
	err   error
}

func (f fakeStats) Stats(context.Context) (crawler.FrontierStats, error) {
	return f.stats, f.err
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv := NewServer(fakeStats{}, nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestStatusReturnsFrontierStats(t *testing.T) {
	t.Parallel()

	srv := NewServer(fakeStats{stats: crawler.FrontierStats{
		Total:    12,
		ByState:  map[crawler.State]int{crawler.StateDone: 9, crawler.StatePending: 3},
		ByDepth:  map[int]int{0: 1, 1: 11},
		MaxDepth: 1,
	}}, nil)

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var got crawler.FrontierStats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, 12, got.Total)
	assert.Equal(t, 9, got.ByState[crawler.StateDone])
	assert.Equal(t, 1, got.MaxDepth)
}

func TestStatusStorageError(t *testing.T) {
	t.Parallel()

	srv := NewServer(fakeStats{err: errors.New("pool closed")}, nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestMetricsEndpointServesPrometheus(t *testing.T) {
	t.Parallel()

	srv := NewServer(fakeStats{}, nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}
