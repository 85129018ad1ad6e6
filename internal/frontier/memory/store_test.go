package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finploy/sitemap-crawler/internal/crawler"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func TestEnqueueDeduplicatesByNormalizedForm(t *testing.T) {
	t.Parallel()

	store := New(nil)
	ctx := context.Background()

	added, err := store.Enqueue(ctx, "https://example.com/jobs/", 0, "")
	require.NoError(t, err)
	assert.True(t, added)

	// Same page, different spelling: trailing slash, uppercase host,
	// fragment.
	added, err = store.Enqueue(ctx, "https://EXAMPLE.com/jobs#top", 1, "https://example.com/")
	require.NoError(t, err)
	assert.False(t, added, "equivalent URL must not be enqueued twice")

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
}

func TestDepthIsFixedAtFirstDiscovery(t *testing.T) {
	t.Parallel()

	store := New(nil)
	ctx := context.Background()

	_, err := store.Enqueue(ctx, "https://example.com/page", 1, "https://example.com/")
	require.NoError(t, err)
	// Rediscovered deeper; depth must not change.
	_, err = store.Enqueue(ctx, "https://example.com/page", 3, "https://example.com/other")
	require.NoError(t, err)

	records, err := store.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].Depth)
	assert.Equal(t, "https://example.com/", records[0].ParentURL)
}

func TestDequeueBatchIsDepthScopedFIFO(t *testing.T) {
	t.Parallel()

	store := New(nil)
	ctx := context.Background()

	for _, u := range []string{"https://example.com/a", "https://example.com/b"} {
		_, err := store.Enqueue(ctx, u, 1, "")
		require.NoError(t, err)
	}
	_, err := store.Enqueue(ctx, "https://example.com/deep", 2, "")
	require.NoError(t, err)

	batch, err := store.DequeueBatch(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, batch, 2, "depth-2 entries must not leak into a depth-1 batch")
	assert.Equal(t, "https://example.com/a", batch[0].URL)
	assert.Equal(t, "https://example.com/b", batch[1].URL)
	for _, rec := range batch {
		assert.Equal(t, crawler.StateInProgress, rec.State)
	}

	// The queue is drained; records remain.
	batch, err = store.DequeueBatch(ctx, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, batch)

	pending, err := store.HasPendingAt(ctx, 2)
	require.NoError(t, err)
	assert.True(t, pending)
}

func TestDequeueBatchHonorsLimit(t *testing.T) {
	t.Parallel()

	store := New(nil)
	ctx := context.Background()

	for _, u := range []string{"https://example.com/a", "https://example.com/b", "https://example.com/c"} {
		_, err := store.Enqueue(ctx, u, 0, "")
		require.NoError(t, err)
	}

	batch, err := store.DequeueBatch(ctx, 0, 2)
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	batch, err = store.DequeueBatch(ctx, 0, 2)
	require.NoError(t, err)
	assert.Len(t, batch, 1)
}

func TestRecordResultTransitionsState(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := New(&fakeClock{now: now})
	ctx := context.Background()

	_, err := store.Enqueue(ctx, "https://example.com/ok", 0, "")
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, "https://example.com/dead", 0, "")
	require.NoError(t, err)
	_, err = store.DequeueBatch(ctx, 0, 10)
	require.NoError(t, err)

	err = store.RecordResult(ctx, "https://example.com/ok", crawler.FetchResult{
		StatusCode:  200,
		ContentType: "text/html",
		Strategy:    crawler.StrategyStatic,
		Latency:     120 * time.Millisecond,
	})
	require.NoError(t, err)

	err = store.RecordResult(ctx, "https://example.com/dead", crawler.FetchResult{
		Strategy:    crawler.StrategyStatic,
		ErrorDetail: "connection refused",
	})
	require.NoError(t, err)

	records, err := store.Snapshot(ctx)
	require.NoError(t, err)
	byURL := make(map[string]crawler.URLRecord, len(records))
	for _, rec := range records {
		byURL[rec.URL] = rec
	}

	ok := byURL["https://example.com/ok"]
	assert.Equal(t, crawler.StateDone, ok.State)
	assert.Equal(t, 200, ok.StatusCode)
	require.NotNil(t, ok.LastFetchedAt)
	assert.Equal(t, now, *ok.LastFetchedAt)

	dead := byURL["https://example.com/dead"]
	assert.Equal(t, crawler.StateFailed, dead.State)
	assert.Equal(t, "connection refused", dead.ErrorDetail)
}

func TestNonSuccessStatusIsStillDone(t *testing.T) {
	t.Parallel()

	store := New(nil)
	ctx := context.Background()

	_, err := store.Enqueue(ctx, "https://example.com/gone", 0, "")
	require.NoError(t, err)
	_, err = store.DequeueBatch(ctx, 0, 1)
	require.NoError(t, err)

	// A served 404 is a result, not a fetch failure.
	err = store.RecordResult(ctx, "https://example.com/gone", crawler.FetchResult{
		StatusCode: 404,
		Strategy:   crawler.StrategyStatic,
	})
	require.NoError(t, err)

	records, err := store.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, crawler.StateDone, records[0].State)
	assert.Equal(t, 404, records[0].StatusCode)
}

func TestRecoverInFlightRequeuesAtOriginalDepth(t *testing.T) {
	t.Parallel()

	store := New(nil)
	ctx := context.Background()

	_, err := store.Enqueue(ctx, "https://example.com/a", 2, "")
	require.NoError(t, err)
	_, err = store.DequeueBatch(ctx, 2, 1)
	require.NoError(t, err)

	// Simulated crash: the in-progress record is never resolved.
	recovered, err := store.RecoverInFlight(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	batch, err := store.DequeueBatch(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "https://example.com/a", batch[0].URL)
	assert.Equal(t, 2, batch[0].Depth)
}

func TestStatsAggregates(t *testing.T) {
	t.Parallel()

	store := New(nil)
	ctx := context.Background()

	_, err := store.Enqueue(ctx, "https://example.com/", 0, "")
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, "https://example.com/a", 1, "")
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, "https://example.com/b", 1, "")
	require.NoError(t, err)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, stats.ByState[crawler.StatePending])
	assert.Equal(t, 2, stats.ByDepth[1])
	assert.Equal(t, 1, stats.MaxDepth)
}
