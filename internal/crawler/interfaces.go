package crawler

import (
	"context"
	"time"
)

// FrontierStore owns all crawl state: the durable queue, the visited
// set, and the result table. Implementations must be safe for
// concurrent use; all mutation goes through these operations.
type FrontierStore interface {
	// Enqueue normalizes the URL, and if it has not been seen before,
	// creates a pending record at the given depth. It reports whether
	// the URL was newly added. Re-discovery of a known URL is a no-op.
	Enqueue(ctx context.Context, rawURL string, depth int, parentURL string) (bool, error)

	// DequeueBatch returns up to limit pending records at exactly the
	// given depth, marking them in_progress. An empty slice means the
	// depth level is exhausted.
	DequeueBatch(ctx context.Context, depth, limit int) ([]URLRecord, error)

	// RecordResult transitions a record from in_progress to done or
	// failed and stores the fetch metadata.
	RecordResult(ctx context.Context, url string, result FetchResult) error

	// HasPendingAt reports whether any pending entries remain at depth.
	HasPendingAt(ctx context.Context, depth int) (bool, error)

	// Snapshot returns all records, for sitemap emission and inspection.
	Snapshot(ctx context.Context) ([]URLRecord, error)

	// RecoverInFlight resets records left in_progress by an aborted run
	// back to pending and returns how many were reset.
	RecoverInFlight(ctx context.Context) (int, error)

	// Stats returns aggregate counts over the frontier.
	Stats(ctx context.Context) (FrontierStats, error)
}

// Fetcher retrieves a single URL and returns its outbound links plus
// page metadata. Implementations must release all resources on every
// exit path, including timeout and cancellation.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResult, error)
}

// RobotsPolicy answers whether a URL may be fetched at all.
type RobotsPolicy interface {
	Allowed(ctx context.Context, url string) bool
}

// RetryPolicy decides whether a failed fetch should be retried and how
// long to back off before the next attempt.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Clock returns the current time (swapped for a fixed clock in tests).
type Clock interface {
	Now() time.Time
}

// SystemClock is the default Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
