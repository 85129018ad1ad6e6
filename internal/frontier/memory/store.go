// Package memory provides an in-process FrontierStore for single-run
// crawls that do not need crash recovery across restarts.
package memory

import (
	"context"
	"sync"

	"github.com/finploy/sitemap-crawler/internal/crawler"
)

// Store keeps all crawl state behind one mutex: a record table keyed by
// normalized URL and per-depth pending queues. Dequeue order within a
// depth is FIFO by discovery.
type Store struct {
	mu      sync.Mutex
	records map[string]*crawler.URLRecord
	pending map[int][]string
	clock   crawler.Clock
}

// New constructs an empty Store. A nil clock defaults to the system
// clock.
func New(clock crawler.Clock) *Store {
	if clock == nil {
		clock = crawler.SystemClock{}
	}
	return &Store{
		records: make(map[string]*crawler.URLRecord),
		pending: make(map[int][]string),
		clock:   clock,
	}
}

// Enqueue implements crawler.FrontierStore.
func (s *Store) Enqueue(_ context.Context, rawURL string, depth int, parentURL string) (bool, error) {
	normalized, err := crawler.Normalize(rawURL, "")
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.records[normalized]; seen {
		return false, nil
	}
	s.records[normalized] = &crawler.URLRecord{
		URL:          normalized,
		DiscoveredAt: s.clock.Now(),
		Depth:        depth,
		ParentURL:    parentURL,
		State:        crawler.StatePending,
	}
	s.pending[depth] = append(s.pending[depth], normalized)
	return true, nil
}

// DequeueBatch implements crawler.FrontierStore.
func (s *Store) DequeueBatch(_ context.Context, depth, limit int) ([]crawler.URLRecord, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.pending[depth]
	if len(queue) == 0 {
		return nil, nil
	}
	n := limit
	if n > len(queue) {
		n = len(queue)
	}

	batch := make([]crawler.URLRecord, 0, n)
	for _, url := range queue[:n] {
		rec := s.records[url]
		rec.State = crawler.StateInProgress
		batch = append(batch, *rec)
	}
	s.pending[depth] = queue[n:]
	return batch, nil
}

// RecordResult implements crawler.FrontierStore.
func (s *Store) RecordResult(_ context.Context, url string, result crawler.FetchResult) error {
	normalized, err := crawler.Normalize(url, "")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[normalized]
	if !ok {
		return nil
	}
	now := s.clock.Now()
	rec.LastFetchedAt = &now
	rec.StatusCode = result.StatusCode
	rec.ContentType = result.ContentType
	rec.Strategy = result.Strategy
	rec.Latency = result.Latency
	rec.ErrorDetail = result.ErrorDetail
	if result.Failed() {
		rec.State = crawler.StateFailed
	} else {
		rec.State = crawler.StateDone
	}
	return nil
}

// HasPendingAt implements crawler.FrontierStore.
func (s *Store) HasPendingAt(_ context.Context, depth int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending[depth]) > 0, nil
}

// Snapshot implements crawler.FrontierStore.
func (s *Store) Snapshot(_ context.Context) ([]crawler.URLRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]crawler.URLRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *rec)
	}
	return out, nil
}

// RecoverInFlight implements crawler.FrontierStore. Records left
// in_progress are requeued at their original depth; their outcome from
// the aborted run is unknown.
func (s *Store) RecoverInFlight(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reset := 0
	for url, rec := range s.records {
		if rec.State != crawler.StateInProgress {
			continue
		}
		rec.State = crawler.StatePending
		s.pending[rec.Depth] = append(s.pending[rec.Depth], url)
		reset++
	}
	return reset, nil
}

// Stats implements crawler.FrontierStore.
func (s *Store) Stats(_ context.Context) (crawler.FrontierStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := crawler.FrontierStats{
		Total:   len(s.records),
		ByState: make(map[crawler.State]int),
		ByDepth: make(map[int]int),
	}
	for _, rec := range s.records {
		stats.ByState[rec.State]++
		stats.ByDepth[rec.Depth]++
		if rec.Depth > stats.MaxDepth {
			stats.MaxDepth = rec.Depth
		}
	}
	return stats, nil
}
