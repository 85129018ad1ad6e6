// Package postgres provides the durable, crash-tolerant FrontierStore.
// The record table doubles as the queue: the state column is queue
// membership, so a row left in_progress by a crashed run is visible on
// restart and can be reset to pending.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/finploy/sitemap-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Pool is the subset of pgxpool.Pool the store needs; pgxmock
// implements it for tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// Store implements crawler.FrontierStore on Postgres.
type Store struct {
	pool   Pool
	table  string
	clock  crawler.Clock
	logger *zap.Logger
}

// New connects a pool and prepares the schema.
func New(ctx context.Context, cfg Config, clock crawler.Clock, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: db.dsn is required", crawler.ErrStorage)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: parse dsn: %v", crawler.ErrStorage, err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", crawler.ErrStorage, err)
	}

	store, err := NewWithPool(pool, cfg.Table, clock, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for
// testing). It does not touch the schema.
func NewWithPool(pool Pool, table string, clock crawler.Clock, logger *zap.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: pool is required", crawler.ErrStorage)
	}
	if table == "" {
		table = "frontier"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("%w: invalid table name %q", crawler.ErrStorage, table)
	}
	if clock == nil {
		clock = crawler.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, table: table, clock: clock, logger: logger}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	url             TEXT PRIMARY KEY,
	discovered_at   TIMESTAMPTZ NOT NULL,
	last_fetched_at TIMESTAMPTZ,
	status_code     INT,
	content_type    TEXT,
	strategy        TEXT,
	depth           INT NOT NULL,
	parent_url      TEXT,
	state           TEXT NOT NULL DEFAULT 'pending',
	error_detail    TEXT,
	latency_ms      BIGINT
);
CREATE INDEX IF NOT EXISTS idx_%[1]s_state_depth ON %[1]s (state, depth);
`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("%w: init schema: %v", crawler.ErrStorage, err)
	}
	return nil
}

// Enqueue implements crawler.FrontierStore. ON CONFLICT DO NOTHING
// makes re-discovery a no-op and keeps the first-seen depth.
func (s *Store) Enqueue(ctx context.Context, rawURL string, depth int, parentURL string) (bool, error) {
	normalized, err := crawler.Normalize(rawURL, "")
	if err != nil {
		return false, err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (url, discovered_at, depth, parent_url, state)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (url) DO NOTHING`, s.table)

	tag, err := s.pool.Exec(ctx, query, normalized, s.clock.Now(), depth, nullable(parentURL), string(crawler.StatePending))
	if err != nil {
		return false, fmt.Errorf("%w: enqueue %s: %v", crawler.ErrStorage, normalized, err)
	}
	return tag.RowsAffected() == 1, nil
}

// DequeueBatch implements crawler.FrontierStore. SKIP LOCKED keeps
// concurrent dequeuers from handing out the same row twice.
func (s *Store) DequeueBatch(ctx context.Context, depth, limit int) ([]crawler.URLRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
UPDATE %[1]s SET state = $1
WHERE url IN (
	SELECT url FROM %[1]s
	WHERE state = $2 AND depth = $3
	ORDER BY discovered_at
	LIMIT $4
	FOR UPDATE SKIP LOCKED
)
RETURNING url, discovered_at, depth, parent_url`, s.table)

	rows, err := s.pool.Query(ctx, query,
		string(crawler.StateInProgress), string(crawler.StatePending), depth, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: dequeue batch at depth %d: %v", crawler.ErrStorage, depth, err)
	}
	defer rows.Close()

	var (
		batch   []crawler.URLRecord
		corrupt []corruptRow
	)
	for rows.Next() {
		var (
			rec    crawler.URLRecord
			parent *string
		)
		if err := rows.Scan(&rec.URL, &rec.DiscoveredAt, &rec.Depth, &parent); err != nil {
			// One corrupt row is not worth aborting the crawl. The url
			// column scans first, so it survives a failure in a later
			// column; the row is marked failed below, otherwise it would
			// sit in_progress and be recycled through recovery forever.
			s.logger.Warn("skipping corrupt frontier row",
				zap.String("url", rec.URL), zap.Error(err))
			if rec.URL != "" {
				corrupt = append(corrupt, corruptRow{url: rec.URL, detail: err.Error()})
			}
			continue
		}
		if parent != nil {
			rec.ParentURL = *parent
		}
		rec.State = crawler.StateInProgress
		batch = append(batch, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: dequeue rows: %v", crawler.ErrStorage, err)
	}
	rows.Close()

	for _, c := range corrupt {
		s.markFailed(ctx, c.url, c.detail)
	}
	return batch, nil
}

type corruptRow struct {
	url    string
	detail string
}

// markFailed parks an unscannable row in the failed state, best effort.
func (s *Store) markFailed(ctx context.Context, url, detail string) {
	query := fmt.Sprintf(`
UPDATE %s SET state = $2, last_fetched_at = $3, error_detail = $4
WHERE url = $1`, s.table)
	if _, err := s.pool.Exec(ctx, query, url, string(crawler.StateFailed), s.clock.Now(), detail); err != nil {
		s.logger.Warn("could not mark corrupt row failed", zap.String("url", url), zap.Error(err))
	}
}

// RecordResult implements crawler.FrontierStore.
func (s *Store) RecordResult(ctx context.Context, url string, result crawler.FetchResult) error {
	normalized, err := crawler.Normalize(url, "")
	if err != nil {
		return err
	}
	state := crawler.StateDone
	if result.Failed() {
		state = crawler.StateFailed
	}
	query := fmt.Sprintf(`
UPDATE %s
SET state = $2,
	last_fetched_at = $3,
	status_code = $4,
	content_type = $5,
	strategy = $6,
	error_detail = $7,
	latency_ms = $8
WHERE url = $1`, s.table)

	_, err = s.pool.Exec(ctx, query,
		normalized,
		string(state),
		s.clock.Now(),
		result.StatusCode,
		nullable(result.ContentType),
		nullable(string(result.Strategy)),
		nullable(result.ErrorDetail),
		result.Latency.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("%w: record result for %s: %v", crawler.ErrStorage, normalized, err)
	}
	return nil
}

// HasPendingAt implements crawler.FrontierStore.
func (s *Store) HasPendingAt(ctx context.Context, depth int) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE state = $1 AND depth = $2)`, s.table)
	var exists bool
	if err := s.pool.QueryRow(ctx, query, string(crawler.StatePending), depth).Scan(&exists); err != nil {
		return false, fmt.Errorf("%w: pending check at depth %d: %v", crawler.ErrStorage, depth, err)
	}
	return exists, nil
}

// Snapshot implements crawler.FrontierStore.
func (s *Store) Snapshot(ctx context.Context) ([]crawler.URLRecord, error) {
	query := fmt.Sprintf(`
SELECT url, discovered_at, last_fetched_at, status_code, content_type,
	strategy, depth, parent_url, state, error_detail, latency_ms
FROM %s ORDER BY depth, url`, s.table)

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot: %v", crawler.ErrStorage, err)
	}
	defer rows.Close()

	var records []crawler.URLRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			s.logger.Warn("skipping corrupt frontier row", zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: snapshot rows: %v", crawler.ErrStorage, err)
	}
	return records, nil
}

// RecoverInFlight implements crawler.FrontierStore.
func (s *Store) RecoverInFlight(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`UPDATE %s SET state = $1 WHERE state = $2`, s.table)
	tag, err := s.pool.Exec(ctx, query, string(crawler.StatePending), string(crawler.StateInProgress))
	if err != nil {
		return 0, fmt.Errorf("%w: recover in-flight: %v", crawler.ErrStorage, err)
	}
	return int(tag.RowsAffected()), nil
}

// Stats implements crawler.FrontierStore.
func (s *Store) Stats(ctx context.Context) (crawler.FrontierStats, error) {
	query := fmt.Sprintf(`SELECT state, depth, COUNT(*) FROM %s GROUP BY state, depth`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return crawler.FrontierStats{}, fmt.Errorf("%w: stats: %v", crawler.ErrStorage, err)
	}
	defer rows.Close()

	stats := crawler.FrontierStats{
		ByState: make(map[crawler.State]int),
		ByDepth: make(map[int]int),
	}
	for rows.Next() {
		var (
			state string
			depth int
			count int
		)
		if err := rows.Scan(&state, &depth, &count); err != nil {
			return crawler.FrontierStats{}, fmt.Errorf("%w: stats scan: %v", crawler.ErrStorage, err)
		}
		stats.Total += count
		stats.ByState[crawler.State(state)] += count
		stats.ByDepth[depth] += count
		if depth > stats.MaxDepth {
			stats.MaxDepth = depth
		}
	}
	if err := rows.Err(); err != nil {
		return crawler.FrontierStats{}, fmt.Errorf("%w: stats rows: %v", crawler.ErrStorage, err)
	}
	return stats, nil
}

// Reset truncates all crawl state. Used by the clean command only.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(`TRUNCATE %s`, s.table)); err != nil {
		return fmt.Errorf("%w: reset: %v", crawler.ErrStorage, err)
	}
	return nil
}

func scanRecord(rows pgx.Rows) (crawler.URLRecord, error) {
	var (
		rec         crawler.URLRecord
		lastFetched *time.Time
		statusCode  *int
		contentType *string
		strategy    *string
		parent      *string
		state       string
		errDetail   *string
		latencyMs   *int64
	)
	err := rows.Scan(&rec.URL, &rec.DiscoveredAt, &lastFetched, &statusCode, &contentType,
		&strategy, &rec.Depth, &parent, &state, &errDetail, &latencyMs)
	if err != nil {
		return crawler.URLRecord{}, err
	}
	rec.LastFetchedAt = lastFetched
	if statusCode != nil {
		rec.StatusCode = *statusCode
	}
	if contentType != nil {
		rec.ContentType = *contentType
	}
	if strategy != nil {
		rec.Strategy = crawler.Strategy(*strategy)
	}
	if parent != nil {
		rec.ParentURL = *parent
	}
	rec.State = crawler.State(state)
	if errDetail != nil {
		rec.ErrorDetail = *errDetail
	}
	if latencyMs != nil {
		rec.Latency = time.Duration(*latencyMs) * time.Millisecond
	}
	return rec, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
