// Package crawler defines the core types and interfaces shared by the
// crawl subsystems: the frontier store, the fetch strategy router, and
// the orchestrator that drives them.
package crawler

import (
	"time"
)

// State represents the lifecycle state of a URL record.
type State string

// URL record states persisted in the frontier store.
const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Strategy identifies which fetch path handled a URL.
type Strategy string

// Fetch strategies.
const (
	StrategyStatic  Strategy = "static"
	StrategyDynamic Strategy = "dynamic"
)

// URLRecord is the persisted row for one distinct normalized URL.
// The URL field is the uniqueness key; Depth is the depth at first
// discovery and is never updated afterward.
type URLRecord struct {
	URL           string        `json:"url"`
	DiscoveredAt  time.Time     `json:"discovered_at"`
	LastFetchedAt *time.Time    `json:"last_fetched_at,omitempty"`
	StatusCode    int           `json:"status_code,omitempty"`
	ContentType   string        `json:"content_type,omitempty"`
	Strategy      Strategy      `json:"strategy,omitempty"`
	Depth         int           `json:"depth"`
	ParentURL     string        `json:"parent_url,omitempty"`
	State         State         `json:"state"`
	ErrorDetail   string        `json:"error_detail,omitempty"`
	Latency       time.Duration `json:"latency,omitempty"`
}

// FetchResult is what the strategy router returns for one URL. A non-2xx
// status is a valid result; ErrorDetail is only set when the fetch itself
// failed after exhausting retries (or was refused, e.g. by robots.txt).
type FetchResult struct {
	StatusCode  int
	ContentType string
	Strategy    Strategy
	Latency     time.Duration
	Links       []string
	ErrorDetail string
}

// Failed reports whether the result represents a fetch failure rather
// than a served response.
func (r FetchResult) Failed() bool {
	return r.ErrorDetail != ""
}

// Summary is returned by the orchestrator after a run completes.
type Summary struct {
	RunID           string           `json:"run_id"`
	TotalDiscovered int              `json:"total_discovered"`
	TotalFetched    int              `json:"total_fetched"`
	TotalFailed     int              `json:"total_failed"`
	ByStrategy      map[Strategy]int `json:"by_strategy"`
	MaxDepthReached int              `json:"max_depth_reached"`
	Duration        time.Duration    `json:"duration"`
	URLsPerSecond   float64          `json:"urls_per_second"`
}

// FrontierStats is a cheap aggregate view of the frontier, used by the
// status endpoint and progress logging.
type FrontierStats struct {
	Total    int           `json:"total"`
	ByState  map[State]int `json:"by_state"`
	ByDepth  map[int]int   `json:"by_depth"`
	MaxDepth int           `json:"max_depth"`
}
