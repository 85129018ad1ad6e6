package crawler

import "errors"

// Sentinel errors for the crawl core. Per-URL fetch failures never
// surface as errors past the router boundary; they become failed
// records. Only ErrStorage and configuration problems abort a run.
var (
	// ErrInvalidURL marks input that cannot be parsed as an http(s)
	// URL. Links failing with this are dropped silently at enqueue
	// time; they were never fetched, so they are not failures.
	ErrInvalidURL = errors.New("invalid url")

	// ErrStorage wraps frontier persistence failures. Fatal to the
	// run: crawl state integrity cannot be guaranteed past this point.
	ErrStorage = errors.New("frontier storage error")

	// ErrDisallowed marks a fetch refused by robots policy.
	ErrDisallowed = errors.New("disallowed by robots policy")

	// ErrConfiguration marks an unusable orchestrator configuration.
	ErrConfiguration = errors.New("invalid crawl configuration")
)
