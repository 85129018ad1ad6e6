package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// Normalize canonicalizes a raw link into the comparable key used for
// frontier uniqueness. Relative links are resolved against base (which
// may be empty for absolute input). The rules, in order: resolve to
// absolute form, strip the fragment, sort query parameters by key
// (blank values kept), trim a single trailing slash unless the path is
// exactly "/", and lowercase the scheme and host. Path and query case
// is left untouched.
//
// Returns ErrInvalidURL when the input cannot be parsed or resolves to
// a scheme other than http or https.
func Normalize(rawURL, base string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidURL, rawURL, err)
	}

	if base != "" {
		b, err := url.Parse(base)
		if err != nil {
			return "", fmt.Errorf("%w: base %q: %v", ErrInvalidURL, base, err)
		}
		u = b.ResolveReference(u)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host in %q", ErrInvalidURL, rawURL)
	}

	// Default ports add nothing to identity.
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""

	// url.Values.Encode sorts keys lexicographically and keeps blank
	// values, so ?x= stays distinct from the absence of x.
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}

	if u.Path != "/" && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String(), nil
}

// Host extracts the lowercased hostname (no port) from a URL, for
// domain allowlist checks. Returns "" for unparsable input.
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
