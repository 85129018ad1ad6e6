package crawler

import (
	"net/url"
	"sort"
	"strings"
)

// Signature is a coarse classification of a URL's structural shape.
// Within one run at most one URL per signature is dynamically rendered;
// the rest are fetched statically. Everything hangs on signatures being
// deterministic, so classification is a pure function of the URL.
type Signature string

// PatternRule names one URL family. A rule matches when the URL path
// contains PathContains (case-insensitive) and the query string carries
// every key in RequiredParams. Rules are evaluated in order; the first
// match wins, so list the most specific rules first.
type PatternRule struct {
	Name           string   `mapstructure:"name"`
	PathContains   string   `mapstructure:"path_contains"`
	RequiredParams []string `mapstructure:"required_params"`
}

// Classifier maps normalized URLs to pattern signatures.
type Classifier struct {
	rules []PatternRule
}

// DefaultPatternRules models the listing-page families of a job board:
// the same browse page filtered by category and/or location produces
// thousands of URL variants that all hydrate the same client-side view.
func DefaultPatternRules() []PatternRule {
	return []PatternRule{
		{Name: "listing-category-location", PathContains: "browse-jobs", RequiredParams: []string{"category", "location"}},
		{Name: "listing-category", PathContains: "browse-jobs", RequiredParams: []string{"category"}},
		{Name: "listing-location", PathContains: "browse-jobs", RequiredParams: []string{"location"}},
		{Name: "listing-base", PathContains: "browse-jobs"},
		{Name: "jobs-in-location", PathContains: "/jobs-in-"},
		{Name: "job-detail", PathContains: "/job/"},
	}
}

// NewClassifier builds a Classifier over the given ordered rules. Nil
// rules fall back to DefaultPatternRules.
func NewClassifier(rules []PatternRule) *Classifier {
	if rules == nil {
		rules = DefaultPatternRules()
	}
	return &Classifier{rules: rules}
}

// Classify returns the pattern signature for a normalized URL. It is
// total: URLs matching no rule get a signature derived from their path,
// so two distinct static pages never collapse into one family.
func (c *Classifier) Classify(normalized string) Signature {
	u, err := url.Parse(normalized)
	if err != nil {
		return Signature("other:" + normalized)
	}

	lowerPath := strings.ToLower(u.Path)
	params := u.Query()

	for _, rule := range c.rules {
		if rule.PathContains != "" && !strings.Contains(lowerPath, strings.ToLower(rule.PathContains)) {
			continue
		}
		if !hasAllParams(params, rule.RequiredParams) {
			continue
		}
		return Signature(rule.Name)
	}

	// Unmatched URLs use their path plus sorted query key set, so
	// /page?a=1 and /page?a=2 share a family but /page?b=2 does not.
	sig := "path:" + lowerPath
	if len(params) > 0 {
		sig += "?" + strings.Join(sortedKeys(params), ",")
	}
	return Signature(sig)
}

func hasAllParams(params url.Values, required []string) bool {
	for _, key := range required {
		if !params.Has(key) {
			return false
		}
	}
	return true
}

func sortedKeys(params url.Values) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
