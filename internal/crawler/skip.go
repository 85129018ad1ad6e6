package crawler

import (
	"regexp"
	"strings"
)

// defaultSkipPatterns exclude binary assets and non-page links from the
// frontier. They never reach the fetchers at all.
var defaultSkipPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\.(pdf|doc|docx|xls|xlsx|ppt|pptx|zip|rar|tar|gz)$`),
	regexp.MustCompile(`(?i)\.(jpg|jpeg|png|gif|bmp|svg|ico|webp|css|js|woff2?)$`),
}

// SkipList decides which discovered links are never worth enqueueing.
type SkipList struct {
	patterns []*regexp.Regexp
}

// NewSkipList compiles extra skip patterns on top of the defaults.
// Invalid expressions are reported rather than ignored.
func NewSkipList(extra []string) (*SkipList, error) {
	patterns := append([]*regexp.Regexp(nil), defaultSkipPatterns...)
	for _, raw := range extra {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, re)
	}
	return &SkipList{patterns: patterns}, nil
}

// ShouldSkip reports whether the normalized URL matches a skip pattern.
func (s *SkipList) ShouldSkip(normalized string) bool {
	if s == nil {
		return false
	}
	for _, re := range s.patterns {
		if re.MatchString(normalized) {
			return true
		}
	}
	return false
}
