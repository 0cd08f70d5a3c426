package rss

import (
	"regexp"
	"strings"

	"github.com/1morr/anidown/internal/domain"
)

// Blocked reports whether title is excluded by filter's blocked-keywords
// (case-insensitive substring, newline-separated) or blocked-regex
// (one pattern per line, ORed) rules.
func Blocked(filter domain.FilterConfig, title string) bool {
	if blockedByKeyword(filter.BlockedKeywords, title) {
		return true
	}
	return blockedByRegex(filter.BlockedRegex, title)
}

func blockedByKeyword(keywords, title string) bool {
	lowerTitle := strings.ToLower(title)
	for _, line := range strings.Split(keywords, "\n") {
		kw := strings.ToLower(strings.TrimSpace(line))
		if kw == "" {
			continue
		}
		if strings.Contains(lowerTitle, kw) {
			return true
		}
	}
	return false
}

func blockedByRegex(patterns, title string) bool {
	for _, line := range strings.Split(patterns, "\n") {
		pattern := strings.TrimSpace(line)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue // a malformed stored pattern never blocks a feed
		}
		if re.MatchString(title) {
			return true
		}
	}
	return false
}
