package matchers

import (
	"regexp"
	"strings"
)

// MatchesPartially reports whether keyword occurs anywhere in text.
func MatchesPartially(text, keyword string) bool {
	return strings.Contains(text, keyword)
}

// MatchesWordBoundary reports whether keyword occurs in text delimited by \b word boundaries.
// Both arguments are expected to be lower-cased already.
func MatchesWordBoundary(text, keyword string) bool {
	return wordBoundaryPattern(keyword, false).MatchString(text)
}

func wordBoundaryPattern(keyword string, caseInsensitive bool) *regexp.Regexp {
	prefix := ""
	if caseInsensitive {
		prefix = "(?i)"
	}
	return regexp.MustCompile(prefix + `\b` + regexp.QuoteMeta(keyword) + `\b`)
}

func literalPattern(keyword string) *regexp.Regexp {
	return regexp.MustCompile("(?i)" + regexp.QuoteMeta(keyword))
}
