package matchers

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kova98/changealert.api/data"
)

// ContextRadius is the number of characters kept on each side of a match.
const ContextRadius = 100

const ellipsis = "..."

var (
	scriptBlock  = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	styleBlock   = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style\s*>`)
	commentBlock = regexp.MustCompile(`(?s)<!--.*?-->`)
	anyTag       = regexp.MustCompile(`<[^>]*>`)
	whitespace   = regexp.MustCompile(`\s+`)
)

// KeywordMatch is the context of the first occurrence of a keyword in a snapshot.
type KeywordMatch struct {
	Keyword            data.Keyword
	ContextPlain       string
	ContextHighlighted string
}

// NormalizeText strips markup from an HTML snapshot and returns its visible text
// with whitespace runs collapsed to single spaces. Script and style contents are dropped.
func NormalizeText(html string) string {
	text := scriptBlock.ReplaceAllString(html, " ")
	text = styleBlock.ReplaceAllString(text, " ")
	text = commentBlock.ReplaceAllString(text, " ")
	text = anyTag.ReplaceAllString(text, " ")
	text = whitespace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// FindMatches returns the keywords present in text, in the order they were given.
func FindMatches(text string, keywords []data.Keyword) []data.Keyword {
	normalized := strings.ToLower(NormalizeText(text))

	matched := make([]data.Keyword, 0)
	for _, kw := range keywords {
		needle := strings.ToLower(strings.TrimSpace(kw.Keyword))
		if needle == "" {
			continue
		}

		if MatchesPartially(normalized, needle) || MatchesWordBoundary(normalized, needle) {
			matched = append(matched, kw)
		}
	}

	return matched
}

// ExtractContext returns one KeywordMatch per keyword, built around its first occurrence.
// A keyword that cannot be located yields empty context strings.
func ExtractContext(text string, keywords []data.Keyword) []KeywordMatch {
	normalized := NormalizeText(text)

	out := make([]KeywordMatch, 0, len(keywords))
	for _, kw := range keywords {
		needle := strings.TrimSpace(kw.Keyword)
		if needle == "" {
			out = append(out, KeywordMatch{Keyword: kw})
			continue
		}

		start, end := locate(normalized, needle)
		if start < 0 {
			out = append(out, KeywordMatch{Keyword: kw})
			continue
		}

		snippet := window(normalized, start, end)
		out = append(out, KeywordMatch{
			Keyword:            kw,
			ContextPlain:       snippet,
			ContextHighlighted: Highlight(snippet, needle),
		})
	}

	return out
}

// Highlight wraps every case-insensitive occurrence of keyword in <mark> tags.
func Highlight(text, keyword string) string {
	if keyword == "" {
		return text
	}
	return literalPattern(keyword).ReplaceAllString(text, "<mark>$0</mark>")
}

// locate returns byte offsets into normalized. Lower-casing can change a rune's
// byte length, so offsets are never taken from a lower-cased copy.
func locate(normalized, needle string) (int, int) {
	if loc := literalPattern(needle).FindStringIndex(normalized); loc != nil {
		return loc[0], loc[1]
	}

	if loc := wordBoundaryPattern(needle, true).FindStringIndex(normalized); loc != nil {
		return loc[0], loc[1]
	}

	return -1, -1
}

// window cuts ContextRadius characters around text[start:end] and marks truncated ends.
func window(text string, start, end int) string {
	runes := []rune(text)
	matchStart := utf8.RuneCountInString(text[:start])
	matchEnd := matchStart + utf8.RuneCountInString(text[start:end])

	from := max(0, matchStart-ContextRadius)
	to := min(len(runes), matchEnd+ContextRadius)

	snippet := strings.TrimSpace(string(runes[from:to]))
	if from > 0 {
		snippet = ellipsis + snippet
	}
	if to < len(runes) {
		snippet += ellipsis
	}

	return snippet
}
