package a2a

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// strictPolicy strips every tag; peer-supplied text is never rendered as
// markup anywhere in this module.
var strictPolicy = bluemonday.StrictPolicy()

// SanitizeText strips markup and entities from untrusted peer-supplied text
// before it is embedded in owner notifications or synthesized summaries.
func SanitizeText(s string) string {
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(s)))
}

// Excerpt returns a sanitized prefix of s of at most n runes, with an
// ellipsis when truncated.
func Excerpt(s string, n int) string {
	s = SanitizeText(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n])) + "…"
}
