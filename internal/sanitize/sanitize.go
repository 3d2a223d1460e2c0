// Package sanitize cleans free-form text that clients send and that later
// ends up in logs, audit rows or a browser. Markup is stripped with a
// bluemonday strict policy; the gateway never stores HTML.
package sanitize

import (
	"html"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// strict removes every tag and attribute, keeping only text content.
var strict = sync.OnceValue(bluemonday.StrictPolicy)

// Text strips markup and control characters from s, collapses runs of
// whitespace and trims the result. Entities that bluemonday escapes are
// decoded again so "Tom & Jerry" survives unchanged.
func Text(s string) string {
	if s == "" {
		return ""
	}
	cleaned := html.UnescapeString(strict().Sanitize(s))

	var b strings.Builder
	b.Grow(len(cleaned))
	space := false
	for _, r := range cleaned {
		switch {
		case unicode.IsSpace(r):
			space = true
		case unicode.IsControl(r):
			// dropped
		default:
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Truncate shortens s to at most n bytes without splitting a rune.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
