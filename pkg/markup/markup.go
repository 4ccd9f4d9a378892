// Package markup converts Slack-style link markup to common markdown.
package markup

import (
	"regexp"
	"strings"
)

// linkRe matches <url> and <url|label>. The url part stops at whitespace so
// prose such as "a < b > c" is left untouched.
var linkRe = regexp.MustCompile(`<([^\s<>|]+)(?:\|([^>]+))?>`)

// Convert rewrites <url|label> as [label](url) and <url> as url.
//
// Matching is leftmost-first and single pass: converted output is never
// re-scanned, and unterminated brackets are kept as literal text.
func Convert(text string) string {
	matches := linkRe.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))

	last := 0
	for _, m := range matches {
		b.WriteString(text[last:m[0]])

		url := text[m[2]:m[3]]
		if m[4] >= 0 {
			b.WriteString("[")
			b.WriteString(text[m[4]:m[5]])
			b.WriteString("](")
			b.WriteString(url)
			b.WriteString(")")
		} else {
			b.WriteString(url)
		}

		last = m[1]
	}
	b.WriteString(text[last:])

	return b.String()
}
