// Package sanitize strips control characters, markup and likely-sensitive
// substrings from commit and PR text before it reaches a cache or a prompt.
package sanitize

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	emailPattern  = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	urlPattern    = regexp.MustCompile(`https?://[^\s<>"]+`)
	secretPattern = regexp.MustCompile(`\b[A-Fa-f0-9]{32,}\b`)
	markupPattern = regexp.MustCompile(`<[^>]*>`)
	spacePattern  = regexp.MustCompile(`[ \t]+`)
)

// Message normalizes a commit message: control characters and markup are
// removed, emails, URLs and long hex strings are redacted, whitespace is
// collapsed.
func Message(s string) string {
	s = stripControl(s)
	s = markupPattern.ReplaceAllString(s, "")
	s = emailPattern.ReplaceAllString(s, "[email]")
	s = urlPattern.ReplaceAllString(s, "[url]")
	s = secretPattern.ReplaceAllString(s, "[redacted]")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spacePattern.ReplaceAllString(line, " "))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Title normalizes a PR title to a single clean line
func Title(s string) string {
	s = Message(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// IsMergeCommit reports whether a message is an automatic merge commit
// that adds no changelog signal.
func IsMergeCommit(message string) bool {
	return strings.HasPrefix(message, "Merge branch") ||
		strings.HasPrefix(message, "Merge pull request") ||
		strings.HasPrefix(message, "Merge remote-tracking branch")
}

func stripControl(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
