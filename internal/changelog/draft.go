// Package changelog defines the structured changelog document, its
// markdown parsing, and its output renderings.
package changelog

import (
	"regexp"
	"strconv"
	"strings"
)

// Draft is a structured changelog document
type Draft struct {
	Title    string    `json:"title,omitempty"`
	Period   string    `json:"period,omitempty"`
	Sections []Section `json:"sections"`
	Fallback bool      `json:"fallback"`
}

// Section groups entries under a recognized heading
type Section struct {
	Name    string  `json:"name"`
	Entries []Entry `json:"entries"`
}

// Entry is one changelog line with the PRs it references
type Entry struct {
	Text      string `json:"text"`
	PRNumbers []int  `json:"pr_numbers,omitempty"`
}

// RequiredSections must be present for a draft to validate
var RequiredSections = []string{"Added", "Changed", "Fixed"}

// KnownSections lists all recognized section headings in canonical order
var KnownSections = []string{"Added", "Changed", "Deprecated", "Removed", "Fixed", "Security"}

var (
	headingPattern = regexp.MustCompile(`^#{1,4}\s+(.+?)\s*$`)
	bulletPattern  = regexp.MustCompile(`^[-*]\s+(.+)$`)
	prRefPattern   = regexp.MustCompile(`\[?#(\d+)\]?`)
)

// Section returns the named section, or nil
func (d *Draft) Section(name string) *Section {
	for i := range d.Sections {
		if strings.EqualFold(d.Sections[i].Name, name) {
			return &d.Sections[i]
		}
	}
	return nil
}

// PRNumbers returns every PR referenced anywhere in the draft, deduplicated
func (d *Draft) PRNumbers() []int {
	seen := make(map[int]bool)
	var numbers []int
	for _, s := range d.Sections {
		for _, e := range s.Entries {
			for _, n := range e.PRNumbers {
				if !seen[n] {
					seen[n] = true
					numbers = append(numbers, n)
				}
			}
		}
	}
	return numbers
}

// ExtractPRNumbers parses PR references like [#123] or #123 from text
func ExtractPRNumbers(text string) []int {
	var numbers []int
	for _, match := range prRefPattern.FindAllStringSubmatch(text, -1) {
		if n, err := strconv.Atoi(match[1]); err == nil {
			numbers = append(numbers, n)
		}
	}
	return numbers
}

// ParseMarkdown builds a Draft from markdown with `## Section` headings and
// `- entry` bullets. Headings that do not match a known section are kept
// verbatim so validation can report them.
func ParseMarkdown(text string) Draft {
	var draft Draft
	var current *Section

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			continue
		}

		if match := headingPattern.FindStringSubmatch(line); match != nil {
			name := canonicalSection(match[1])
			draft.Sections = append(draft.Sections, Section{Name: name})
			current = &draft.Sections[len(draft.Sections)-1]
			continue
		}

		if match := bulletPattern.FindStringSubmatch(line); match != nil && current != nil {
			text := strings.TrimSpace(match[1])
			current.Entries = append(current.Entries, Entry{
				Text:      text,
				PRNumbers: ExtractPRNumbers(text),
			})
		}
	}

	return draft
}

// canonicalSection maps a heading to its canonical name when recognized
func canonicalSection(heading string) string {
	heading = strings.TrimSpace(heading)
	for _, name := range KnownSections {
		if strings.EqualFold(heading, name) {
			return name
		}
	}
	return heading
}
