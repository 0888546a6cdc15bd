package llm

import (
	"fmt"
	"strings"

	"github.com/alan/changelog-gen/internal/assembler"
	"github.com/alan/changelog-gen/internal/changelog"
)

// Fallback builds the deterministic changelog substituted when generation
// fails or its output cannot be validated. Entries are routed to sections
// by title keywords; required sections always come back non-empty.
func Fallback(entries []assembler.Entry, repository, period string) changelog.Draft {
	draft := changelog.Draft{
		Title:    fmt.Sprintf("Changelog for %s", repository),
		Period:   period,
		Fallback: true,
	}

	bySection := make(map[string][]changelog.Entry)
	for _, entry := range entries {
		section := classifyTitle(entry.Title)
		bySection[section] = append(bySection[section], changelog.Entry{
			Text:      fmt.Sprintf("%s [#%d]", entry.Title, entry.Number),
			PRNumbers: []int{entry.Number},
		})
	}

	for _, name := range changelog.KnownSections {
		sectionEntries := bySection[name]
		if len(sectionEntries) == 0 {
			if !isRequired(name) {
				continue
			}
			sectionEntries = []changelog.Entry{{
				Text: fmt.Sprintf("No %s changes recorded for this period.", strings.ToLower(name)),
			}}
		}
		draft.Sections = append(draft.Sections, changelog.Section{
			Name:    name,
			Entries: sectionEntries,
		})
	}

	return draft
}

// classifyTitle routes a PR title to a section by conventional-commit-style
// keywords; anything unrecognized lands in Changed.
func classifyTitle(title string) string {
	lower := strings.ToLower(title)
	switch {
	case containsAny(lower, "security", "cve", "vulnerab"):
		return "Security"
	case containsAny(lower, "fix", "bug", "patch", "resolve"):
		return "Fixed"
	case containsAny(lower, "remove", "delete", "drop "):
		return "Removed"
	case containsAny(lower, "deprecat"):
		return "Deprecated"
	case containsAny(lower, "add", "feat", "introduce", "new ", "support"):
		return "Added"
	default:
		return "Changed"
	}
}

func isRequired(name string) bool {
	for _, required := range changelog.RequiredSections {
		if required == name {
			return true
		}
	}
	return false
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
