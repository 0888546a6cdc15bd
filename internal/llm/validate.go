package llm

import (
	"fmt"
	"strings"

	"github.com/alan/changelog-gen/internal/changelog"
)

// minEntryLength rejects fragments like "- Fixed." that carry no signal
const minEntryLength = 8

// ValidationError lists every structural defect found in a response, so a
// repair re-prompt can name all of them at once.
type ValidationError struct {
	Defects []string
}

func (e *ValidationError) Error() string {
	return "invalid changelog draft: " + strings.Join(e.Defects, "; ")
}

// Validate checks a parsed draft for structural correctness: required
// sections present, every entry referencing a PR, no empty or too-short
// entries.
func Validate(draft changelog.Draft) error {
	var defects []string

	for _, name := range changelog.RequiredSections {
		section := draft.Section(name)
		if section == nil {
			defects = append(defects, fmt.Sprintf("missing required section %q", name))
			continue
		}
		if len(section.Entries) == 0 {
			defects = append(defects, fmt.Sprintf("section %q has no entries", name))
		}
	}

	for _, section := range draft.Sections {
		for i, entry := range section.Entries {
			text := strings.TrimSpace(entry.Text)
			if len(text) < minEntryLength {
				defects = append(defects, fmt.Sprintf("entry %d in %q is empty or too short", i+1, section.Name))
				continue
			}
			if len(entry.PRNumbers) == 0 {
				defects = append(defects, fmt.Sprintf("entry %d in %q does not reference a PR like [#123]", i+1, section.Name))
			}
		}
	}

	if len(defects) > 0 {
		return &ValidationError{Defects: defects}
	}
	return nil
}
