package changelog

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
)

// Format selects an output rendering for a draft
type Format string

const (
	// FormatMarkdown renders CommonMark with `##` section headings
	FormatMarkdown Format = "markdown"
	// FormatHTML renders a standalone fragment suitable for embedding
	FormatHTML Format = "html"
	// FormatJSON renders the structured document as JSON
	FormatJSON Format = "json"
)

// ParseFormat converts a string to a Format, defaulting to markdown
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "markdown", "md":
		return FormatMarkdown, nil
	case "html":
		return FormatHTML, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (markdown, html, json)", s)
	}
}

// Render produces the draft in the requested format
func (d Draft) Render(format Format) (string, error) {
	switch format {
	case FormatMarkdown:
		return d.Markdown(), nil
	case FormatHTML:
		return d.HTML(), nil
	case FormatJSON:
		data, err := json.MarshalIndent(d, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal draft: %w", err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("unknown output format %q", format)
	}
}

// Markdown renders the draft as markdown
func (d Draft) Markdown() string {
	var b strings.Builder

	if d.Title != "" {
		fmt.Fprintf(&b, "# %s\n\n", d.Title)
	}
	if d.Period != "" {
		fmt.Fprintf(&b, "_%s_\n\n", d.Period)
	}

	for _, section := range d.Sections {
		if len(section.Entries) == 0 {
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n", section.Name)
		for _, entry := range section.Entries {
			fmt.Fprintf(&b, "- %s\n", entry.Text)
		}
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

// HTML renders the draft as an HTML fragment
func (d Draft) HTML() string {
	var b strings.Builder

	if d.Title != "" {
		fmt.Fprintf(&b, "<h1>%s</h1>\n", html.EscapeString(d.Title))
	}
	if d.Period != "" {
		fmt.Fprintf(&b, "<p><em>%s</em></p>\n", html.EscapeString(d.Period))
	}

	for _, section := range d.Sections {
		if len(section.Entries) == 0 {
			continue
		}
		fmt.Fprintf(&b, "<h2>%s</h2>\n<ul>\n", html.EscapeString(section.Name))
		for _, entry := range section.Entries {
			fmt.Fprintf(&b, "  <li>%s</li>\n", html.EscapeString(entry.Text))
		}
		b.WriteString("</ul>\n")
	}

	return b.String()
}
