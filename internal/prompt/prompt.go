// Package prompt turns an aggregation record into a bounded, deterministic
// generation payload and chooses the generation strategy.
package prompt

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/alan/changelog-gen/internal/assembler"
	"github.com/alan/changelog-gen/internal/cache"
)

// Strategy selects how many model calls the generation takes
type Strategy string

const (
	// StrategySingleStep produces the final document in one call
	StrategySingleStep Strategy = "single-step"
	// StrategyTwoStep categorizes first, then assembles the document
	StrategyTwoStep Strategy = "two-step"
)

// SystemPrompt is the fixed instruction shared by every generation call
const SystemPrompt = `You are an expert changelog writer. Create a changelog from pull request and commit data following these rules:
1. Group changes into sections: Added, Changed, Deprecated, Removed, Fixed, Security. Always include Added, Changed and Fixed, even if a section has only one entry.
2. Keep entries clear, concise and user-facing. Use active voice and start each entry with a verb.
3. Every entry must reference its pull request as [#123].
4. Output markdown with "## Section" headings and "- entry" bullets only. No preamble, no closing remarks.`

// Payload is the bounded input handed to the LLM client. Entries are kept
// so the fallback document and the two-step categorize call can use them.
type Payload struct {
	System         string
	User           string
	Entries        []assembler.Entry
	TotalTokens    int
	TruncatedCount int
	Repository     string
	Period         string
}

// Fingerprint keys the generated-content cache by the exact payload
func (p Payload) Fingerprint(strategy Strategy) string {
	return cache.PayloadKey(string(strategy), p.System, p.User)
}

// Builder truncates records to a token budget and selects a strategy
type Builder struct {
	// SafetyMargin is reserved headroom below the budget, in tokens
	SafetyMargin int
	// TwoStepThreshold is the entry count above which two-step is chosen
	TwoStepThreshold int
	// WarnFraction logs degraded-quality warnings when truncation removes
	// more than this share of entries
	WarnFraction float64
	// Repository and Period annotate the user prompt
	Repository string
	Period     string
}

// NewBuilder returns a builder with default margins
func NewBuilder(repository, period string) Builder {
	return Builder{
		SafetyMargin:     512,
		TwoStepThreshold: 20,
		WarnFraction:     0.5,
		Repository:       repository,
		Period:           period,
	}
}

// Build truncates the record to tokenBudget minus the safety margin,
// dropping whole entries from the tail (the oldest, lowest-priority ones),
// then chooses single-step below the threshold and two-step above it.
func (b Builder) Build(record assembler.AggregationRecord, tokenBudget int) (Payload, Strategy) {
	usable := tokenBudget - b.SafetyMargin
	if usable < 0 {
		usable = 0
	}

	kept := record.Entries
	total := record.TotalTokens
	for total > usable && len(kept) > 0 {
		total -= kept[len(kept)-1].TokenEstimate
		kept = kept[:len(kept)-1]
	}

	truncated := len(record.Entries) - len(kept)
	if truncated > 0 {
		slog.Info("Truncated entries to fit token budget",
			"kept", len(kept), "dropped", truncated, "budget", tokenBudget)
		if b.WarnFraction > 0 && float64(truncated) > b.WarnFraction*float64(len(record.Entries)) {
			slog.Warn("Truncation removed a large share of entries, output quality degraded",
				"dropped", truncated, "total", len(record.Entries))
		}
	}

	payload := Payload{
		System:         SystemPrompt,
		User:           b.renderUser(kept),
		Entries:        kept,
		TotalTokens:    total,
		TruncatedCount: truncated,
		Repository:     b.Repository,
		Period:         b.Period,
	}

	strategy := StrategySingleStep
	if len(kept) > b.TwoStepThreshold {
		strategy = StrategyTwoStep
	}
	return payload, strategy
}

// renderUser formats the kept entries deterministically; cache-key
// stability depends on identical records rendering identically.
func (b Builder) renderUser(entries []assembler.Entry) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Generate a changelog for %s.\n", b.Repository)
	if b.Period != "" {
		fmt.Fprintf(&sb, "Time period: %s\n", b.Period)
	}
	fmt.Fprintf(&sb, "\nPull requests (%d, most recent first):\n\n", len(entries))

	for _, entry := range entries {
		sb.WriteString(assembler.RenderEntry(entry))
		sb.WriteString("\n")
	}

	return sb.String()
}
