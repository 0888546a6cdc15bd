package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/alan/changelog-gen/internal/cache"
	"github.com/alan/changelog-gen/internal/orchestrator"
	"github.com/alan/changelog-gen/internal/prompt"
	"github.com/fatih/color"
)

// DisplayRunSummary prints the post-run metadata block
func DisplayRunSummary(meta orchestrator.RunMetadata) {
	fmt.Print(formatRunSummary(meta))
}

// formatRunSummary renders metadata for the terminal
func formatRunSummary(meta orchestrator.RunMetadata) string {
	var b strings.Builder

	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Fprintf(&b, "\nRun %s for %s (%s)\n", meta.RunID, meta.Repository, meta.Period)
	fmt.Fprintf(&b, "  PRs: %d fetched, %d unique", meta.TotalFetched, meta.UniquePRs)
	if meta.TruncatedEntries > 0 {
		fmt.Fprintf(&b, ", %s", yellow(fmt.Sprintf("%d truncated for budget", meta.TruncatedEntries)))
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "  Strategy: %s", strategyLabel(meta.Strategy))
	if meta.CacheHit {
		fmt.Fprintf(&b, " (%s)", green("served from cache"))
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "  Timing: fetch %s, generate %s\n",
		meta.FetchDuration.Round(10*time.Millisecond), meta.GenerateDuration.Round(10*time.Millisecond))

	for _, class := range cache.Classes {
		stats := meta.CacheStats[class]
		fmt.Fprintf(&b, "  Cache %-10s hits %d, misses %d (%.0f%%)\n",
			string(class)+":", stats.Hits, stats.Misses, stats.HitRatio()*100)
	}

	if meta.PartialFetch {
		fmt.Fprintf(&b, "  %s\n", yellow("⚠ partial fetch: some branches did not complete"))
	}
	if meta.FallbackUsed {
		fmt.Fprintf(&b, "  %s\n", yellow("⚠ fallback content used: generation failed or was invalid"))
	} else {
		fmt.Fprintf(&b, "  %s\n", green("✅ changelog fully generated"))
	}
	for _, warning := range meta.Warnings {
		fmt.Fprintf(&b, "  %s\n", yellow("⚠ "+warning))
	}

	return b.String()
}

func strategyLabel(strategy prompt.Strategy) string {
	switch strategy {
	case prompt.StrategyTwoStep:
		return "two-step (categorize, then assemble)"
	case prompt.StrategySingleStep:
		return "single-step"
	default:
		return string(strategy)
	}
}

// DisplayPhaseProgress prints a coarse progress marker for a phase
func DisplayPhaseProgress(phase orchestrator.Phase, percent int) {
	fmt.Printf("  [%-8s] %3d%%\n", phase, percent)
}
