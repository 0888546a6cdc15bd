// Package assembler deduplicates pull requests seen across branches and
// reduces them to a normalized, deterministically ordered record set.
package assembler

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alan/changelog-gen/internal/github"
	"github.com/alan/changelog-gen/internal/sanitize"
)

// Entry is one deduplicated pull request with its commit summary block
type Entry struct {
	Number        int       `json:"number"`
	Title         string    `json:"title"`
	Branches      []string  `json:"branches,omitempty"`
	MergedAt      time.Time `json:"merged_at"`
	CommitBlock   string    `json:"commit_block,omitempty"`
	CommitCount   int       `json:"commit_count"`
	TokenEstimate int       `json:"token_estimate"`
}

// AggregationRecord is the immutable output of one assembly pass
type AggregationRecord struct {
	Entries     []Entry `json:"entries"`
	TotalTokens int     `json:"total_tokens"`
}

// EstimateTokens approximates model-token cost as characters / 4
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// Assemble deduplicates PRs by number (unioning commits when the same PR
// was fetched from several branches), groups commit messages into one
// normalized block per PR, and orders entries most-recently-merged first
// with ties broken by number ascending. Identical input always produces
// identical output; the prompt cache key depends on that.
func Assemble(prs []github.PullRequest) AggregationRecord {
	type merged struct {
		pr       github.PullRequest
		branches map[string]bool
		commits  map[string]github.Commit
	}

	byNumber := make(map[int]*merged)
	for _, pr := range prs {
		m, ok := byNumber[pr.Number]
		if !ok {
			m = &merged{
				pr:       pr,
				branches: make(map[string]bool),
				commits:  make(map[string]github.Commit),
			}
			byNumber[pr.Number] = m
		}
		// Keep the most complete duplicate
		if m.pr.Title == "" && pr.Title != "" {
			m.pr.Title = pr.Title
		}
		if m.pr.Body == "" && pr.Body != "" {
			m.pr.Body = pr.Body
		}
		if m.pr.MergedAt.IsZero() || (!pr.MergedAt.IsZero() && pr.MergedAt.Before(m.pr.MergedAt)) {
			m.pr.MergedAt = pr.MergedAt
		}
		if pr.Branch != "" {
			m.branches[pr.Branch] = true
		}
		for _, c := range pr.Commits {
			m.commits[c.SHA] = c
		}
	}

	record := AggregationRecord{}
	for _, m := range byNumber {
		entry := Entry{
			Number:   m.pr.Number,
			Title:    m.pr.Title,
			MergedAt: m.pr.MergedAt,
			Branches: sortedKeys(m.branches),
		}

		commits := make([]github.Commit, 0, len(m.commits))
		for _, c := range m.commits {
			commits = append(commits, c)
		}
		sort.Slice(commits, func(i, j int) bool {
			if !commits[i].AuthoredAt.Equal(commits[j].AuthoredAt) {
				return commits[i].AuthoredAt.Before(commits[j].AuthoredAt)
			}
			return commits[i].SHA < commits[j].SHA
		})

		entry.CommitBlock = buildCommitBlock(commits)
		entry.CommitCount = len(commits)
		entry.TokenEstimate = EstimateTokens(renderEntry(entry))
		record.Entries = append(record.Entries, entry)
	}

	sort.Slice(record.Entries, func(i, j int) bool {
		a, b := record.Entries[i], record.Entries[j]
		if !a.MergedAt.Equal(b.MergedAt) {
			return a.MergedAt.After(b.MergedAt)
		}
		return a.Number < b.Number
	})

	for _, e := range record.Entries {
		record.TotalTokens += e.TokenEstimate
	}
	return record
}

// RenderEntry formats one entry for inclusion in a prompt payload
func RenderEntry(e Entry) string {
	return renderEntry(e)
}

func renderEntry(e Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "PR #%d: %s (merged %s)\n", e.Number, e.Title, e.MergedAt.UTC().Format("2006-01-02"))
	if e.CommitBlock != "" {
		b.WriteString(e.CommitBlock)
		b.WriteString("\n")
	}
	return b.String()
}

func buildCommitBlock(commits []github.Commit) string {
	var lines []string
	seen := make(map[string]bool)
	for _, c := range commits {
		message := sanitize.Message(c.Message)
		if message == "" || sanitize.IsMergeCommit(message) {
			continue
		}
		// Collapse multi-line messages into the block as single bullets
		message = strings.ReplaceAll(message, "\n", " ")
		if seen[message] {
			continue
		}
		seen[message] = true
		lines = append(lines, "- "+message)
	}
	return strings.Join(lines, "\n")
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
