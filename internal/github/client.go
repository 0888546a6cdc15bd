// Package github retrieves pull requests and their commits from the GitHub
// API, page by page, with rate-limit awareness.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alan/changelog-gen/internal/sanitize"
	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// Client wraps the GitHub API client for a single repository
type Client struct {
	client  *github.Client
	org     string
	repo    string
	perPage int
}

// NewClient creates a new GitHub client with token authentication
func NewClient(ctx context.Context, token, org, repo string, perPage int) *Client {
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)

	if perPage <= 0 {
		perPage = 100
	}

	return &Client{
		client:  github.NewClient(tc),
		org:     org,
		repo:    repo,
		perPage: perPage,
	}
}

// ListMergedPRPage fetches one page of closed PRs against the given base
// branch, sorted most-recently-updated first, keeping only merged ones.
func (c *Client) ListMergedPRPage(ctx context.Context, branch string, page int) (PRPage, error) {
	opts := &github.PullRequestListOptions{
		State:     "closed",
		Base:      branch,
		Sort:      "updated",
		Direction: "desc",
		ListOptions: github.ListOptions{
			PerPage: c.perPage,
			Page:    page,
		},
	}

	slog.Debug("GitHub API: Listing pull requests", "org", c.org, "repo", c.repo, "base", branch, "page", page)
	prs, resp, err := c.client.PullRequests.List(ctx, c.org, c.repo, opts)
	if err != nil {
		return PRPage{}, fmt.Errorf("failed to list pull requests for %s page %d: %w", branch, page, err)
	}

	result := PRPage{NextPage: resp.NextPage, Remaining: resp.Rate.Remaining}
	for _, pr := range prs {
		if pr.MergedAt == nil {
			continue
		}
		result.Items = append(result.Items, PullRequest{
			Number:   pr.GetNumber(),
			Title:    sanitize.Title(pr.GetTitle()),
			Body:     sanitize.Message(pr.GetBody()),
			Branch:   branch,
			MergedAt: pr.GetMergedAt().Time,
		})
	}

	return result, nil
}

// ListPRCommitsPage fetches one page of commits for a PR. Messages are
// sanitized here so nothing unclean ever enters a cache or prompt; merge
// commits are dropped.
func (c *Client) ListPRCommitsPage(ctx context.Context, prNumber, page int) (CommitPage, error) {
	opts := &github.ListOptions{
		PerPage: c.perPage,
		Page:    page,
	}

	slog.Debug("GitHub API: Listing PR commits", "org", c.org, "repo", c.repo, "pr", prNumber, "page", page)
	commits, resp, err := c.client.PullRequests.ListCommits(ctx, c.org, c.repo, prNumber, opts)
	if err != nil {
		return CommitPage{}, fmt.Errorf("failed to list commits for PR #%d page %d: %w", prNumber, page, err)
	}

	result := CommitPage{NextPage: resp.NextPage, Remaining: resp.Rate.Remaining}
	for _, commit := range commits {
		message := commit.GetCommit().GetMessage()
		if sanitize.IsMergeCommit(message) {
			continue
		}
		result.Items = append(result.Items, Commit{
			SHA:        commit.GetSHA(),
			Message:    sanitize.Message(firstLines(message, 3)),
			PRNumber:   prNumber,
			AuthoredAt: commit.GetCommit().GetAuthor().GetDate().Time,
		})
	}

	return result, nil
}

// CheckConnectivity verifies the API and token by querying the rate limit
// endpoint, which costs no quota.
func (c *Client) CheckConnectivity(ctx context.Context) error {
	_, _, err := c.client.RateLimit.Get(ctx)
	if err != nil {
		return fmt.Errorf("GitHub API unreachable: %w", err)
	}
	return nil
}

// firstLines keeps at most n leading lines of a commit message; bodies
// beyond that are boilerplate for changelog purposes.
func firstLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[:n], "\n")
}
