package github

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alan/changelog-gen/internal/cache"
	"github.com/alan/changelog-gen/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var since = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

// fakeLister serves scripted PR pages per branch and counts API calls
type fakeLister struct {
	mu          sync.Mutex
	pages       map[string][]PRPage
	commits     map[int][]CommitPage
	branchErrs  map[string]error
	prCalls     int
	commitCalls int
}

func (f *fakeLister) ListMergedPRPage(_ context.Context, branch string, page int) (PRPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prCalls++

	if err := f.branchErrs[branch]; err != nil {
		return PRPage{}, err
	}
	pages := f.pages[branch]
	if page > len(pages) {
		return PRPage{Remaining: 5000}, nil
	}
	return pages[page-1], nil
}

func (f *fakeLister) ListPRCommitsPage(_ context.Context, prNumber, page int) (CommitPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commitCalls++

	pages := f.commits[prNumber]
	if page > len(pages) {
		return CommitPage{Remaining: 5000}, nil
	}
	return pages[page-1], nil
}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	store, err := cache.NewStore(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return cache.New(store)
}

func newTestFetcher(t *testing.T, api PageLister, c *cache.Cache) *Fetcher {
	t.Helper()
	policy := retry.DefaultPolicy().WithSleep(func(context.Context, time.Duration) error { return nil })
	policy.MaxAttempts = 1
	f := NewFetcher(api, c, policy, FetcherConfig{Org: "org", Repo: "repo", PerPage: 2})
	f.sleep = func(context.Context, time.Duration) {}
	return f
}

func mergedPR(number int, branch string, mergedAt time.Time) PullRequest {
	return PullRequest{
		Number:   number,
		Title:    fmt.Sprintf("PR %d", number),
		Branch:   branch,
		MergedAt: mergedAt,
	}
}

func TestFetchPullRequestsAcrossBranches(t *testing.T) {
	api := &fakeLister{
		pages: map[string][]PRPage{
			"main": {{
				Items:     []PullRequest{mergedPR(1, "main", since.Add(time.Hour))},
				Remaining: 5000,
			}},
			"release-1.0": {{
				Items:     []PullRequest{mergedPR(2, "release-1.0", since.Add(2 * time.Hour))},
				Remaining: 5000,
			}},
		},
		commits: map[int][]CommitPage{
			1: {{Items: []Commit{{SHA: "aaa", Message: "Do the work", PRNumber: 1}}, Remaining: 5000}},
		},
	}
	fetcher := newTestFetcher(t, api, newTestCache(t))

	prs, err := fetcher.FetchPullRequests(context.Background(), []string{"main", "release-1.0"}, since)
	require.NoError(t, err)
	require.Len(t, prs, 2)

	byNumber := map[int]PullRequest{prs[0].Number: prs[0], prs[1].Number: prs[1]}
	require.Len(t, byNumber[1].Commits, 1)
	assert.Equal(t, "aaa", byNumber[1].Commits[0].SHA)
	assert.Empty(t, byNumber[2].Commits)
}

func TestFetchStopsAtDateBoundary(t *testing.T) {
	api := &fakeLister{
		pages: map[string][]PRPage{
			"main": {
				{
					Items: []PullRequest{
						mergedPR(5, "main", since.Add(2*time.Hour)),
						mergedPR(4, "main", since.Add(-time.Hour)),
					},
					NextPage:  2,
					Remaining: 5000,
				},
				{
					Items:     []PullRequest{mergedPR(3, "main", since.Add(-2 * time.Hour))},
					Remaining: 5000,
				},
			},
		},
	}
	fetcher := newTestFetcher(t, api, newTestCache(t))

	prs, err := fetcher.FetchPullRequests(context.Background(), []string{"main"}, since)
	require.NoError(t, err)

	// The page containing the boundary is the last one requested
	require.Len(t, prs, 1)
	assert.Equal(t, 5, prs[0].Number)
	assert.Equal(t, 1, api.prCalls)
}

func TestFetchStopsAtPageCap(t *testing.T) {
	fullPage := PRPage{
		Items:     []PullRequest{mergedPR(9, "main", since.Add(time.Hour))},
		NextPage:  2,
		Remaining: 5000,
	}
	api := &fakeLister{
		pages: map[string][]PRPage{
			"main": {fullPage, fullPage, fullPage, fullPage, fullPage},
		},
	}
	c := newTestCache(t)
	policy := retry.DefaultPolicy()
	policy.MaxAttempts = 1
	fetcher := NewFetcher(api, c, policy, FetcherConfig{Org: "org", Repo: "repo", MaxPagesPerBranch: 3})
	fetcher.sleep = func(context.Context, time.Duration) {}

	_, err := fetcher.FetchPullRequests(context.Background(), []string{"main"}, since)
	require.NoError(t, err)
	assert.Equal(t, 3, api.prCalls)
}

func TestFetchUsesRawPageCache(t *testing.T) {
	api := &fakeLister{
		pages: map[string][]PRPage{
			"main": {{
				Items:     []PullRequest{mergedPR(1, "main", since.Add(time.Hour))},
				Remaining: 5000,
			}},
		},
		commits: map[int][]CommitPage{
			1: {{Items: []Commit{{SHA: "aaa", Message: "Work", PRNumber: 1}}, Remaining: 5000}},
		},
	}
	c := newTestCache(t)
	fetcher := newTestFetcher(t, api, c)

	first, err := fetcher.FetchPullRequests(context.Background(), []string{"main"}, since)
	require.NoError(t, err)
	callsAfterFirst := api.prCalls + api.commitCalls

	second, err := fetcher.FetchPullRequests(context.Background(), []string{"main"}, since)
	require.NoError(t, err)

	assert.Equal(t, callsAfterFirst, api.prCalls+api.commitCalls, "second run should be cache-only")
	assert.Equal(t, first, second)
}

func TestFetchReturnsPartialResultsOnBranchFailure(t *testing.T) {
	api := &fakeLister{
		pages: map[string][]PRPage{
			"main": {{
				Items:     []PullRequest{mergedPR(1, "main", since.Add(time.Hour))},
				Remaining: 5000,
			}},
		},
		branchErrs: map[string]error{
			"broken": errors.New("boom"),
		},
	}
	fetcher := newTestFetcher(t, api, newTestCache(t))

	prs, err := fetcher.FetchPullRequests(context.Background(), []string{"main", "broken"}, since)
	require.Error(t, err)
	assert.Nil(t, prs)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, 1, fetchErr.CompletedBranches)
	require.Len(t, fetchErr.Partial, 1)
	assert.Equal(t, 1, fetchErr.Partial[0].Number)
	assert.Contains(t, err.Error(), "broken")
}

func TestFetchAuthorizationFailureIsWrapped(t *testing.T) {
	api := &fakeLister{
		branchErrs: map[string]error{
			"main": &retry.StatusError{Code: 401, Message: "bad credentials"},
		},
	}
	fetcher := newTestFetcher(t, api, newTestCache(t))

	_, err := fetcher.FetchPullRequests(context.Background(), []string{"main"}, since)
	require.Error(t, err)
	assert.ErrorIs(t, err, retry.ErrAuthorization)
}

func TestFetchCommitFailureDegradesOneEntry(t *testing.T) {
	api := &fakeLister{
		pages: map[string][]PRPage{
			"main": {{
				Items:     []PullRequest{mergedPR(1, "main", since.Add(time.Hour))},
				Remaining: 5000,
			}},
		},
	}
	// No commit pages scripted means empty commit lists, not failures; use
	// a wrapper that fails commit listing outright.
	failing := &commitFailLister{fakeLister: api}
	fetcher := newTestFetcher(t, failing, newTestCache(t))

	prs, err := fetcher.FetchPullRequests(context.Background(), []string{"main"}, since)
	require.NoError(t, err)
	require.Len(t, prs, 1)
	assert.Empty(t, prs[0].Commits)
}

type commitFailLister struct {
	*fakeLister
}

func (f *commitFailLister) ListPRCommitsPage(context.Context, int, int) (CommitPage, error) {
	return CommitPage{}, &retry.StatusError{Code: 404, Message: "not found"}
}

func TestFetchThrottlesBelowRateLimitFloor(t *testing.T) {
	api := &fakeLister{
		pages: map[string][]PRPage{
			"main": {{
				Items:     []PullRequest{mergedPR(1, "main", since.Add(time.Hour))},
				Remaining: 3,
			}},
		},
	}
	c := newTestCache(t)
	policy := retry.DefaultPolicy()
	policy.MaxAttempts = 1
	fetcher := NewFetcher(api, c, policy, FetcherConfig{Org: "org", Repo: "repo", RateLimitFloor: 10})

	throttled := 0
	fetcher.sleep = func(context.Context, time.Duration) { throttled++ }

	_, err := fetcher.FetchPullRequests(context.Background(), []string{"main"}, since)
	require.NoError(t, err)
	assert.Equal(t, 1, throttled)
}
