package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alan/changelog-gen/internal/cache"
	"github.com/alan/changelog-gen/internal/retry"
)

// PageLister is the narrow API surface the fetcher needs, implemented by
// Client and by test fakes.
type PageLister interface {
	ListMergedPRPage(ctx context.Context, branch string, page int) (PRPage, error)
	ListPRCommitsPage(ctx context.Context, prNumber, page int) (CommitPage, error)
}

// FetchError reports a failed fetch along with whatever completed before
// the failure, so the caller can decide whether partial data is usable.
type FetchError struct {
	Err               error
	Partial           []PullRequest
	CompletedBranches int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed after %d completed branches: %v", e.CompletedBranches, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Fetcher retrieves merged PRs with nested commits across branches,
// concurrently with a bounded worker pool, consulting the raw-API cache
// before every page request.
type Fetcher struct {
	api    PageLister
	cache  *cache.Cache
	policy retry.Policy

	org, repo         string
	perPage           int
	maxPagesPerBranch int
	concurrency       int
	rateLimitFloor    int
	throttleDelay     time.Duration

	// sleep is injectable for tests
	sleep func(ctx context.Context, d time.Duration)
}

// FetcherConfig carries the tuning knobs for a Fetcher
type FetcherConfig struct {
	Org               string
	Repo              string
	PerPage           int
	MaxPagesPerBranch int
	Concurrency       int
	RateLimitFloor    int
}

// NewFetcher creates a fetcher over the given page API and cache
func NewFetcher(api PageLister, c *cache.Cache, policy retry.Policy, cfg FetcherConfig) *Fetcher {
	if cfg.PerPage <= 0 {
		cfg.PerPage = 100
	}
	if cfg.MaxPagesPerBranch <= 0 {
		cfg.MaxPagesPerBranch = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.RateLimitFloor <= 0 {
		cfg.RateLimitFloor = 10
	}

	return &Fetcher{
		api:               api,
		cache:             c,
		policy:            policy,
		org:               cfg.Org,
		repo:              cfg.Repo,
		perPage:           cfg.PerPage,
		maxPagesPerBranch: cfg.MaxPagesPerBranch,
		concurrency:       cfg.Concurrency,
		rateLimitFloor:    cfg.RateLimitFloor,
		throttleDelay:     2 * time.Second,
		sleep: func(ctx context.Context, d time.Duration) {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
			case <-timer.C:
			}
		},
	}
}

// FetchPullRequests retrieves merged PRs for every branch since the given
// time. Branches run in parallel; pages within a branch stay sequential so
// early termination on the date boundary remains correct. On failure a
// *FetchError carries any partial results.
func (f *Fetcher) FetchPullRequests(ctx context.Context, branches []string, since time.Time) ([]PullRequest, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan string)
	var (
		mu        sync.Mutex
		all       []PullRequest
		completed int
		firstErr  error
	)

	var wg sync.WaitGroup
	workers := f.concurrency
	if workers > len(branches) {
		workers = len(branches)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for branch := range jobs {
				prs, err := f.fetchBranch(ctx, branch, since)
				mu.Lock()
				if err != nil {
					if firstErr == nil {
						firstErr = fmt.Errorf("branch %s: %w", branch, err)
					}
					mu.Unlock()
					// Authorization failures poison every branch; stop early
					if errors.Is(err, retry.ErrAuthorization) {
						cancel()
					}
					continue
				}
				all = append(all, prs...)
				completed++
				mu.Unlock()
			}
		}()
	}

	for _, branch := range branches {
		select {
		case jobs <- branch:
		case <-ctx.Done():
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr == nil && ctx.Err() != nil {
		firstErr = ctx.Err()
	}
	if firstErr != nil {
		return nil, &FetchError{Err: firstErr, Partial: all, CompletedBranches: completed}
	}
	return all, nil
}

// fetchBranch pages through merged PRs on one branch until an empty page,
// the page cap, or the first page containing an item older than since.
func (f *Fetcher) fetchBranch(ctx context.Context, branch string, since time.Time) ([]PullRequest, error) {
	var prs []PullRequest

	for page := 1; page <= f.maxPagesPerBranch; page++ {
		prPage, err := f.getPRPage(ctx, branch, since, page)
		if err != nil {
			return nil, err
		}

		crossedBoundary := false
		for _, pr := range prPage.Items {
			if pr.MergedAt.Before(since) {
				crossedBoundary = true
				continue
			}
			prs = append(prs, pr)
		}

		if crossedBoundary {
			// The listing is reverse-chronological; later pages cannot
			// contain anything newer than this boundary.
			slog.Debug("Early termination at date boundary", "branch", branch, "page", page)
			break
		}
		if len(prPage.Items) == 0 || prPage.NextPage == 0 {
			break
		}
	}

	for i := range prs {
		commits, err := f.fetchPRCommits(ctx, prs[i].Number)
		if err != nil {
			// A missing commit list degrades one entry, not the run
			slog.Warn("Failed to fetch commits", "pr", prs[i].Number, "error", err)
			continue
		}
		prs[i].Commits = commits
	}

	return prs, nil
}

func (f *Fetcher) getPRPage(ctx context.Context, branch string, since time.Time, page int) (PRPage, error) {
	key := cache.PRPageKey(f.org, f.repo, branch, since, page, f.perPage)
	if data, ok := f.cache.Get(cache.ClassRawAPI, key); ok {
		var cached PRPage
		if err := json.Unmarshal(data, &cached); err == nil {
			cached.Remaining = -1
			return cached, nil
		}
		slog.Warn("Discarding undecodable cache entry", "class", cache.ClassRawAPI, "key", key)
	}

	var result PRPage
	err := f.policy.Do(ctx, "list pull requests", func() error {
		var err error
		result, err = f.api.ListMergedPRPage(ctx, branch, page)
		return err
	})
	if err != nil {
		return PRPage{}, err
	}

	f.throttle(ctx, result.Remaining)

	if data, err := json.Marshal(result); err == nil {
		if err := f.cache.Put(cache.ClassRawAPI, key, data, 0); err != nil {
			slog.Warn("Cache write failed", "class", cache.ClassRawAPI, "error", err)
		}
	}
	return result, nil
}

func (f *Fetcher) fetchPRCommits(ctx context.Context, prNumber int) ([]Commit, error) {
	var commits []Commit
	for page := 1; ; page++ {
		commitPage, err := f.getCommitsPage(ctx, prNumber, page)
		if err != nil {
			return nil, err
		}
		commits = append(commits, commitPage.Items...)
		if commitPage.NextPage == 0 {
			break
		}
	}
	return commits, nil
}

func (f *Fetcher) getCommitsPage(ctx context.Context, prNumber, page int) (CommitPage, error) {
	key := cache.CommitsPageKey(f.org, f.repo, prNumber, page)
	if data, ok := f.cache.Get(cache.ClassRawAPI, key); ok {
		var cached CommitPage
		if err := json.Unmarshal(data, &cached); err == nil {
			cached.Remaining = -1
			return cached, nil
		}
		slog.Warn("Discarding undecodable cache entry", "class", cache.ClassRawAPI, "key", key)
	}

	var result CommitPage
	err := f.policy.Do(ctx, "list PR commits", func() error {
		var err error
		result, err = f.api.ListPRCommitsPage(ctx, prNumber, page)
		return err
	})
	if err != nil {
		return CommitPage{}, err
	}

	f.throttle(ctx, result.Remaining)

	if data, err := json.Marshal(result); err == nil {
		if err := f.cache.Put(cache.ClassRawAPI, key, data, 0); err != nil {
			slog.Warn("Cache write failed", "class", cache.ClassRawAPI, "error", err)
		}
	}
	return result, nil
}

// throttle slows down only when the remaining quota reported by the
// upstream falls below the low-water mark; normal traffic is not delayed.
func (f *Fetcher) throttle(ctx context.Context, remaining int) {
	if remaining < 0 || remaining >= f.rateLimitFloor {
		return
	}
	slog.Warn("GitHub rate limit low, throttling", "remaining", remaining, "floor", f.rateLimitFloor)
	f.sleep(ctx, f.throttleDelay)
}
