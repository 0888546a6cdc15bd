// Package orchestrator sequences fetch, assembly, prompt building and
// generation into a single run with per-phase progress and metadata.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alan/changelog-gen/internal/assembler"
	"github.com/alan/changelog-gen/internal/cache"
	"github.com/alan/changelog-gen/internal/changelog"
	"github.com/alan/changelog-gen/internal/github"
	"github.com/alan/changelog-gen/internal/llm"
	"github.com/alan/changelog-gen/internal/prompt"
	"github.com/alan/changelog-gen/internal/retry"
	"github.com/google/uuid"
)

// Phase identifies one stage of a run
type Phase string

const (
	// PhaseFetch retrieves PRs and commits from the upstream API
	PhaseFetch Phase = "fetch"
	// PhaseAssemble deduplicates and normalizes the fetched data
	PhaseAssemble Phase = "assemble"
	// PhaseGenerate produces the changelog document
	PhaseGenerate Phase = "generate"
)

// ProgressFunc receives coarse percentage markers per phase
type ProgressFunc func(phase Phase, percent int)

// Fetcher is the fetch-phase dependency
type Fetcher interface {
	FetchPullRequests(ctx context.Context, branches []string, since time.Time) ([]github.PullRequest, error)
}

// Generator is the generation-phase dependency
type Generator interface {
	Generate(ctx context.Context, payload prompt.Payload, strategy prompt.Strategy) (changelog.Draft, llm.Attempt)
}

// Request describes one changelog run
type Request struct {
	Org      string
	Repo     string
	Branches []string
	Since    time.Time
	Until    time.Time

	TokenBudget      int
	TwoStepThreshold int
	WarnFraction     float64
	Timeout          time.Duration
}

// RunMetadata is returned alongside the draft for external observability
type RunMetadata struct {
	RunID            string          `json:"run_id"`
	Repository       string          `json:"repository"`
	Branches         []string        `json:"branches"`
	Period           string          `json:"period"`
	TotalFetched     int             `json:"total_fetched"`
	UniquePRs        int             `json:"unique_prs"`
	TruncatedEntries int             `json:"truncated_entries"`
	Strategy         prompt.Strategy `json:"strategy"`
	FallbackUsed     bool            `json:"fallback_used"`
	CacheHit         bool            `json:"cache_hit"`
	PartialFetch     bool            `json:"partial_fetch"`
	FetchDuration    time.Duration   `json:"fetch_duration_ns"`
	GenerateDuration time.Duration   `json:"generate_duration_ns"`
	CacheStats       cache.Stats     `json:"cache_stats"`
	Warnings         []string        `json:"warnings,omitempty"`
}

// FetchFatalError marks a run aborted in the fetch phase
type FetchFatalError struct {
	Err error
}

func (e *FetchFatalError) Error() string {
	return fmt.Sprintf("fetch phase failed: %v", e.Err)
}

func (e *FetchFatalError) Unwrap() error {
	return e.Err
}

// Orchestrator owns the cache lifecycle for a run and wires the phases
type Orchestrator struct {
	fetcher   Fetcher
	generator Generator
	cache     *cache.Cache
	progress  ProgressFunc

	// minCompletedBranches gates the degraded-success policy: with fewer
	// fully fetched branches than this, a fetch failure aborts the run.
	minCompletedBranches int
}

// New creates an orchestrator over the given phase dependencies
func New(fetcher Fetcher, generator Generator, c *cache.Cache, progress ProgressFunc) *Orchestrator {
	if progress == nil {
		progress = func(Phase, int) {}
	}
	return &Orchestrator{
		fetcher:              fetcher,
		generator:            generator,
		cache:                c,
		progress:             progress,
		minCompletedBranches: 1,
	}
}

// Run executes fetch, assemble and generate, returning a well-formed draft
// and run metadata. Fetch-phase fatal errors abort; generation failures
// degrade to fallback content inside the LLM client.
func (o *Orchestrator) Run(ctx context.Context, req Request) (changelog.Draft, RunMetadata, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	period := fmt.Sprintf("%s to %s",
		req.Since.UTC().Format("2006-01-02"), req.Until.UTC().Format("2006-01-02"))
	meta := RunMetadata{
		RunID:      uuid.NewString(),
		Repository: fmt.Sprintf("%s/%s", req.Org, req.Repo),
		Branches:   req.Branches,
		Period:     period,
	}

	slog.Info("Starting changelog run", "run_id", meta.RunID, "repository", meta.Repository, "period", period)

	record, ok := o.cachedRecord(req)
	if !ok {
		var err error
		record, err = o.fetchAndAssemble(ctx, req, &meta)
		if err != nil {
			meta.CacheStats = o.cache.Stats()
			return changelog.Draft{}, meta, err
		}
		o.storeRecord(req, record)
	} else {
		slog.Info("Processed-record cache hit, skipping fetch", "run_id", meta.RunID)
		o.progress(PhaseFetch, 100)
		o.progress(PhaseAssemble, 100)
		meta.UniquePRs = len(record.Entries)
	}

	o.progress(PhaseGenerate, 0)
	generateStart := time.Now()

	builder := prompt.NewBuilder(meta.Repository, period)
	if req.TwoStepThreshold > 0 {
		builder.TwoStepThreshold = req.TwoStepThreshold
	}
	if req.WarnFraction > 0 {
		builder.WarnFraction = req.WarnFraction
	}
	budget := req.TokenBudget
	if budget <= 0 {
		budget = 12000
	}

	payload, strategy := builder.Build(record, budget)
	meta.TruncatedEntries = payload.TruncatedCount
	meta.Strategy = strategy
	o.progress(PhaseGenerate, 25)

	draft, attempt := o.generator.Generate(ctx, payload, strategy)
	meta.GenerateDuration = time.Since(generateStart)
	meta.FallbackUsed = attempt.FallbackUsed
	meta.CacheHit = attempt.CacheHit
	if attempt.Error != "" {
		meta.Warnings = append(meta.Warnings, "generation degraded: "+attempt.Error)
	}
	o.progress(PhaseGenerate, 100)

	meta.CacheStats = o.cache.Stats()
	slog.Info("Changelog run complete", "run_id", meta.RunID,
		"strategy", strategy, "fallback", attempt.FallbackUsed, "unique_prs", meta.UniquePRs)
	return draft, meta, nil
}

// fetchAndAssemble runs the first two phases, applying the partial-data
// policy: prefer degraded success over total failure once at least the
// minimum number of branches completed.
func (o *Orchestrator) fetchAndAssemble(ctx context.Context, req Request, meta *RunMetadata) (assembler.AggregationRecord, error) {
	o.progress(PhaseFetch, 0)
	fetchStart := time.Now()

	prs, err := o.fetcher.FetchPullRequests(ctx, req.Branches, req.Since)
	meta.FetchDuration = time.Since(fetchStart)
	if err != nil {
		var fetchErr *github.FetchError
		usable := errors.As(err, &fetchErr) &&
			!errors.Is(err, retry.ErrAuthorization) &&
			fetchErr.CompletedBranches >= o.minCompletedBranches &&
			len(fetchErr.Partial) > 0
		if !usable {
			return assembler.AggregationRecord{}, &FetchFatalError{Err: err}
		}
		slog.Warn("Proceeding with partial fetch data",
			"completed_branches", fetchErr.CompletedBranches, "prs", len(fetchErr.Partial), "error", err)
		meta.PartialFetch = true
		meta.Warnings = append(meta.Warnings, fmt.Sprintf("partial fetch: %v", err))
		prs = fetchErr.Partial
	}
	o.progress(PhaseFetch, 100)

	// Keep only PRs merged inside the requested window
	if !req.Until.IsZero() {
		filtered := prs[:0]
		for _, pr := range prs {
			if !pr.MergedAt.After(req.Until) {
				filtered = append(filtered, pr)
			}
		}
		prs = filtered
	}
	meta.TotalFetched = len(prs)

	o.progress(PhaseAssemble, 0)
	record := assembler.Assemble(prs)
	meta.UniquePRs = len(record.Entries)
	o.progress(PhaseAssemble, 100)

	return record, nil
}

func (o *Orchestrator) cachedRecord(req Request) (assembler.AggregationRecord, bool) {
	key := cache.RecordKey(req.Org, req.Repo, req.Branches, req.Since, req.Until)
	data, ok := o.cache.Get(cache.ClassProcessed, key)
	if !ok {
		return assembler.AggregationRecord{}, false
	}
	var record assembler.AggregationRecord
	if err := json.Unmarshal(data, &record); err != nil {
		slog.Warn("Discarding undecodable processed-record cache entry", "error", err)
		return assembler.AggregationRecord{}, false
	}
	return record, true
}

func (o *Orchestrator) storeRecord(req Request, record assembler.AggregationRecord) {
	key := cache.RecordKey(req.Org, req.Repo, req.Branches, req.Since, req.Until)
	data, err := json.Marshal(record)
	if err != nil {
		return
	}
	if err := o.cache.Put(cache.ClassProcessed, key, data, 0); err != nil {
		slog.Warn("Failed to cache processed record", "error", err)
	}
}
