// Package llm issues generation calls, validates their output, and falls
// back to a deterministic document when generation cannot produce a valid
// draft. The caller always receives a well-formed changelog.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alan/changelog-gen/internal/assembler"
	"github.com/alan/changelog-gen/internal/cache"
	"github.com/alan/changelog-gen/internal/changelog"
	"github.com/alan/changelog-gen/internal/prompt"
	"github.com/alan/changelog-gen/internal/retry"
)

const categorizeSystemPrompt = `You categorize pull requests for a changelog. For each PR in the input, output exactly one line:
[#<number>] <Section>: <one-sentence user-facing summary>
where <Section> is one of Added, Changed, Deprecated, Removed, Fixed, Security. Output nothing else.`

// Client orchestrates generation: cache lookup, one or two model calls,
// validation, one repair attempt, then fallback.
type Client struct {
	caller      Caller
	cache       *cache.Cache
	policy      retry.Policy
	temperature float32
	maxTokens   int
}

// NewClient creates a generation client over the given caller and cache
func NewClient(caller Caller, c *cache.Cache, policy retry.Policy, temperature float32, maxTokens int) *Client {
	if temperature <= 0 {
		// Low temperature biases toward consistent structure
		temperature = 0.2
	}
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &Client{
		caller:      caller,
		cache:       c,
		policy:      policy,
		temperature: temperature,
		maxTokens:   maxTokens,
	}
}

// Generate produces a validated changelog draft for the payload. It never
// returns an empty or error-shaped document: every failure path ends in
// the deterministic fallback, flagged on the returned attempt.
func (c *Client) Generate(ctx context.Context, payload prompt.Payload, strategy prompt.Strategy) (changelog.Draft, Attempt) {
	attempt := newAttempt(strategy)
	attempt.TokensIn = payload.TotalTokens

	fingerprint := payload.Fingerprint(strategy)
	if data, ok := c.cache.Get(cache.ClassGenerated, fingerprint); ok {
		var cached changelog.Draft
		if err := json.Unmarshal(data, &cached); err == nil {
			attempt.CacheHit = true
			attempt.State = StateAccepted
			attempt.Succeeded = true
			slog.Debug("Generated-content cache hit", "strategy", strategy)
			return cached, *attempt
		}
		slog.Warn("Discarding undecodable generated-content cache entry")
	}

	raw, err := c.callStrategy(ctx, payload, strategy)
	if err != nil {
		slog.Warn("Generation call failed, using fallback", "strategy", strategy, "error", err)
		return c.fallback(attempt, payload, err)
	}
	attempt.TokensOut = assembler.EstimateTokens(raw)

	mustTransition(attempt, StateValidating)
	draft := parseDraft(raw, payload)
	validationErr := Validate(draft)
	if validationErr == nil {
		return c.accept(attempt, fingerprint, draft)
	}

	// One repair re-prompt, citing the detected defects
	mustTransition(attempt, StateRepairing)
	slog.Info("Draft failed validation, attempting repair", "defects", validationErr)
	raw, err = c.repair(ctx, payload, raw, validationErr)
	if err != nil {
		slog.Warn("Repair call failed, using fallback", "error", err)
		return c.fallback(attempt, payload, err)
	}
	attempt.TokensOut += assembler.EstimateTokens(raw)

	mustTransition(attempt, StateValidating)
	draft = parseDraft(raw, payload)
	if validationErr = Validate(draft); validationErr == nil {
		return c.accept(attempt, fingerprint, draft)
	}

	slog.Warn("Repaired draft still invalid, using fallback", "defects", validationErr)
	return c.fallback(attempt, payload, validationErr)
}

// callStrategy issues the generation call(s) for the chosen strategy
func (c *Client) callStrategy(ctx context.Context, payload prompt.Payload, strategy prompt.Strategy) (string, error) {
	if strategy == prompt.StrategyTwoStep {
		return c.twoStep(ctx, payload)
	}
	return c.complete(ctx, payload.System, payload.User)
}

// twoStep separates categorization from formatting: one call summarizes
// and categorizes each entry, a second assembles the final document from
// those lines.
func (c *Client) twoStep(ctx context.Context, payload prompt.Payload) (string, error) {
	categorized, err := c.complete(ctx, categorizeSystemPrompt, payload.User)
	if err != nil {
		return "", fmt.Errorf("categorize step failed: %w", err)
	}

	assembleUser := fmt.Sprintf(
		"Assemble the final changelog for %s from these categorized entries. Keep every entry, grouped under its section.\n\n%s",
		payload.Repository, categorized,
	)
	final, err := c.complete(ctx, payload.System, assembleUser)
	if err != nil {
		return "", fmt.Errorf("assemble step failed: %w", err)
	}
	return final, nil
}

// repair re-prompts once with the defective output and the defect list
func (c *Client) repair(ctx context.Context, payload prompt.Payload, previous string, validationErr error) (string, error) {
	user := fmt.Sprintf(
		"Your previous changelog had these problems: %v\n\nFix them and output the corrected changelog only.\n\nPrevious output:\n%s\n\nOriginal input:\n%s",
		validationErr, previous, payload.User,
	)
	return c.complete(ctx, payload.System, user)
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	var result string
	err := c.policy.Do(ctx, "chat completion", func() error {
		var err error
		result, err = c.caller.Complete(ctx, ChatRequest{
			System:      system,
			User:        user,
			Temperature: c.temperature,
			MaxTokens:   c.maxTokens,
		})
		return err
	})
	return result, err
}

func (c *Client) accept(attempt *Attempt, fingerprint string, draft changelog.Draft) (changelog.Draft, Attempt) {
	mustTransition(attempt, StateAccepted)
	if data, err := json.Marshal(draft); err == nil {
		if err := c.cache.Put(cache.ClassGenerated, fingerprint, data, 0); err != nil {
			slog.Warn("Failed to cache generated content", "error", err)
		}
	}
	return draft, *attempt
}

func (c *Client) fallback(attempt *Attempt, payload prompt.Payload, cause error) (changelog.Draft, Attempt) {
	mustTransition(attempt, StateFallbackUsed)
	if cause != nil {
		attempt.Error = cause.Error()
	}
	return Fallback(payload.Entries, payload.Repository, payload.Period), *attempt
}

func parseDraft(raw string, payload prompt.Payload) changelog.Draft {
	draft := changelog.ParseMarkdown(raw)
	draft.Period = payload.Period
	if payload.Repository != "" {
		draft.Title = fmt.Sprintf("Changelog for %s", payload.Repository)
	}
	return draft
}

// mustTransition applies a transition the call sites only use legally; a
// failure here is a programming error, logged rather than propagated.
func mustTransition(attempt *Attempt, next State) {
	if err := attempt.transition(next); err != nil {
		slog.Error("Attempt state machine violation", "error", err)
		attempt.State = next
	}
}
