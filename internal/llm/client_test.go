package llm

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/alan/changelog-gen/internal/assembler"
	"github.com/alan/changelog-gen/internal/cache"
	"github.com/alan/changelog-gen/internal/prompt"
	"github.com/alan/changelog-gen/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validMarkdown = `## Added
- Add retry support [#1]

## Changed
- Rework pagination logic [#2]

## Fixed
- Fix cache expiry bug [#3]
`

const invalidMarkdown = `## Added
- Add retry support [#1]
`

// fakeCaller returns scripted responses in order and records requests
type fakeCaller struct {
	responses []string
	errs      []error
	requests  []ChatRequest
}

func (f *fakeCaller) Complete(_ context.Context, req ChatRequest) (string, error) {
	f.requests = append(f.requests, req)
	i := len(f.requests) - 1
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	var resp string
	if i < len(f.responses) {
		resp = f.responses[i]
	}
	return resp, err
}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	store, err := cache.NewStore(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return cache.New(store)
}

func testPayload() prompt.Payload {
	record := assembler.AggregationRecord{Entries: []assembler.Entry{
		{Number: 1, Title: "Add retry support", TokenEstimate: 10},
		{Number: 2, Title: "Rework pagination", TokenEstimate: 10},
		{Number: 3, Title: "Fix cache expiry bug", TokenEstimate: 10},
	}, TotalTokens: 30}
	builder := prompt.NewBuilder("acme/widgets", "2025-04-01 to 2025-05-01")
	payload, _ := builder.Build(record, 12000)
	return payload
}

func quickPolicy() retry.Policy {
	policy := retry.DefaultPolicy()
	policy.MaxAttempts = 1
	return policy
}

func TestGenerateAcceptsValidResponse(t *testing.T) {
	caller := &fakeCaller{responses: []string{validMarkdown}}
	client := NewClient(caller, newTestCache(t), quickPolicy(), 0.2, 1024)

	draft, attempt := client.Generate(context.Background(), testPayload(), prompt.StrategySingleStep)

	assert.Equal(t, StateAccepted, attempt.State)
	assert.True(t, attempt.Succeeded)
	assert.False(t, attempt.FallbackUsed)
	assert.False(t, attempt.Repaired)
	assert.Len(t, caller.requests, 1)

	assert.Equal(t, "Changelog for acme/widgets", draft.Title)
	assert.NoError(t, Validate(draft))
}

func TestGenerateRepairsInvalidResponse(t *testing.T) {
	caller := &fakeCaller{responses: []string{invalidMarkdown, validMarkdown}}
	client := NewClient(caller, newTestCache(t), quickPolicy(), 0.2, 1024)

	draft, attempt := client.Generate(context.Background(), testPayload(), prompt.StrategySingleStep)

	assert.Equal(t, StateAccepted, attempt.State)
	assert.True(t, attempt.Repaired)
	assert.False(t, attempt.FallbackUsed)
	require.Len(t, caller.requests, 2)

	// The repair prompt names the defects and carries the previous output
	repairReq := caller.requests[1]
	assert.Contains(t, repairReq.User, "missing required section")
	assert.Contains(t, repairReq.User, invalidMarkdown)
	assert.NoError(t, Validate(draft))
}

func TestGenerateFallsBackWhenRepairStillInvalid(t *testing.T) {
	caller := &fakeCaller{responses: []string{invalidMarkdown, invalidMarkdown}}
	client := NewClient(caller, newTestCache(t), quickPolicy(), 0.2, 1024)

	draft, attempt := client.Generate(context.Background(), testPayload(), prompt.StrategySingleStep)

	assert.Equal(t, StateFallbackUsed, attempt.State)
	assert.True(t, attempt.FallbackUsed)
	assert.True(t, attempt.Repaired)
	assert.NotEmpty(t, attempt.Error)
	assert.Len(t, caller.requests, 2)

	assert.True(t, draft.Fallback)
	assert.NotNil(t, draft.Section("Added"))
}

func TestGenerateFallsBackOnCallError(t *testing.T) {
	caller := &fakeCaller{errs: []error{&retry.StatusError{Code: 400, Message: "bad request"}}}
	client := NewClient(caller, newTestCache(t), quickPolicy(), 0.2, 1024)

	draft, attempt := client.Generate(context.Background(), testPayload(), prompt.StrategySingleStep)

	assert.Equal(t, StateFallbackUsed, attempt.State)
	assert.True(t, attempt.FallbackUsed)
	assert.Len(t, caller.requests, 1)
	assert.True(t, draft.Fallback)
}

func TestGenerateServesFromCache(t *testing.T) {
	c := newTestCache(t)
	payload := testPayload()

	caller := &fakeCaller{responses: []string{validMarkdown}}
	client := NewClient(caller, c, quickPolicy(), 0.2, 1024)

	first, attempt := client.Generate(context.Background(), payload, prompt.StrategySingleStep)
	require.True(t, attempt.Succeeded)
	require.False(t, attempt.CacheHit)

	// A second client over the same cache never reaches its caller
	secondCaller := &fakeCaller{errs: []error{errors.New("should not be called")}}
	secondClient := NewClient(secondCaller, c, quickPolicy(), 0.2, 1024)

	second, attempt := secondClient.Generate(context.Background(), payload, prompt.StrategySingleStep)
	assert.True(t, attempt.CacheHit)
	assert.True(t, attempt.Succeeded)
	assert.Empty(t, secondCaller.requests)
	assert.Equal(t, first, second)
}

func TestGenerateFallbackIsNotCached(t *testing.T) {
	c := newTestCache(t)
	payload := testPayload()

	caller := &fakeCaller{errs: []error{errors.New("down"), errors.New("down")}}
	client := NewClient(caller, c, quickPolicy(), 0.2, 1024)

	_, attempt := client.Generate(context.Background(), payload, prompt.StrategySingleStep)
	require.True(t, attempt.FallbackUsed)

	// Recovery on the next run must not be masked by a cached fallback
	recovered := &fakeCaller{responses: []string{validMarkdown}}
	recoveredClient := NewClient(recovered, c, quickPolicy(), 0.2, 1024)

	draft, attempt := recoveredClient.Generate(context.Background(), payload, prompt.StrategySingleStep)
	assert.False(t, attempt.CacheHit)
	assert.True(t, attempt.Succeeded)
	assert.False(t, draft.Fallback)
}

func TestGenerateTwoStepMakesTwoCalls(t *testing.T) {
	categorized := "[#1] Added: Add retry support\n[#2] Changed: Rework pagination\n[#3] Fixed: Fix cache expiry"
	caller := &fakeCaller{responses: []string{categorized, validMarkdown}}
	client := NewClient(caller, newTestCache(t), quickPolicy(), 0.2, 1024)

	_, attempt := client.Generate(context.Background(), testPayload(), prompt.StrategyTwoStep)

	require.Len(t, caller.requests, 2)
	assert.Equal(t, categorizeSystemPrompt, caller.requests[0].System)
	assert.Equal(t, prompt.SystemPrompt, caller.requests[1].System)
	assert.Contains(t, caller.requests[1].User, categorized)
	assert.True(t, attempt.Succeeded)
}

func TestGenerateStrategiesCacheSeparately(t *testing.T) {
	c := newTestCache(t)
	payload := testPayload()

	caller := &fakeCaller{responses: []string{validMarkdown}}
	client := NewClient(caller, c, quickPolicy(), 0.2, 1024)
	_, attempt := client.Generate(context.Background(), payload, prompt.StrategySingleStep)
	require.True(t, attempt.Succeeded)

	categorized := "[#1] Added: Add retry support"
	twoStepCaller := &fakeCaller{responses: []string{categorized, validMarkdown}}
	twoStepClient := NewClient(twoStepCaller, c, quickPolicy(), 0.2, 1024)

	_, attempt = twoStepClient.Generate(context.Background(), payload, prompt.StrategyTwoStep)
	assert.False(t, attempt.CacheHit)
	assert.Len(t, twoStepCaller.requests, 2)
}
