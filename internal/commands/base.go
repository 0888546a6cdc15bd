// Package commands provides common initialization and output helpers
// shared by all changelog-gen commands.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alan/changelog-gen/cmd"
	"github.com/alan/changelog-gen/internal/cache"
	"github.com/alan/changelog-gen/internal/github"
	"github.com/alan/changelog-gen/internal/llm"
	"github.com/alan/changelog-gen/internal/orchestrator"
	"github.com/alan/changelog-gen/internal/retry"
)

// BaseCommand provides common fields and initialization for all commands
type BaseCommand struct {
	ConfigFile *string
	LoadConfig func(string) (*cmd.Config, error)
	SaveConfig func(string, *cmd.Config) error

	Config       *cmd.Config
	Context      context.Context
	Cache        *cache.Cache
	GitHubClient *github.Client
	Fetcher      *github.Fetcher
	LLMClient    *llm.Client
	Orchestrator *orchestrator.Orchestrator

	progress orchestrator.ProgressFunc
}

// WithProgress sets the progress listener used by the orchestrator
func (bc *BaseCommand) WithProgress(progress orchestrator.ProgressFunc) {
	bc.progress = progress
}

// Init loads configuration and wires the full pipeline. The cache is
// always opened; the GitHub and LLM clients depend on their tokens.
func (bc *BaseCommand) Init() error {
	config, err := bc.LoadConfig(*bc.ConfigFile)
	if err != nil {
		return err
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	bc.Config = config
	bc.Context = context.Background()

	if err := bc.InitCache(); err != nil {
		return err
	}

	token, err := getGitHubToken()
	if err != nil {
		return err
	}

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = config.Fetch.MaxRetries

	bc.GitHubClient = github.NewClient(bc.Context, token, config.Org, config.Repo, config.Fetch.PerPage)
	bc.Fetcher = github.NewFetcher(bc.GitHubClient, bc.Cache, policy, github.FetcherConfig{
		Org:               config.Org,
		Repo:              config.Repo,
		PerPage:           config.Fetch.PerPage,
		MaxPagesPerBranch: config.Fetch.MaxPagesPerBranch,
		Concurrency:       config.Fetch.Concurrency,
		RateLimitFloor:    config.Fetch.RateLimitFloor,
	})

	var caller llm.Caller
	caller, err = llm.NewOpenAIClient(os.Getenv("OPENAI_API_KEY"), config.LLM.Model,
		time.Duration(config.LLM.TimeoutSeconds)*time.Second)
	if err != nil {
		slog.Warn("Generation unavailable, drafts will use fallback content", "error", err)
		caller = llm.Unavailable(err)
	}
	bc.LLMClient = llm.NewClient(caller, bc.Cache, policy, config.LLM.Temperature, config.LLM.MaxOutputTokens)

	bc.Orchestrator = orchestrator.New(bc.Fetcher, bc.LLMClient, bc.Cache, bc.progress)
	return nil
}

// InitCache opens only the cache, for commands that need nothing else
func (bc *BaseCommand) InitCache() error {
	if bc.Config == nil {
		config, err := bc.LoadConfig(*bc.ConfigFile)
		if err != nil {
			return err
		}
		bc.Config = config
	}

	store, err := cache.NewStore(bc.Config.Cache.Path)
	if err != nil {
		return err
	}
	bc.Cache = cache.New(store, cache.WithTTLs(cache.TTLs{
		cache.ClassRawAPI:    bc.Config.Cache.RawTTL(),
		cache.ClassProcessed: bc.Config.Cache.ProcessedTTL(),
		cache.ClassGenerated: bc.Config.Cache.GeneratedTTL(),
	}))
	return nil
}

// Close releases the cache store
func (bc *BaseCommand) Close() {
	if bc.Cache != nil {
		_ = bc.Cache.Close()
	}
}

// getGitHubToken retrieves and validates the GitHub token
func getGitHubToken() (string, error) {
	token := os.Getenv("GITHUB_TOKEN")
	if token == "" {
		return "", fmt.Errorf("GITHUB_TOKEN environment variable is required")
	}
	return token, nil
}
