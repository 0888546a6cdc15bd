// Package cmd defines core data structures for changelog-gen configuration.
package cmd

import (
	"fmt"
	"time"
)

// Config represents the structure of changelog.yaml
type Config struct {
	Org      string   `yaml:"org"`
	Repo     string   `yaml:"repo"`
	Branches []string `yaml:"branches"`
	DaysBack int      `yaml:"days_back,omitempty"`

	Fetch FetchConfig `yaml:"fetch,omitempty"`
	LLM   LLMConfig   `yaml:"llm,omitempty"`
	Cache CacheConfig `yaml:"cache,omitempty"`
}

// FetchConfig controls GitHub pagination, concurrency and rate limiting
type FetchConfig struct {
	MaxPagesPerBranch int `yaml:"max_pages_per_branch,omitempty"`
	Concurrency       int `yaml:"concurrency,omitempty"`
	PerPage           int `yaml:"per_page,omitempty"`
	RateLimitFloor    int `yaml:"rate_limit_floor,omitempty"`
	MaxRetries        int `yaml:"max_retries,omitempty"`
}

// LLMConfig controls the generation call and prompt budgeting
type LLMConfig struct {
	Model              string  `yaml:"model,omitempty"`
	Temperature        float32 `yaml:"temperature,omitempty"`
	MaxOutputTokens    int     `yaml:"max_output_tokens,omitempty"`
	TokenBudget        int     `yaml:"token_budget,omitempty"`
	TwoStepThreshold   int     `yaml:"two_step_threshold,omitempty"`
	TruncationWarnFrac float64 `yaml:"truncation_warn_fraction,omitempty"`
	TimeoutSeconds     int     `yaml:"timeout_seconds,omitempty"`
}

// CacheConfig controls the durable cache location and per-class TTLs
type CacheConfig struct {
	Path                string `yaml:"path,omitempty"`
	RawTTLMinutes       int    `yaml:"raw_ttl_minutes,omitempty"`
	ProcessedTTLMinutes int    `yaml:"processed_ttl_minutes,omitempty"`
	GeneratedTTLMinutes int    `yaml:"generated_ttl_minutes,omitempty"`
}

// Defaults chosen for slow-moving upstream PR data: raw pages are the
// cheapest to refetch, generated content the most expensive to recompute.
const (
	DefaultDaysBack          = 30
	DefaultMaxPagesPerBranch = 10
	DefaultConcurrency       = 5
	DefaultPerPage           = 100
	DefaultRateLimitFloor    = 10
	DefaultMaxRetries        = 3

	DefaultModel            = "gpt-4o"
	DefaultTemperature      = 0.2
	DefaultMaxOutputTokens  = 2048
	DefaultTokenBudget      = 12000
	DefaultTwoStepThreshold = 20
	DefaultWarnFraction     = 0.5
	DefaultLLMTimeout       = 60

	DefaultCachePath = ".changelog-cache/cache.db"
)

// ApplyDefaults fills zero-valued fields with their defaults
func (c *Config) ApplyDefaults() {
	if c.DaysBack == 0 {
		c.DaysBack = DefaultDaysBack
	}
	if len(c.Branches) == 0 {
		c.Branches = []string{"main"}
	}
	if c.Fetch.MaxPagesPerBranch == 0 {
		c.Fetch.MaxPagesPerBranch = DefaultMaxPagesPerBranch
	}
	if c.Fetch.Concurrency == 0 {
		c.Fetch.Concurrency = DefaultConcurrency
	}
	if c.Fetch.PerPage == 0 {
		c.Fetch.PerPage = DefaultPerPage
	}
	if c.Fetch.RateLimitFloor == 0 {
		c.Fetch.RateLimitFloor = DefaultRateLimitFloor
	}
	if c.Fetch.MaxRetries == 0 {
		c.Fetch.MaxRetries = DefaultMaxRetries
	}
	if c.LLM.Model == "" {
		c.LLM.Model = DefaultModel
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = DefaultTemperature
	}
	if c.LLM.MaxOutputTokens == 0 {
		c.LLM.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if c.LLM.TokenBudget == 0 {
		c.LLM.TokenBudget = DefaultTokenBudget
	}
	if c.LLM.TwoStepThreshold == 0 {
		c.LLM.TwoStepThreshold = DefaultTwoStepThreshold
	}
	if c.LLM.TruncationWarnFrac == 0 {
		c.LLM.TruncationWarnFrac = DefaultWarnFraction
	}
	if c.LLM.TimeoutSeconds == 0 {
		c.LLM.TimeoutSeconds = DefaultLLMTimeout
	}
	if c.Cache.Path == "" {
		c.Cache.Path = DefaultCachePath
	}
	if c.Cache.RawTTLMinutes == 0 {
		c.Cache.RawTTLMinutes = 30
	}
	if c.Cache.ProcessedTTLMinutes == 0 {
		c.Cache.ProcessedTTLMinutes = 60
	}
	if c.Cache.GeneratedTTLMinutes == 0 {
		c.Cache.GeneratedTTLMinutes = 120
	}
}

// Validate checks that required fields are present
func (c *Config) Validate() error {
	if c.Org == "" {
		return fmt.Errorf("organization is required")
	}
	if c.Repo == "" {
		return fmt.Errorf("repository is required")
	}
	if c.DaysBack < 0 {
		return fmt.Errorf("days_back must not be negative")
	}
	return nil
}

// RawTTL returns the raw-API cache TTL as a duration
func (c *CacheConfig) RawTTL() time.Duration {
	return time.Duration(c.RawTTLMinutes) * time.Minute
}

// ProcessedTTL returns the processed-data cache TTL as a duration
func (c *CacheConfig) ProcessedTTL() time.Duration {
	return time.Duration(c.ProcessedTTLMinutes) * time.Minute
}

// GeneratedTTL returns the generated-content cache TTL as a duration
func (c *CacheConfig) GeneratedTTL() time.Duration {
	return time.Duration(c.GeneratedTTLMinutes) * time.Minute
}
