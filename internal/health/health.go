// Package health reports cache and upstream connectivity status for the
// health command and the HTTP health endpoint.
package health

import (
	"context"
	"time"
)

// Status grades one check or the overall report
type Status string

const (
	// StatusHealthy means the dependency responded normally
	StatusHealthy Status = "healthy"
	// StatusDegraded means usable but impaired (e.g. missing optional key)
	StatusDegraded Status = "degraded"
	// StatusUnhealthy means the dependency failed
	StatusUnhealthy Status = "unhealthy"
)

// Check is one dependency probe result
type Check struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Report aggregates all checks with the worst status as the overall grade
type Report struct {
	Overall   Status    `json:"status"`
	Checks    []Check   `json:"checks"`
	Timestamp time.Time `json:"timestamp"`
}

// Pinger verifies the cache store is reachable
type Pinger interface {
	Ping() error
}

// Checker runs the configured dependency probes
type Checker struct {
	cache     Pinger
	github    func(ctx context.Context) error
	llmKeySet bool
}

// NewChecker creates a checker; github may be nil when no token is
// configured, which reports as unhealthy.
func NewChecker(cache Pinger, github func(ctx context.Context) error, llmKeySet bool) *Checker {
	return &Checker{cache: cache, github: github, llmKeySet: llmKeySet}
}

// Run executes every check and grades the overall status
func (c *Checker) Run(ctx context.Context) Report {
	report := Report{Overall: StatusHealthy, Timestamp: time.Now().UTC()}

	report.add(c.checkCache())
	report.add(c.checkGitHub(ctx))
	report.add(c.checkLLM())

	return report
}

func (r *Report) add(check Check) {
	r.Checks = append(r.Checks, check)
	if worse(check.Status, r.Overall) {
		r.Overall = check.Status
	}
}

func worse(a, b Status) bool {
	rank := map[Status]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	return rank[a] > rank[b]
}

func (c *Checker) checkCache() Check {
	start := time.Now()
	check := Check{Name: "cache", Status: StatusHealthy, Message: "cache store reachable"}
	if c.cache == nil {
		check.Status = StatusUnhealthy
		check.Message = "cache store not configured"
	} else if err := c.cache.Ping(); err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	}
	check.Duration = time.Since(start)
	return check
}

func (c *Checker) checkGitHub(ctx context.Context) Check {
	start := time.Now()
	check := Check{Name: "github", Status: StatusHealthy, Message: "GitHub API reachable"}
	if c.github == nil {
		check.Status = StatusUnhealthy
		check.Message = "GITHUB_TOKEN not configured"
	} else if err := c.github(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	}
	check.Duration = time.Since(start)
	return check
}

func (c *Checker) checkLLM() Check {
	check := Check{Name: "llm", Status: StatusHealthy, Message: "generation API key configured"}
	if !c.llmKeySet {
		// Generation degrades to fallback without a key, so the system is
		// impaired rather than down
		check.Status = StatusDegraded
		check.Message = "OPENAI_API_KEY not configured, runs will use fallback content"
	}
	return check
}
