// Package web exposes the changelog pipeline to the automation layer over
// HTTP: a generation endpoint and a health endpoint.
package web

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/alan/changelog-gen/internal/changelog"
	"github.com/alan/changelog-gen/internal/health"
	"github.com/alan/changelog-gen/internal/orchestrator"
	"github.com/alan/changelog-gen/internal/retry"
	"github.com/gin-gonic/gin"
)

// Runner executes one changelog run; implemented by the orchestrator
type Runner interface {
	Run(ctx context.Context, req orchestrator.Request) (changelog.Draft, orchestrator.RunMetadata, error)
}

// Server is the changelog HTTP server
type Server struct {
	runner   Runner
	checker  *health.Checker
	defaults Defaults
	router   *gin.Engine
}

// Defaults fill request fields the caller omitted
type Defaults struct {
	Org         string
	Repo        string
	Branches    []string
	DaysBack    int
	TokenBudget int
	Timeout     time.Duration
}

// GenerateRequest is the POST /api/changelog body
type GenerateRequest struct {
	Repository   string   `json:"repository,omitempty"`
	Branches     []string `json:"branches,omitempty"`
	DaysBack     int      `json:"days_back,omitempty"`
	OutputFormat string   `json:"output_format,omitempty"`
}

// GenerateResponse is the POST /api/changelog reply
type GenerateResponse struct {
	Draft    string                   `json:"draft"`
	Format   string                   `json:"format"`
	Metadata orchestrator.RunMetadata `json:"metadata"`
}

// NewServer creates a server and registers its routes
func NewServer(runner Runner, checker *health.Checker, defaults Defaults) *Server {
	router := gin.Default()

	s := &Server{
		runner:   runner,
		checker:  checker,
		defaults: defaults,
		router:   router,
	}

	router.GET("/health", s.handleHealth)

	api := router.Group("/api")
	{
		api.POST("/changelog", s.handleGenerate)
	}

	return s
}

// Run starts the web server
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// Handler exposes the router for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	report := s.checker.Run(c.Request.Context())

	code := http.StatusOK
	if report.Overall == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}

func (s *Server) handleGenerate(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	format, err := changelog.ParseFormat(req.OutputFormat)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	runReq, err := s.buildRunRequest(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	draft, meta, err := s.runner.Run(c.Request.Context(), runReq)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, retry.ErrAuthorization) {
			status = http.StatusUnauthorized
		}
		c.JSON(status, gin.H{"error": err.Error(), "metadata": meta})
		return
	}

	rendered, err := draft.Render(format)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, GenerateResponse{
		Draft:    rendered,
		Format:   string(format),
		Metadata: meta,
	})
}

func (s *Server) buildRunRequest(req GenerateRequest) (orchestrator.Request, error) {
	org, repo := s.defaults.Org, s.defaults.Repo
	if req.Repository != "" {
		var err error
		org, repo, err = splitRepository(req.Repository)
		if err != nil {
			return orchestrator.Request{}, err
		}
	}

	branches := req.Branches
	if len(branches) == 0 {
		branches = s.defaults.Branches
	}

	daysBack := req.DaysBack
	if daysBack <= 0 {
		daysBack = s.defaults.DaysBack
	}

	now := time.Now().UTC()
	return orchestrator.Request{
		Org:         org,
		Repo:        repo,
		Branches:    branches,
		Since:       now.AddDate(0, 0, -daysBack),
		Until:       now,
		TokenBudget: s.defaults.TokenBudget,
		Timeout:     s.defaults.Timeout,
	}, nil
}

func splitRepository(repository string) (string, string, error) {
	org, repo, ok := strings.Cut(repository, "/")
	if !ok || org == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", errors.New(`repository must be "org/repo"`)
	}
	return org, repo, nil
}
