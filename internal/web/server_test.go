package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alan/changelog-gen/internal/changelog"
	"github.com/alan/changelog-gen/internal/health"
	"github.com/alan/changelog-gen/internal/orchestrator"
	"github.com/alan/changelog-gen/internal/retry"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeRunner struct {
	draft    changelog.Draft
	meta     orchestrator.RunMetadata
	err      error
	requests []orchestrator.Request
}

func (r *fakeRunner) Run(_ context.Context, req orchestrator.Request) (changelog.Draft, orchestrator.RunMetadata, error) {
	r.requests = append(r.requests, req)
	return r.draft, r.meta, r.err
}

type stubPinger struct{ err error }

func (p stubPinger) Ping() error { return p.err }

func testDefaults() Defaults {
	return Defaults{
		Org:         "acme",
		Repo:        "widgets",
		Branches:    []string{"main"},
		DaysBack:    30,
		TokenBudget: 12000,
		Timeout:     time.Minute,
	}
}

func healthyChecker() *health.Checker {
	return health.NewChecker(stubPinger{}, func(context.Context) error { return nil }, true)
}

func postChangelog(t *testing.T, server *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/changelog", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, req)
	return recorder
}

func TestHandleGenerateSuccess(t *testing.T) {
	runner := &fakeRunner{
		draft: changelog.Draft{
			Title:    "Changelog for acme/widgets",
			Sections: []changelog.Section{{Name: "Added", Entries: []changelog.Entry{{Text: "Add thing [#1]", PRNumbers: []int{1}}}}},
		},
		meta: orchestrator.RunMetadata{RunID: "run-1", Repository: "acme/widgets"},
	}
	server := NewServer(runner, healthyChecker(), testDefaults())

	recorder := postChangelog(t, server, `{}`)

	require.Equal(t, http.StatusOK, recorder.Code)
	var resp GenerateResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	assert.Equal(t, "markdown", resp.Format)
	assert.Contains(t, resp.Draft, "# Changelog for acme/widgets")
	assert.Equal(t, "run-1", resp.Metadata.RunID)

	// Defaults fill an empty request
	require.Len(t, runner.requests, 1)
	req := runner.requests[0]
	assert.Equal(t, "acme", req.Org)
	assert.Equal(t, "widgets", req.Repo)
	assert.Equal(t, []string{"main"}, req.Branches)
	assert.Equal(t, 12000, req.TokenBudget)
	assert.Equal(t, time.Minute, req.Timeout)
	assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, -30), req.Since, time.Minute)
}

func TestHandleGenerateOverrides(t *testing.T) {
	runner := &fakeRunner{draft: changelog.Draft{Sections: []changelog.Section{{Name: "Added", Entries: []changelog.Entry{{Text: "x [#1]"}}}}}}
	server := NewServer(runner, healthyChecker(), testDefaults())

	body := `{"repository": "other/repo", "branches": ["develop", "release"], "days_back": 7, "output_format": "json"}`
	recorder := postChangelog(t, server, body)

	require.Equal(t, http.StatusOK, recorder.Code)
	require.Len(t, runner.requests, 1)
	req := runner.requests[0]
	assert.Equal(t, "other", req.Org)
	assert.Equal(t, "repo", req.Repo)
	assert.Equal(t, []string{"develop", "release"}, req.Branches)
	assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, -7), req.Since, time.Minute)

	var resp GenerateResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	assert.Equal(t, "json", resp.Format)
}

func TestHandleGenerateBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"repository":`},
		{"unknown format", `{"output_format": "pdf"}`},
		{"bad repository", `{"repository": "no-slash"}`},
		{"repository extra slash", `{"repository": "a/b/c"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{}
			server := NewServer(runner, healthyChecker(), testDefaults())

			recorder := postChangelog(t, server, tt.body)

			assert.Equal(t, http.StatusBadRequest, recorder.Code)
			assert.Empty(t, runner.requests)
		})
	}
}

func TestHandleGenerateAuthorizationFailure(t *testing.T) {
	runner := &fakeRunner{err: fmt.Errorf("fetch phase failed: %w", retry.ErrAuthorization)}
	server := NewServer(runner, healthyChecker(), testDefaults())

	recorder := postChangelog(t, server, `{}`)
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestHandleGenerateUpstreamFailure(t *testing.T) {
	runner := &fakeRunner{err: errors.New("fetch phase failed: boom")}
	server := NewServer(runner, healthyChecker(), testDefaults())

	recorder := postChangelog(t, server, `{}`)
	assert.Equal(t, http.StatusBadGateway, recorder.Code)
}

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name     string
		checker  *health.Checker
		wantCode int
		want     health.Status
	}{
		{
			name:     "healthy",
			checker:  healthyChecker(),
			wantCode: http.StatusOK,
			want:     health.StatusHealthy,
		},
		{
			name:     "degraded without llm key",
			checker:  health.NewChecker(stubPinger{}, func(context.Context) error { return nil }, false),
			wantCode: http.StatusOK,
			want:     health.StatusDegraded,
		},
		{
			name:     "unhealthy cache",
			checker:  health.NewChecker(stubPinger{err: errors.New("locked")}, func(context.Context) error { return nil }, true),
			wantCode: http.StatusServiceUnavailable,
			want:     health.StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewServer(&fakeRunner{}, tt.checker, testDefaults())

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			recorder := httptest.NewRecorder()
			server.Handler().ServeHTTP(recorder, req)

			assert.Equal(t, tt.wantCode, recorder.Code)
			var report health.Report
			require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &report))
			assert.Equal(t, tt.want, report.Overall)
		})
	}
}
