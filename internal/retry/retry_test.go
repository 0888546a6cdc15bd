package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ghErrorResponse(status int) *github.ErrorResponse {
	return &github.ErrorResponse{
		Response: &http.Response{StatusCode: status},
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, ClassPermanent},
		{"authorization sentinel", fmt.Errorf("op: %w", ErrAuthorization), ClassAuthorization},
		{"github rate limit", &github.RateLimitError{}, ClassRateLimited},
		{"github abuse rate limit", &github.AbuseRateLimitError{}, ClassRateLimited},
		{"github 401", ghErrorResponse(401), ClassAuthorization},
		{"github 403", ghErrorResponse(403), ClassAuthorization},
		{"github 404", ghErrorResponse(404), ClassPermanent},
		{"github 500", ghErrorResponse(500), ClassTransient},
		{"status 429", &StatusError{Code: 429}, ClassRateLimited},
		{"status 401", &StatusError{Code: 401}, ClassAuthorization},
		{"status 422", &StatusError{Code: 422}, ClassPermanent},
		{"status 503", &StatusError{Code: 503}, ClassTransient},
		{"wrapped status", fmt.Errorf("call: %w", &StatusError{Code: 500}), ClassTransient},
		{"context canceled", context.Canceled, ClassPermanent},
		{"deadline exceeded", context.DeadlineExceeded, ClassPermanent},
		{"plain error", errors.New("connection reset"), ClassTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func noSleep(slept *[]time.Duration) func(ctx context.Context, d time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		if slept != nil {
			*slept = append(*slept, d)
		}
		return nil
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	var slept []time.Duration
	policy := Policy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}.
		WithSleep(noSleep(&slept))

	calls := 0
	err := policy.Do(context.Background(), "op", func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, slept, 2)
}

func TestDoExhaustsAttempts(t *testing.T) {
	policy := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second}.
		WithSleep(noSleep(nil))

	calls := 0
	err := policy.Do(context.Background(), "list pages", func() error {
		calls++
		return errors.New("still broken")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "list pages failed after 3 attempts")
	assert.Contains(t, err.Error(), "still broken")
}

func TestDoDoesNotRetryAuthorization(t *testing.T) {
	policy := DefaultPolicy().WithSleep(noSleep(nil))

	calls := 0
	err := policy.Do(context.Background(), "op", func() error {
		calls++
		return ghErrorResponse(401)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, ErrAuthorization)
}

func TestDoDoesNotRetryPermanent(t *testing.T) {
	policy := DefaultPolicy().WithSleep(noSleep(nil))

	calls := 0
	original := ghErrorResponse(404)
	err := policy.Do(context.Background(), "op", func() error {
		calls++
		return original
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.NotErrorIs(t, err, ErrAuthorization)
}

func TestDoStopsOnCanceledContext(t *testing.T) {
	policy := DefaultPolicy().WithSleep(noSleep(nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := policy.Do(ctx, "op", func() error {
		calls++
		return nil
	})

	require.Error(t, err)
	assert.Equal(t, 0, calls)
}

func TestDelayBounds(t *testing.T) {
	policy := Policy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	for attempt := 0; attempt < 5; attempt++ {
		for _, class := range []Class{ClassTransient, ClassRateLimited} {
			d := policy.Delay(attempt, class)
			assert.GreaterOrEqual(t, d, 50*time.Millisecond, "attempt %d", attempt)
			assert.LessOrEqual(t, d, time.Second, "attempt %d", attempt)
		}
	}
}

func TestDelayRateLimitedBacksOffHarder(t *testing.T) {
	policy := Policy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Minute}

	// Jitter lower bound is half the raw delay: 4x multiplier guarantees
	// the rate-limited minimum exceeds the transient maximum at attempt 0.
	rateLimited := policy.Delay(0, ClassRateLimited)
	assert.GreaterOrEqual(t, rateLimited, 200*time.Millisecond)
}
