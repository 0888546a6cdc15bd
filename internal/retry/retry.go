// Package retry provides a reusable retry policy with error classification,
// shared by the GitHub fetcher and the LLM client.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/url"
	"time"

	"github.com/google/go-github/v57/github"
)

// Class categorizes an error for retry purposes
type Class int

const (
	// ClassTransient covers network timeouts and 5xx responses; retried
	ClassTransient Class = iota
	// ClassRateLimited covers 429 and quota exhaustion; retried with longer backoff
	ClassRateLimited
	// ClassAuthorization covers 401/403; fatal, never retried
	ClassAuthorization
	// ClassPermanent covers other 4xx responses; never retried
	ClassPermanent
)

// ErrAuthorization wraps upstream authentication and permission failures so
// callers can surface them as fatal without inspecting status codes.
var ErrAuthorization = errors.New("authorization failed")

// StatusError carries an HTTP status code from clients that do not use
// go-github's typed errors (the LLM client).
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream responded with status %d: %s", e.Code, e.Message)
}

// Classify maps an error to its retry class
func Classify(err error) Class {
	if err == nil {
		return ClassPermanent
	}

	if errors.Is(err, ErrAuthorization) {
		return ClassAuthorization
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return ClassRateLimited
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return ClassRateLimited
	}

	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return classifyStatus(ghErr.Response.StatusCode)
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return classifyStatus(statusErr.Code)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassPermanent
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ClassTransient
	}

	return ClassTransient
}

func classifyStatus(code int) Class {
	switch {
	case code == 429:
		return ClassRateLimited
	case code == 401 || code == 403:
		return ClassAuthorization
	case code >= 500:
		return ClassTransient
	default:
		return ClassPermanent
	}
}

// Policy defines bounded exponential backoff with jitter
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// sleep is injectable for tests; nil means real sleeping
	sleep func(ctx context.Context, d time.Duration) error
	// rand is injectable for deterministic jitter in tests
	rand *rand.Rand
}

// DefaultPolicy returns the policy used across the pipeline
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

// WithSleep returns a copy of the policy using the given sleep function
func (p Policy) WithSleep(sleep func(ctx context.Context, d time.Duration) error) Policy {
	p.sleep = sleep
	return p
}

// Delay computes the backoff delay for a zero-based attempt index,
// with full jitter in [delay/2, delay].
func (p Policy) Delay(attempt int, class Class) time.Duration {
	delay := p.BaseDelay << uint(attempt)
	if class == ClassRateLimited {
		// Rate-limit windows recover on upstream schedule, back off harder
		delay *= 4
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	half := delay / 2
	r := p.rand
	var jitter time.Duration
	if r != nil {
		jitter = time.Duration(r.Int63n(int64(half) + 1))
	} else {
		jitter = time.Duration(rand.Int63n(int64(half) + 1)) //nolint:gosec // jitter does not need crypto randomness
	}
	return half + jitter
}

// Do runs fn, retrying transient and rate-limited failures until
// MaxAttempts is exhausted. Authorization errors are returned wrapped in
// ErrAuthorization; permanent errors are returned as-is.
func (p Policy) Do(ctx context.Context, op string, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		class := Classify(err)
		switch class {
		case ClassAuthorization:
			if errors.Is(err, ErrAuthorization) {
				return err
			}
			return fmt.Errorf("%w: %s: %v", ErrAuthorization, op, err)
		case ClassPermanent:
			return err
		}

		if attempt == p.MaxAttempts-1 {
			break
		}

		delay := p.Delay(attempt, class)
		slog.Debug("Retrying after failure", "op", op, "attempt", attempt+1, "delay", delay, "error", err)
		if err := p.doSleep(ctx, delay); err != nil {
			return lastErr
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", op, p.MaxAttempts, lastErr)
}

func (p Policy) doSleep(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
