package runner_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/torosent/pipefire/internal/runner"
)

type retryableRequester struct {
	attempts  *int64
	failUntil int64
}

func (r *retryableRequester) Do(ctx context.Context) error {
	attempt := atomic.AddInt64(r.attempts, 1)
	if attempt <= r.failUntil {
		return errors.New("transient failure")
	}
	return nil
}

// TestRetryRespectsMaxAttempts verifies retry count is honored.
func TestRetryRespectsMaxAttempts(t *testing.T) {
	var attempts int64
	policy := runner.RetryPolicy{
		MaxAttempts: 5,
		DelayFunc: func(attempt int, err error) time.Duration {
			return time.Duration(attempt) * time.Millisecond
		},
	}

	res := run(t, runner.Options{
		Connections:   1,
		TotalRequests: 1,
		Requester:     runner.WithRetry(&retryableRequester{attempts: &attempts, failUntil: 3}, policy),
	})

	if res.Total != 1 {
		t.Errorf("expected total 1, got %d", res.Total)
	}
	if res.Errors != 0 {
		t.Errorf("expected errors 0, got %d", res.Errors)
	}
	if attempts != 4 {
		t.Errorf("expected 4 attempts, got %d", attempts)
	}
}

func TestRetryExceedsMaxAttempts(t *testing.T) {
	var attempts int64
	policy := runner.RetryPolicy{
		MaxAttempts: 3,
		DelayFunc:   func(attempt int, err error) time.Duration { return time.Millisecond },
	}

	res := run(t, runner.Options{
		Connections:   1,
		TotalRequests: 1,
		Requester:     runner.WithRetry(&retryableRequester{attempts: &attempts, failUntil: 100}, policy),
	})

	if res.Errors != 1 {
		t.Errorf("expected errors 1, got %d", res.Errors)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts (max), got %d", attempts)
	}
}

func TestRetryShouldRetryStopsEarly(t *testing.T) {
	var attempts int64
	wrapped := runner.WithRetry(&retryableRequester{attempts: &attempts, failUntil: 100}, runner.RetryPolicy{
		MaxAttempts: 5,
		ShouldRetry: func(err error) bool { return false },
	})
	if err := wrapped.Do(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt got %d", attempts)
	}
}

func TestWithRetrySingleAttemptIsPassthrough(t *testing.T) {
	inner := &fakeRequester{}
	if got := runner.WithRetry(inner, runner.RetryPolicy{MaxAttempts: 1}); got != runner.Requester(inner) {
		t.Error("WithRetry(MaxAttempts=1) should return the inner requester")
	}
}

func TestWithLoggingRecordsFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	requester := runner.RequesterFunc(func(ctx context.Context) error {
		return &runner.HTTPError{StatusCode: 500, Body: "error body"}
	})
	attrs := func(err error) []any {
		var httpErr *runner.HTTPError
		if errors.As(err, &httpErr) {
			return []any{"status", httpErr.StatusCode}
		}
		return nil
	}

	res := run(t, runner.Options{
		Connections:   1,
		TotalRequests: 2,
		Requester:     runner.WithLogging(requester, logger, attrs),
	})

	if res.Total != 2 || res.Errors != 2 {
		t.Errorf("total=%d errors=%d, want 2/2", res.Total, res.Errors)
	}
	out := buf.String()
	if got := strings.Count(out, "request failed"); got != 2 {
		t.Errorf("logged %d failures, want 2:\n%s", got, out)
	}
	if !strings.Contains(out, "status=500") || !strings.Contains(out, `error="HTTP 500: error body"`) {
		t.Errorf("log output missing attributes:\n%s", out)
	}
}

func TestMiddlewareForwardsClose(t *testing.T) {
	inner := &fakeRequester{}
	wrapped := runner.WithLogging(
		runner.WithRetry(inner, runner.RetryPolicy{MaxAttempts: 2}),
		slog.New(slog.DiscardHandler), nil,
	)
	closer, ok := wrapped.(interface{ Close() error })
	if !ok {
		t.Fatal("wrapped requester does not implement Close")
	}
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !inner.closed.Load() {
		t.Error("inner requester not closed")
	}
}
