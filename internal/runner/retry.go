package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// HTTPError reports a response whose status counts as a failure.
type HTTPError struct {
	StatusCode int
	Body       string // leading bytes of the response body
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Status returns the response status code.
func (e *HTTPError) Status() int { return e.StatusCode }

// RetryPolicy configures retry behavior.
type RetryPolicy struct {
	MaxAttempts int                                        // total attempts including initial try
	Delay       time.Duration                              // fixed delay between retries (used if DelayFunc nil)
	ShouldRetry func(error) bool                           // predicate; if nil, all errors retried
	DelayFunc   func(attempt int, err error) time.Duration // dynamic backoff; attempt is 1-based
}

// retryRequester wraps a Requester with retry logic.
type retryRequester struct {
	inner  Requester
	policy RetryPolicy
}

// WithRetry wraps a Requester with retry capability.
func WithRetry(req Requester, policy RetryPolicy) Requester {
	if policy.MaxAttempts <= 1 {
		return req // no retries needed
	}
	return &retryRequester{
		inner:  req,
		policy: policy,
	}
}

func (r *retryRequester) Do(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = r.inner.Do(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == r.policy.MaxAttempts {
			break
		}
		if r.policy.ShouldRetry != nil && !r.policy.ShouldRetry(lastErr) {
			return lastErr
		}

		delay := r.policy.Delay
		if r.policy.DelayFunc != nil {
			delay = r.policy.DelayFunc(attempt, lastErr)
		}
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
	}
	return lastErr
}

// Close forwards to the wrapped requester.
func (r *retryRequester) Close() error { return closeInner(r.inner) }

// loggingRequester wraps a Requester with failure logging.
type loggingRequester struct {
	inner  Requester
	logger *slog.Logger
	attrs  func(error) []any
}

// WithLogging wraps a Requester to log failures at error level. attrs, when not nil,
// adds attributes derived from the error.
func WithLogging(req Requester, logger *slog.Logger, attrs func(error) []any) Requester {
	if logger == nil {
		return req
	}
	return &loggingRequester{
		inner:  req,
		logger: logger,
		attrs:  attrs,
	}
}

func (l *loggingRequester) Do(ctx context.Context) error {
	err := l.inner.Do(ctx)
	if err != nil {
		args := []any{"error", err}
		if l.attrs != nil {
			args = append(args, l.attrs(err)...)
		}
		l.logger.Log(ctx, slog.LevelError, "request failed", args...)
	}
	return err
}

// Close forwards to the wrapped requester.
func (l *loggingRequester) Close() error { return closeInner(l.inner) }

func closeInner(req Requester) error {
	if c, ok := req.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
