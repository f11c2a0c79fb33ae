// Package resilience provides retry and circuit breaker helpers for source I/O.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	perrors "perfwatch/internal/errors"
)

// RetryPolicy controls how often and how patiently an operation is retried.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultRetryPolicy returns three attempts with a fixed two second delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Delay: 2 * time.Second}
}

// Retry runs operation with the default policy.
func Retry(ctx context.Context, operation func() error) error {
	return RetryWithPolicy(ctx, DefaultRetryPolicy(), operation)
}

// RetryWithPolicy retries operation until it succeeds, the context ends, the
// attempts run out or the operation fails with a non-retryable MonitorError.
// A MonitorError carrying RetryAfter overrides the policy delay for that step.
func RetryWithPolicy(ctx context.Context, policy RetryPolicy, operation func() error) error {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}

	var lastErr error
	attempt := 0
	for attempt < policy.Attempts {
		attempt++
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = operation()
		if lastErr == nil {
			return nil
		}
		if isPermanent(lastErr) {
			break
		}

		if attempt < policy.Attempts {
			delay := policy.Delay
			if d := retryAfter(lastErr); d > 0 {
				delay = d
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	if strings.Contains(lastErr.Error(), "authentication denied") {
		errMsg := lastErr.Error()
		if idx := strings.Index(errMsg, "authentication denied: "); idx >= 0 {
			detail := errMsg[idx+len("authentication denied: "):]
			return fmt.Errorf("authentication denied after %d attempts: %s", attempt, detail)
		}
		return fmt.Errorf("authentication denied after %d attempts: %w", attempt, lastErr)
	}

	return fmt.Errorf("operation failed after %d attempts: %w", attempt, lastErr)
}

func isPermanent(err error) bool {
	if perrors.GetErrorType(err) == perrors.ErrTypeUnknown {
		return false
	}
	return !perrors.IsRetryable(err)
}

func retryAfter(err error) time.Duration {
	var monErr *perrors.MonitorError
	if errors.As(err, &monErr) {
		return monErr.RetryAfter
	}
	return 0
}
