package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "perfwatch/internal/errors"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{Attempts: attempts, Delay: time.Millisecond}
}

func TestRetryWithPolicy_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := RetryWithPolicy(context.Background(), fastPolicy(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithPolicy_GivesUp(t *testing.T) {
	calls := 0
	err := RetryWithPolicy(context.Background(), fastPolicy(2), func() error {
		calls++
		return errors.New("connection refused")
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestRetryWithPolicy_StopsOnPermanentError(t *testing.T) {
	calls := 0
	err := RetryWithPolicy(context.Background(), fastPolicy(5), func() error {
		calls++
		return perrors.ConfigError("bad address", "address")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, perrors.ErrTypeConfig, perrors.GetErrorType(err))
}

func TestRetryWithPolicy_AuthenticationMessage(t *testing.T) {
	err := RetryWithPolicy(context.Background(), fastPolicy(2), func() error {
		return errors.New("login: authentication denied: bad token")
	})
	require.EqualError(t, err, "authentication denied after 2 attempts: bad token")
}

func TestRetryWithPolicy_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := RetryWithPolicy(ctx, fastPolicy(3), func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 2,
		SuccessThreshold: 1,
		RecoveryTimeout:  time.Minute,
	})
	now := time.Unix(1000, 0)
	cb.now = func() time.Time { return now }

	boom := errors.New("boom")
	fail := func(context.Context) error { return boom }
	ok := func(context.Context) error { return nil }

	assert.ErrorIs(t, cb.Execute(context.Background(), fail), boom)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(context.Background(), fail), boom)
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.IsHealthy())

	err := cb.Execute(context.Background(), ok)
	require.Error(t, err)
	assert.True(t, perrors.IsRetryable(err))
	assert.Equal(t, time.Minute, perrors.GetRetryDelay(err))

	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Execute(context.Background(), ok))
	assert.Equal(t, StateClosed, cb.State())

	stats := cb.Stats()
	assert.Equal(t, int64(3), stats.TotalAttempts)
	assert.Equal(t, int64(1), stats.TotalRejections)
	assert.Equal(t, int64(2), stats.TotalFailures)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Second})
	now := time.Unix(1000, 0)
	cb.now = func() time.Time { return now }

	fail := func(context.Context) error { return errors.New("down") }
	_ = cb.Execute(context.Background(), fail)
	require.Equal(t, StateOpen, cb.State())

	now = now.Add(2 * time.Second)
	_ = cb.Execute(context.Background(), fail)
	assert.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.Zero(t, cb.Stats().TotalAttempts)
}
