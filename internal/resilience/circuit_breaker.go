package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	perrors "perfwatch/internal/errors"
)

// CircuitState represents the current state of a circuit breaker.
type CircuitState int

const (
	// StateClosed lets every request through.
	StateClosed CircuitState = iota
	// StateOpen rejects requests until the recovery timeout elapses.
	StateOpen
	// StateHalfOpen lets requests through to probe whether the source recovered.
	StateHalfOpen
)

// String returns the string representation of a circuit state.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	// Default: 5
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before probing.
	// Default: 30 seconds
	RecoveryTimeout time.Duration

	// SuccessThreshold is the number of half-open successes needed to close.
	// Default: 3
	SuccessThreshold int

	// Timeout bounds a single protected call.
	// Default: 10 seconds
	Timeout time.Duration

	Name   string
	Logger *slog.Logger
}

// DefaultCircuitBreakerConfig returns a circuit breaker configuration with sensible defaults.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 3,
		Timeout:          10 * time.Second,
		Name:             name,
		Logger:           slog.Default(),
	}
}

// CircuitBreaker stops a monitor from hammering a source that keeps failing.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	logger *slog.Logger
	now    func() time.Time

	mu              sync.Mutex
	state           CircuitState
	failures        int
	successes       int
	lastFailureTime time.Time

	totalAttempts   int64
	totalFailures   int64
	totalSuccesses  int64
	totalRejections int64
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 30 * time.Second
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 3
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Name == "" {
		config.Name = "circuit-breaker"
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &CircuitBreaker{
		config: config,
		logger: config.Logger.With("component", "circuit_breaker", "name", config.Name),
		now:    time.Now,
		state:  StateClosed,
	}
}

// Execute runs fn under the breaker with the configured per-call timeout.
// An open circuit returns a retryable network error carrying the time left
// until the next probe.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if wait, ok := cb.allowRequest(); !ok {
		err := perrors.NewError(perrors.ErrTypeNetwork, fmt.Sprintf("circuit breaker %s is open", cb.config.Name)).
			WithComponent("circuit_breaker").
			WithRetryable(true).
			Build()
		err.RetryAfter = wait
		return err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, cb.config.Timeout)
	defer cancel()

	if err := fn(timeoutCtx); err != nil {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return nil
}

func (cb *CircuitBreaker) allowRequest() (time.Duration, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		elapsed := cb.now().Sub(cb.lastFailureTime)
		if elapsed <= cb.config.RecoveryTimeout {
			cb.totalRejections++
			return cb.config.RecoveryTimeout - elapsed, false
		}
		cb.state = StateHalfOpen
		cb.successes = 0
		cb.logger.Info("Circuit breaker transitioning to half-open",
			"recovery_timeout", cb.config.RecoveryTimeout)
	}
	cb.totalAttempts++
	return 0, true
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalFailures++
	cb.failures++
	cb.successes = 0
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.state = StateOpen
			cb.logger.Warn("Circuit breaker opened due to consecutive failures",
				"failures", cb.failures,
				"threshold", cb.config.FailureThreshold)
		}
	case StateHalfOpen:
		cb.state = StateOpen
		cb.logger.Warn("Circuit breaker returned to open state after half-open failure")
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalSuccesses++
	cb.failures = 0

	if cb.state == StateHalfOpen {
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.state = StateClosed
			cb.successes = 0
			cb.logger.Info("Circuit breaker closed after successful recovery",
				"success_threshold", cb.config.SuccessThreshold)
		}
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// CircuitBreakerStats provides statistics about circuit breaker performance.
type CircuitBreakerStats struct {
	Name            string     `json:"name"`
	State           string     `json:"state"`
	TotalAttempts   int64      `json:"total_attempts"`
	TotalSuccesses  int64      `json:"total_successes"`
	TotalFailures   int64      `json:"total_failures"`
	TotalRejections int64      `json:"total_rejections"`
	CurrentFailures int        `json:"current_failures"`
	LastFailureTime *time.Time `json:"last_failure_time,omitempty"`
}

// Stats returns current circuit breaker statistics.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	stats := CircuitBreakerStats{
		Name:            cb.config.Name,
		State:           cb.state.String(),
		TotalAttempts:   cb.totalAttempts,
		TotalSuccesses:  cb.totalSuccesses,
		TotalFailures:   cb.totalFailures,
		TotalRejections: cb.totalRejections,
		CurrentFailures: cb.failures,
	}
	if !cb.lastFailureTime.IsZero() {
		t := cb.lastFailureTime
		stats.LastFailureTime = &t
	}
	return stats
}

// Reset closes the circuit and clears the counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
	cb.lastFailureTime = time.Time{}
	cb.totalAttempts = 0
	cb.totalSuccesses = 0
	cb.totalFailures = 0
	cb.totalRejections = 0
}

// IsHealthy reports whether the circuit is not open.
func (cb *CircuitBreaker) IsHealthy() bool {
	return cb.State() != StateOpen
}
