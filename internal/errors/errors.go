// Package errors provides structured error types for perfwatch with
// categorization for retryable vs fatal errors and context propagation.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType int

const (
	// ErrTypeUnknown represents an unknown error type
	ErrTypeUnknown ErrorType = iota
	// ErrTypeMalformedTree represents a counter tree that violates shape rules (fatal to the cycle)
	ErrTypeMalformedTree
	// ErrTypeStructuralMismatch represents a snapshot that does not match the wanted tree (fatal to the cycle)
	ErrTypeStructuralMismatch
	// ErrTypeMissingValue represents a leaf not found during merge (recovered locally)
	ErrTypeMissingValue
	// ErrTypeNetwork represents network-related errors (retryable)
	ErrTypeNetwork
	// ErrTypeTimeout represents timeout errors (retryable)
	ErrTypeTimeout
	// ErrTypeConfig represents configuration errors (fatal)
	ErrTypeConfig
	// ErrTypeProtocol represents a malformed wire response from a source
	ErrTypeProtocol
	// ErrTypeUnsupported represents a source or transport not available on this platform
	ErrTypeUnsupported
	// ErrTypeInternal represents internal errors (fatal)
	ErrTypeInternal
)

// String returns the lower-case name of the error type.
func (t ErrorType) String() string {
	switch t {
	case ErrTypeMalformedTree:
		return "malformed_tree"
	case ErrTypeStructuralMismatch:
		return "structural_mismatch"
	case ErrTypeMissingValue:
		return "missing_value"
	case ErrTypeNetwork:
		return "network"
	case ErrTypeTimeout:
		return "timeout"
	case ErrTypeConfig:
		return "config"
	case ErrTypeProtocol:
		return "protocol"
	case ErrTypeUnsupported:
		return "unsupported"
	case ErrTypeInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Severity represents the severity level of an error
type Severity int

const (
	// SeverityLow indicates a minor issue that doesn't affect functionality
	SeverityLow Severity = iota
	// SeverityMedium indicates an issue that may degrade functionality
	SeverityMedium
	// SeverityHigh indicates a serious issue affecting core functionality
	SeverityHigh
	// SeverityCritical indicates a critical failure requiring immediate attention
	SeverityCritical
)

// MonitorError represents a structured error with context and metadata
type MonitorError struct {
	Type       ErrorType
	Severity   Severity
	Message    string
	Cause      error
	Component  string
	Operation  string
	Timestamp  time.Time
	Retryable  bool
	RetryAfter time.Duration
	Context    map[string]interface{}
}

// Error implements the error interface
func (e *MonitorError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Component, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Component, e.Message)
}

func (e *MonitorError) Unwrap() error {
	return e.Cause
}

// Is implements error matching
func (e *MonitorError) Is(target error) bool {
	t, ok := target.(*MonitorError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

func (e *MonitorError) IsRetryable() bool {
	return e.Retryable
}

func (e *MonitorError) GetRetryDelay() time.Duration {
	if e.RetryAfter > 0 {
		return e.RetryAfter
	}
	switch e.Type {
	case ErrTypeNetwork, ErrTypeTimeout:
		return 5 * time.Second
	default:
		return 0
	}
}

// Sentinels for errors.Is comparisons. Only the Type field is compared.
var (
	ErrMalformedTree      = &MonitorError{Type: ErrTypeMalformedTree}
	ErrStructuralMismatch = &MonitorError{Type: ErrTypeStructuralMismatch}
	ErrMissingValue       = &MonitorError{Type: ErrTypeMissingValue}
	ErrUnsupported        = &MonitorError{Type: ErrTypeUnsupported}
)

// ErrorBuilder provides a fluent interface for building errors
type ErrorBuilder struct {
	err *MonitorError
}

// NewError creates a new error builder
func NewError(errType ErrorType, message string) *ErrorBuilder {
	return &ErrorBuilder{
		err: &MonitorError{
			Type:      errType,
			Message:   message,
			Timestamp: time.Now(),
			Severity:  SeverityMedium,
			Context:   make(map[string]interface{}),
			Retryable: isRetryableType(errType),
		},
	}
}

// WithCause adds the underlying cause
func (b *ErrorBuilder) WithCause(cause error) *ErrorBuilder {
	b.err.Cause = cause
	return b
}

// WithComponent sets the component where the error occurred
func (b *ErrorBuilder) WithComponent(component string) *ErrorBuilder {
	b.err.Component = component
	return b
}

// WithOperation sets the operation that failed
func (b *ErrorBuilder) WithOperation(operation string) *ErrorBuilder {
	b.err.Operation = operation
	return b
}

// WithSeverity sets the error severity
func (b *ErrorBuilder) WithSeverity(severity Severity) *ErrorBuilder {
	b.err.Severity = severity
	return b
}

// WithRetryable explicitly sets whether the error is retryable
func (b *ErrorBuilder) WithRetryable(retryable bool) *ErrorBuilder {
	b.err.Retryable = retryable
	return b
}

func (b *ErrorBuilder) WithContext(key string, value interface{}) *ErrorBuilder {
	b.err.Context[key] = value
	return b
}

func (b *ErrorBuilder) Build() *MonitorError {
	return b.err
}

func isRetryableType(errType ErrorType) bool {
	switch errType {
	case ErrTypeNetwork, ErrTypeTimeout:
		return true
	default:
		return false
	}
}

// Common error constructors

// MalformedTree creates an error for a tree that breaks duplicate-name,
// null-mixing, level-count or wanted-level rules.
func MalformedTree(message string, path string) *MonitorError {
	return NewError(ErrTypeMalformedTree, message).
		WithComponent("counters").
		WithContext("path", path).
		WithSeverity(SeverityHigh).
		Build()
}

// StructuralMismatch creates an error for a snapshot whose shape differs
// from the wanted tree. The source should be rediscovered.
func StructuralMismatch(message string) *MonitorError {
	return NewError(ErrTypeStructuralMismatch, message).
		WithComponent("counters").
		WithSeverity(SeverityHigh).
		Build()
}

// MissingValue creates an error describing a leaf absent from a values tree.
func MissingValue(path string) *MonitorError {
	return NewError(ErrTypeMissingValue, fmt.Sprintf("counter %s not found in received tree", path)).
		WithComponent("counters").
		WithContext("path", path).
		WithSeverity(SeverityLow).
		Build()
}

// NetworkError creates a network error
func NetworkError(message string, cause error) *MonitorError {
	return NewError(ErrTypeNetwork, message).
		WithCause(cause).
		WithComponent("network").
		Build()
}

// TimeoutError creates a timeout error
func TimeoutError(operation string, timeout time.Duration) *MonitorError {
	return NewError(ErrTypeTimeout, fmt.Sprintf("operation timed out after %v", timeout)).
		WithOperation(operation).
		WithComponent("network").
		WithContext("timeout", timeout).
		Build()
}

// ConfigError creates a configuration error
func ConfigError(message string, field string) *MonitorError {
	return NewError(ErrTypeConfig, message).
		WithComponent("config").
		WithContext("field", field).
		WithSeverity(SeverityCritical).
		Build()
}

// ProtocolError creates an error for a malformed response from a source.
func ProtocolError(source string, message string, cause error) *MonitorError {
	return NewError(ErrTypeProtocol, message).
		WithCause(cause).
		WithComponent(source).
		Build()
}

// UnsupportedError creates an error for a feature missing on this platform.
func UnsupportedError(component string, message string) *MonitorError {
	return NewError(ErrTypeUnsupported, message).
		WithComponent(component).
		WithSeverity(SeverityLow).
		Build()
}

// InternalError creates an internal error
func InternalError(message string, cause error) *MonitorError {
	return NewError(ErrTypeInternal, message).
		WithCause(cause).
		WithComponent("internal").
		WithSeverity(SeverityHigh).
		Build()
}

// Error helpers

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var monErr *MonitorError
	if errors.As(err, &monErr) {
		return monErr.IsRetryable()
	}
	return false
}

func GetRetryDelay(err error) time.Duration {
	var monErr *MonitorError
	if errors.As(err, &monErr) {
		return monErr.GetRetryDelay()
	}
	return 0
}

func GetErrorType(err error) ErrorType {
	var monErr *MonitorError
	if errors.As(err, &monErr) {
		return monErr.Type
	}
	return ErrTypeUnknown
}

func GetSeverity(err error) Severity {
	var monErr *MonitorError
	if errors.As(err, &monErr) {
		return monErr.Severity
	}
	return SeverityMedium
}

// IsMalformedTree reports whether err is a MalformedTree error.
func IsMalformedTree(err error) bool {
	return errors.Is(err, ErrMalformedTree)
}

// IsStructuralMismatch reports whether err is a StructuralMismatch error.
func IsStructuralMismatch(err error) bool {
	return errors.Is(err, ErrStructuralMismatch)
}

// WrapError wraps an existing error with monitor error metadata
func WrapError(err error, errType ErrorType, component string) *MonitorError {
	if err == nil {
		return nil
	}

	var monErr *MonitorError
	if errors.As(err, &monErr) {
		return NewError(errType, monErr.Message).
			WithCause(err).
			WithComponent(component).
			WithSeverity(monErr.Severity).
			Build()
	}

	return NewError(errType, err.Error()).
		WithCause(err).
		WithComponent(component).
		Build()
}
