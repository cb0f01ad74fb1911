// Package errors provides the typed failure taxonomy for the guardkit runtime.
// Every error the runtime surfaces carries a machine-readable code, an HTTP
// status recommendation, and a retryable flag so callers can decide
// user-facing behavior without string matching.
package errors

import (
	"fmt"
	"net/http"
	"time"
)

// AppError is the unified error type surfaced by guardkit components.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// HTTPStatus is the recommended HTTP status code for this error.
	HTTPStatus int `json:"-"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError with automatic retryable detection.
func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Retryable:  IsRetryableCode(code),
	}
}

// --- Cache error constructors ---

// InvalidKey creates a new AppError for an empty or unusable cache key.
func InvalidKey(reason string) *AppError {
	return &AppError{
		Code: ErrCodeInvalidKey, Message: fmt.Sprintf("Invalid cache key: %s", reason),
		HTTPStatus: http.StatusBadRequest, Retryable: false,
	}
}

// InvalidTTL creates a new AppError for a TTL outside the permitted range.
func InvalidTTL(ttlSeconds, maxSeconds int64) *AppError {
	return &AppError{
		Code: ErrCodeInvalidTTL, Message: fmt.Sprintf("TTL must be between 0 and %d seconds, got %d", maxSeconds, ttlSeconds),
		HTTPStatus: http.StatusBadRequest, Retryable: false,
		Details: map[string]any{"ttl_seconds": ttlSeconds, "max_seconds": maxSeconds},
	}
}

// SerializationFailed creates a new AppError for a value that could not be
// encoded or decoded.
func SerializationFailed(key string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeSerialization, Message: fmt.Sprintf("Value for key %q could not be serialized.", key),
		HTTPStatus: http.StatusUnprocessableEntity, Retryable: false,
		Details: map[string]any{"key": key}, Cause: cause,
	}
}

// --- Resilience error constructors ---

// CircuitOpen creates a new AppError for a call rejected by an open breaker.
func CircuitOpen(name string, nextAttemptAt time.Time) *AppError {
	return &AppError{
		Code: ErrCodeCircuitOpen, Message: fmt.Sprintf("Circuit breaker %q is open.", name),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true,
		Details: map[string]any{"breaker": name, "next_attempt_at": nextAttemptAt},
	}
}

// Timeout creates a new AppError for an operation that exceeded its deadline.
func Timeout(operation string, limit time.Duration) *AppError {
	return &AppError{
		Code: ErrCodeTimeout, Message: fmt.Sprintf("Operation %q timed out after %s.", operation, limit),
		HTTPStatus: http.StatusGatewayTimeout, Retryable: true,
		Details: map[string]any{"operation": operation, "timeout": limit.String()},
	}
}

// OperationFailed wraps the underlying operation's failure after retries are
// exhausted.
func OperationFailed(operation string, attempts int, cause error) *AppError {
	return &AppError{
		Code: ErrCodeOperation, Message: fmt.Sprintf("Operation %q failed after %d attempt(s).", operation, attempts),
		HTTPStatus: http.StatusBadGateway, Retryable: true,
		Details: map[string]any{"operation": operation, "attempts": attempts}, Cause: cause,
	}
}

// RateLimited creates a new AppError for too many requests.
func RateLimited(retryAfter time.Duration) *AppError {
	return &AppError{
		Code: ErrCodeRateLimited, Message: "Too many requests. Please wait a moment and try again.",
		HTTPStatus: http.StatusTooManyRequests, Retryable: true,
		Details: map[string]any{"retry_after": retryAfter.String()},
	}
}

// Internal creates a new AppError for an unexpected internal fault.
func Internal(cause error) *AppError {
	return &AppError{
		Code: ErrCodeInternal, Message: "An unexpected error occurred.",
		HTTPStatus: http.StatusInternalServerError, Retryable: false, Cause: cause,
	}
}
