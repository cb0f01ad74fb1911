package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Cache errors
const (
	// ErrCodeInvalidKey indicates a cache key that is empty or otherwise unusable.
	ErrCodeInvalidKey ErrorCode = "INVALID_KEY"
	// ErrCodeInvalidTTL indicates a TTL outside the permitted range.
	ErrCodeInvalidTTL ErrorCode = "INVALID_TTL"
	// ErrCodeSerialization indicates a value that could not be encoded or decoded.
	ErrCodeSerialization ErrorCode = "SERIALIZATION_ERROR"
)

// Resilience errors
const (
	// ErrCodeCircuitOpen indicates the named circuit breaker rejected the call.
	ErrCodeCircuitOpen ErrorCode = "CIRCUIT_OPEN"
	// ErrCodeTimeout indicates the operation exceeded its deadline.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeOperation wraps the underlying operation's failure.
	ErrCodeOperation ErrorCode = "OPERATION_ERROR"
)

// Admission errors (raised by the HTTP layer, never by the limiter itself)
const (
	// ErrCodeRateLimited indicates the client exceeded its request quota.
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"
)

// Internal errors
const (
	// ErrCodeInternal indicates an unexpected internal fault.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeCircuitOpen: true,
	ErrCodeTimeout:     true,
	ErrCodeRateLimited: true,
	ErrCodeOperation:   true,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
