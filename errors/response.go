package errors

import (
	stderrors "errors"
)

// ErrorResponse is the JSON structure returned to clients following RFC 7807.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody contains the error details sent to clients.
type ErrorBody struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Retryable bool                   `json:"retryable"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// ToResponse converts an AppError to an ErrorResponse for JSON serialization.
func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:      e.Code,
			Message:   e.Message,
			Retryable: e.Retryable,
			Details:   e.Details,
		},
	}
}

// AsAppError converts an error to an AppError if possible.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether any AppError in err's chain carries the given
// code. The chain is walked fully so a wrapped cause stays inspectable.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		if appErr, ok := err.(*AppError); ok && appErr.Code == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// IsCircuitOpen reports whether err signals an open circuit breaker.
func IsCircuitOpen(err error) bool { return HasCode(err, ErrCodeCircuitOpen) }

// IsTimeout reports whether err signals a deadline expiry.
func IsTimeout(err error) bool { return HasCode(err, ErrCodeTimeout) }

// IsInvalidKey reports whether err signals a rejected cache key.
func IsInvalidKey(err error) bool { return HasCode(err, ErrCodeInvalidKey) }

// IsInvalidTTL reports whether err signals a TTL out of range.
func IsInvalidTTL(err error) bool { return HasCode(err, ErrCodeInvalidTTL) }

// IsSerialization reports whether err signals an encode/decode failure.
func IsSerialization(err error) bool { return HasCode(err, ErrCodeSerialization) }

// IsOperation reports whether err wraps an exhausted operation failure.
func IsOperation(err error) bool { return HasCode(err, ErrCodeOperation) }
