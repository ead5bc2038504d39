package errors

import (
	"net/http"
)

// NewError creates a new ColloquyError with the given parameters.
// It is a general-purpose constructor that allows full control over
// the error's fields. For most cases, you should use one of the
// specialized constructors below.
//
// Example:
//
//	err := NewError(InternalError, "encoding failed", 500, "req_123", nil, encErr)
func NewError(errType ErrorType, message string, code int, requestID string, details map[string]interface{}, err error) *ColloquyError {
	return &ColloquyError{
		Type:      errType,
		Message:   message,
		Code:      code,
		RequestID: requestID,
		Details:   details,
		err:       err,
	}
}

// NewValidationError creates a validation error with appropriate defaults.
// Use this for any request validation failures, such as:
//   - Invalid input formats
//   - Missing required fields
//   - Value constraint violations
//
// Example:
//
//	err := NewValidationError("req_123", "Invalid query", map[string]interface{}{
//	    "field": "question",
//	    "error": "must not be empty",
//	})
func NewValidationError(requestID, message string, validationDetails map[string]interface{}) *ColloquyError {
	return &ColloquyError{
		Type:      ValidationError,
		Message:   message,
		Code:      http.StatusBadRequest,
		RequestID: requestID,
		Details:   validationDetails,
	}
}

// NewRateLimitError creates a rate limit error with appropriate defaults.
//
// Example:
//
//	err := NewRateLimitError("req_123", 30)
func NewRateLimitError(requestID string, retryAfter int) *ColloquyError {
	return &ColloquyError{
		Type:      RateLimitError,
		Message:   "Rate limit exceeded",
		Code:      http.StatusTooManyRequests,
		RequestID: requestID,
		Details: map[string]interface{}{
			"retry_after": retryAfter,
		},
	}
}

// NewStorageError reports that a dialogue could not be written or read.
// The message is shown to the caller, so it should say which operation
// failed; the underlying error is kept for logs only.
//
// Example:
//
//	err := NewStorageError("req_123", "Error processing request: "+err.Error(), err)
func NewStorageError(requestID, message string, err error) *ColloquyError {
	return &ColloquyError{
		Type:      StorageError,
		Message:   message,
		Code:      http.StatusInternalServerError,
		RequestID: requestID,
		err:       err,
	}
}

// NewInternalError creates an internal server error with appropriate defaults.
// Use this for unexpected errors that are not covered by other error types:
//   - Panics
//   - Response encoding failures
//   - Unexpected system failures
//
// Example:
//
//	err := NewInternalError("req_123", encErr)
func NewInternalError(requestID string, err error) *ColloquyError {
	return &ColloquyError{
		Type:      InternalError,
		Message:   "An internal error occurred",
		Code:      http.StatusInternalServerError,
		RequestID: requestID,
		err:       err,
	}
}

// NewNotFoundError reports a request for a route that does not exist.
func NewNotFoundError(requestID, path string) *ColloquyError {
	return &ColloquyError{
		Type:      NotFoundError,
		Message:   "No route for " + path,
		Code:      http.StatusNotFound,
		RequestID: requestID,
	}
}
