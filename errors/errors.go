// Package errors provides the error handling used by the Colloquy HTTP
// surface. It includes structured error types, JSON response formatting,
// request ID tracking and integrated logging with Uber's zap logger.
//
// Completion failures never reach this package: the dialogue service absorbs
// them. What arrives here are validation problems rejected at the entry
// boundary, storage failures the service refused to mask, and panics.
//
// Errors are built with the constructors in types.go and written with
// WriteError:
//
//	err := errors.NewValidationError(requestID, "Invalid input", map[string]interface{}{
//	    "field": "question",
//	    "error": "required",
//	})
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// DefaultLogger is the default zap logger instance used throughout the package.
// It is initialized to a production configuration but can be overridden using SetLogger.
var DefaultLogger *zap.Logger

func init() {
	var err error
	DefaultLogger, err = zap.NewProduction()
	if err != nil {
		DefaultLogger = zap.NewNop()
	}
}

// SetLogger allows setting a custom zap logger instance.
// If nil is provided, the function will do nothing to prevent
// accidentally disabling logging.
func SetLogger(logger *zap.Logger) {
	if logger != nil {
		DefaultLogger = logger
	}
}

// ErrorType represents different categories of errors that can occur
// in Colloquy. Each type corresponds to a specific kind of error scenario
// and carries an appropriate HTTP status code.
type ErrorType string

const (
	// ValidationError represents input validation failures
	ValidationError ErrorType = "validation_error"

	// InternalError represents unexpected internal server errors
	InternalError ErrorType = "internal_error"

	// StorageError represents a dialogue that could not be durably recorded or read back
	StorageError ErrorType = "storage_error"

	// RateLimitError represents rate limiting errors
	RateLimitError ErrorType = "rate_limit_error"

	// BadRequestError represents invalid request format or parameters
	BadRequestError ErrorType = "bad_request"

	// NotFoundError represents requests for routes that do not exist
	NotFoundError ErrorType = "not_found"
)

// ColloquyError implements the error interface and carries the context
// needed to render it as a JSON API response. The wrapped error is kept
// for logging and errors.Is/As chains but never serialized.
type ColloquyError struct {
	// Type categorizes the error for client handling
	Type ErrorType `json:"type"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Code is the HTTP status code (not exposed in JSON)
	Code int `json:"-"`

	// RequestID links the error to a specific request
	RequestID string `json:"request_id"`

	// Details contains additional error context
	Details map[string]interface{} `json:"details,omitempty"`

	// err is the underlying error (not exposed in JSON)
	err error
}

// Error implements the error interface. It returns a string that
// combines the error type, message, and underlying error (if any).
func (e *ColloquyError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error, implementing the unwrap
// interface for error chains.
func (e *ColloquyError) Unwrap() error {
	return e.err
}

// Is implements error matching for errors.Is, allowing type-based
// error matching while ignoring other fields.
func (e *ColloquyError) Is(target error) bool {
	t, ok := target.(*ColloquyError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WriteError formats and writes a ColloquyError to an http.ResponseWriter.
// It sets the appropriate content type and status code, then writes
// the error as a JSON response.
func WriteError(w http.ResponseWriter, err *ColloquyError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Code)
	json.NewEncoder(w).Encode(err.Response())
}
