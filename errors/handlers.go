package errors

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"
)

// ErrorHandler wraps an http.Handler and turns panics into JSON internal errors
func ErrorHandler(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					// RequestID middleware mirrors the id onto the response headers
					requestID := w.Header().Get("X-Request-ID")
					stack := debug.Stack()
					logger.Error("panic recovered",
						zap.Any("error", err),
						zap.ByteString("stacktrace", stack),
						zap.String("request_id", requestID),
						zap.String("path", r.URL.Path),
					)

					appErr := NewInternalError(requestID, fmt.Errorf("panic: %v", err))
					WriteError(w, appErr)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// NotFound writes a JSON not_found error for unmatched routes.
func NotFound(w http.ResponseWriter, r *http.Request) {
	WriteError(w, NewNotFoundError(w.Header().Get("X-Request-ID"), r.URL.Path))
}

// MethodNotAllowed writes a JSON bad_request error with status 405.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	WriteError(w, NewError(BadRequestError, "Method "+r.Method+" not allowed for "+r.URL.Path,
		http.StatusMethodNotAllowed, w.Header().Get("X-Request-ID"), nil, nil))
}

// LogError logs an error with its context
func LogError(logger *zap.Logger, err error, requestID string) {
	if appErr, ok := err.(*ColloquyError); ok {
		logger.Error("request error",
			zap.String("error_type", string(appErr.Type)),
			zap.String("message", appErr.Message),
			zap.Int("code", appErr.Code),
			zap.String("request_id", requestID),
			zap.Any("details", appErr.Details),
		)
	} else {
		logger.Error("unexpected error",
			zap.Error(err),
			zap.String("request_id", requestID),
		)
	}
}
