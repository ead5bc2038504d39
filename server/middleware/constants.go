package middleware

import "context"

type contextKey string

const RequestIDKey contextKey = "request_id"

// RequestIDFromContext returns the ID set by RequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}
