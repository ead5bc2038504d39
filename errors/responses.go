package errors

// ErrorResponse is the JSON body written for every ColloquyError.
// Clients decode it to branch on Type and to quote RequestID in reports.
type ErrorResponse struct {
	Type      ErrorType              `json:"type"`
	Message   string                 `json:"message"`
	RequestID string                 `json:"request_id"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Response returns the client-facing view of e. The HTTP code and the
// wrapped error stay server side.
func (e *ColloquyError) Response() ErrorResponse {
	return ErrorResponse{
		Type:      e.Type,
		Message:   e.Message,
		RequestID: e.RequestID,
		Details:   e.Details,
	}
}
