package completion

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind classifies why a completion call produced no usable text.
type Kind int

const (
	// StructuredError means the endpoint answered with an "error" member.
	StructuredError Kind = iota + 1
	// Malformed means the body was JSON but had neither an error nor a
	// usable choices[0].message.content string.
	Malformed
	// Transport covers connection failures, timeouts, unreadable or
	// non-JSON bodies and an open circuit breaker.
	Transport
)

func (k Kind) String() string {
	switch k {
	case StructuredError:
		return "structured_error"
	case Malformed:
		return "malformed"
	case Transport:
		return "transport"
	default:
		return "unknown"
	}
}

// APIError is the decoded "error" member of a response envelope, with
// defaults applied to absent or null fields.
type APIError struct {
	Message string
	Type    string
	Param   string
	Code    string
}

// Format renders the error the way it is logged and surfaced in Failure.
func (e APIError) Format() string {
	return fmt.Sprintf("API Error:\n- Message: %s\n- Type: %s\n- Param: %s\n- Code: %s",
		e.Message, e.Type, e.Param, e.Code)
}

// Failure is returned by Client.Complete for every unsuccessful call.
type Failure struct {
	Kind    Kind
	Message string
	API     *APIError // set for StructuredError
	Raw     string    // response body, when one was read
	Err     error     // underlying cause for Transport
}

func (f *Failure) Error() string {
	if f.Err != nil && f.Message == "" {
		return fmt.Sprintf("completion %s: %v", f.Kind, f.Err)
	}
	return f.Message
}

func (f *Failure) Unwrap() error { return f.Err }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
}

type envelope struct {
	Error   json.RawMessage `json:"error"`
	Choices json.RawMessage `json:"choices"`
}

type choice struct {
	Message struct {
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

// present reports whether raw holds a value other than JSON null.
func present(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed != "" && trimmed != "null"
}

// text renders a scalar error field. Strings are unquoted, other JSON values
// keep their literal form, absent or null fields take def.
func text(raw json.RawMessage, def string) string {
	if !present(raw) {
		return def
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func decodeAPIError(raw json.RawMessage) *APIError {
	var fields struct {
		Message json.RawMessage `json:"message"`
		Type    json.RawMessage `json:"type"`
		Param   json.RawMessage `json:"param"`
		Code    json.RawMessage `json:"code"`
	}
	// A non-object error member still counts as an error; it just has
	// nothing to read, so every field takes its default.
	_ = json.Unmarshal(raw, &fields)
	return &APIError{
		Message: text(fields.Message, "Unknown error"),
		Type:    text(fields.Type, "Unknown type"),
		Param:   text(fields.Param, "None"),
		Code:    text(fields.Code, "Unknown code"),
	}
}

// content extracts choices[0].message.content when it is a JSON string.
func content(raw json.RawMessage) (string, bool) {
	if !present(raw) {
		return "", false
	}
	var choices []choice
	if err := json.Unmarshal(raw, &choices); err != nil || len(choices) == 0 {
		return "", false
	}
	if !present(choices[0].Message.Content) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(choices[0].Message.Content, &s); err != nil {
		return "", false
	}
	return s, true
}
