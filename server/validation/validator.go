// Package validation rejects malformed dialogue submissions before they
// reach the dialogue service.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/teilomillet/colloquy/config"
)

// ErrorDetail describes one rejected field.
type ErrorDetail struct {
	Field   string `json:"field"`           // The field that failed validation
	Message string `json:"message"`         // Human-readable error message
	Code    string `json:"code"`            // Machine-readable error code
	Value   string `json:"value,omitempty"` // The invalid value (if safe to return)
}

// Error is returned by Validate. It carries every failed field.
type Error struct {
	Message string
	Details []ErrorDetail
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		parts = append(parts, d.Field+": "+d.Message)
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(parts, "; "))
}

// Validator checks QueryRequests. It is safe for concurrent use.
type Validator struct {
	validate  *validator.Validate
	counter   *TokenCounter
	maxTokens int
}

// Option configures a Validator.
type Option func(*Validator)

// WithTokenCounter replaces the tiktoken counter built from config.
func WithTokenCounter(tc *TokenCounter) Option {
	return func(v *Validator) {
		v.counter = tc
	}
}

// New builds a validator. A positive cfg.MaxTokens enables the token budget,
// counted with the tiktoken encoding of cfg.TokenizerModel.
func New(cfg config.ValidationConfig, opts ...Option) (*Validator, error) {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	v := &Validator{validate: validate, maxTokens: cfg.MaxTokens}
	for _, opt := range opts {
		opt(v)
	}
	if v.maxTokens > 0 && v.counter == nil {
		tc, err := NewTokenCounter(cfg.TokenizerModel)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize token counter: %w", err)
		}
		v.counter = tc
	}
	return v, nil
}

// Validate returns nil or an *Error.
func (v *Validator) Validate(req QueryRequest) error {
	if err := v.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return &Error{Message: "Request validation failed", Details: []ErrorDetail{{
				Field: "body", Message: err.Error(), Code: "invalid_request",
			}}}
		}
		details := make([]ErrorDetail, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, ErrorDetail{
				Field:   fe.Field(),
				Message: message(fe),
				Code:    fmt.Sprintf("%s_validation_failed", fe.Tag()),
			})
		}
		return &Error{Message: "Request validation failed", Details: details}
	}

	if v.maxTokens > 0 && v.counter != nil {
		if err := v.counter.ValidateTokens(req, v.maxTokens); err != nil {
			return &Error{Message: "Token limit exceeded", Details: []ErrorDetail{{
				Field:   "request",
				Message: err.Error(),
				Code:    "token_limit_exceeded",
				Value:   fmt.Sprintf("%d", v.maxTokens),
			}}}
		}
	}
	return nil
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required", fe.Field())
	default:
		return fmt.Sprintf("validation failed on '%s'", fe.Tag())
	}
}
