package validation

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer defines the interface for token counting
type Tokenizer interface {
	CountTokens(text string) int
}

// tiktokenWrapper wraps tiktoken to implement our Tokenizer interface
type tiktokenWrapper struct {
	*tiktoken.Tiktoken
}

func (t *tiktokenWrapper) CountTokens(text string) int {
	return len(t.Encode(text, nil, nil))
}

// QueryRequest is the body of a dialogue submission. Form bodies use the
// same field names as the JSON tags.
type QueryRequest struct {
	Instruction string `json:"instruction" validate:"required"`
	Question    string `json:"question" validate:"required"`
}

// TokenCounter handles token counting for queries using tiktoken
type TokenCounter struct {
	encoding Tokenizer
}

// NewTokenCounter creates a new token counter for the specified model
func NewTokenCounter(model string) (*TokenCounter, error) {
	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, fmt.Errorf("failed to get encoding for model %s: %v", model, err)
	}
	return &TokenCounter{encoding: &tiktokenWrapper{encoding}}, nil
}

// NewTokenCounterWith uses an arbitrary tokenizer.
func NewTokenCounterWith(t Tokenizer) *TokenCounter {
	return &TokenCounter{encoding: t}
}

// CountRequestTokens counts the tokens of both messages sent upstream.
func (tc *TokenCounter) CountRequestTokens(req QueryRequest) int {
	return tc.encoding.CountTokens(req.Instruction) + tc.encoding.CountTokens(req.Question)
}

// ValidateTokens checks if the request's token count is within limits
func (tc *TokenCounter) ValidateTokens(req QueryRequest, maxTokens int) error {
	if maxTokens <= 0 {
		return fmt.Errorf("invalid max_tokens: must be greater than 0")
	}
	total := tc.CountRequestTokens(req)
	if total > maxTokens {
		return fmt.Errorf("total tokens (%d) exceeds limit (%d)", total, maxTokens)
	}
	return nil
}
