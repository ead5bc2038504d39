// Package mocks provides test doubles for the dialogue ports.
package mocks

import (
	"context"
	"sync"

	"github.com/teilomillet/colloquy/server/dialogue"
)

// Call is one recorded Complete invocation.
type Call struct {
	Instruction string
	Question    string
}

// MockCompleter implements dialogue.Completer for tests.
//
// Example usage:
//
//	c := mocks.NewMockCompleter(func(ctx context.Context, instruction, question string) (string, error) {
//	    return "4", nil
//	})
type MockCompleter struct {
	CompleteFunc func(ctx context.Context, instruction, question string) (string, error)

	mu    sync.Mutex
	calls []Call
}

var _ dialogue.Completer = (*MockCompleter)(nil)

// NewMockCompleter creates a MockCompleter. A nil fn answers with an empty
// string and no error.
func NewMockCompleter(fn func(ctx context.Context, instruction, question string) (string, error)) *MockCompleter {
	return &MockCompleter{CompleteFunc: fn}
}

// Answer returns a completer that always succeeds with text.
func Answer(text string) *MockCompleter {
	return NewMockCompleter(func(context.Context, string, string) (string, error) {
		return text, nil
	})
}

// Fail returns a completer that always fails with err.
func Fail(err error) *MockCompleter {
	return NewMockCompleter(func(context.Context, string, string) (string, error) {
		return "", err
	})
}

// Complete records the call and delegates to CompleteFunc.
func (m *MockCompleter) Complete(ctx context.Context, instruction, question string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Instruction: instruction, Question: question})
	fn := m.CompleteFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, instruction, question)
	}
	return "", nil
}

// Calls returns the recorded invocations.
func (m *MockCompleter) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}
