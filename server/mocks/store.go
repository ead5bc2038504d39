package mocks

import (
	"context"

	"github.com/teilomillet/colloquy/server/dialogue"
)

// MockStore implements dialogue.Store with overridable functions. Unset
// functions delegate to Fallback when it is set.
type MockStore struct {
	InsertFunc   func(ctx context.Context, rec dialogue.Record) (dialogue.Record, error)
	FetchAllFunc func(ctx context.Context, email string) ([]dialogue.Record, error)
	Fallback     dialogue.Store
}

var _ dialogue.Store = (*MockStore)(nil)

// FailingStore returns a store where every call fails with err.
func FailingStore(err error) *MockStore {
	return &MockStore{
		InsertFunc: func(context.Context, dialogue.Record) (dialogue.Record, error) {
			return dialogue.Record{}, err
		},
		FetchAllFunc: func(context.Context, string) ([]dialogue.Record, error) {
			return nil, err
		},
	}
}

func (m *MockStore) Insert(ctx context.Context, rec dialogue.Record) (dialogue.Record, error) {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, rec)
	}
	if m.Fallback != nil {
		return m.Fallback.Insert(ctx, rec)
	}
	return rec, nil
}

func (m *MockStore) FetchAll(ctx context.Context, email string) ([]dialogue.Record, error) {
	if m.FetchAllFunc != nil {
		return m.FetchAllFunc(ctx, email)
	}
	if m.Fallback != nil {
		return m.Fallback.FetchAll(ctx, email)
	}
	return []dialogue.Record{}, nil
}
