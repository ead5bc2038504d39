// Package dialogue holds the dialogue domain: the query a user submits, the
// record that gets persisted, the view handed back to callers, and the
// service that ties a completion call to the store.
package dialogue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStorage marks failures of the backing store. Callers must never treat
	// a dialogue as recorded when an error wrapping ErrStorage is returned.
	ErrStorage = errors.New("dialogue storage failure")

	// ErrInvalidQuery is returned when the service receives an empty
	// instruction, question or identity. The entry layer is expected to have
	// rejected such input already.
	ErrInvalidQuery = errors.New("invalid dialogue query")
)

// Origin tells whether a stored response came from the model or from the
// fallback text.
type Origin string

const (
	OriginModel    Origin = "model"
	OriginFallback Origin = "fallback"
)

// Query is the validated input of one dialogue.
type Query struct {
	Instruction string
	Question    string
}

// Record is a persisted dialogue. ID is assigned by the Store; CreatedAt is
// set by the Service right before the insert.
type Record struct {
	ID          string
	Instruction string
	Question    string
	Response    string
	Email       string
	CreatedAt   time.Time
	Origin      Origin
}

// View is the read-only projection of a Record returned to callers.
type View struct {
	Instruction string    `json:"instruction"`
	Question    string    `json:"question"`
	Response    string    `json:"response"`
	CreatedAt   time.Time `json:"createdAt"`
	Email       string    `json:"email"`
}

// View projects the record, dropping the identifier and origin.
func (r Record) View() View {
	return View{
		Instruction: r.Instruction,
		Question:    r.Question,
		Response:    r.Response,
		CreatedAt:   r.CreatedAt,
		Email:       r.Email,
	}
}

// Store persists dialogue records. Implementations must be safe for
// concurrent use and wrap every failure in ErrStorage.
//
// FetchAll matches email exactly and returns records in creation order
// (oldest first, insertion order on ties). No match is an empty slice.
type Store interface {
	Insert(ctx context.Context, rec Record) (Record, error)
	FetchAll(ctx context.Context, email string) ([]Record, error)
}

// Completer produces the completion text for an instruction and question.
type Completer interface {
	Complete(ctx context.Context, instruction, question string) (string, error)
}
