// Package memory is an in-process dialogue store. Records live for the life
// of the process.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/teilomillet/colloquy/server/dialogue"
)

// Store keeps records per email in insertion order.
type Store struct {
	mu      sync.RWMutex
	byEmail map[string][]entry
	seq     uint64
	now     func() time.Time
}

type entry struct {
	seq uint64
	rec dialogue.Record
}

var _ dialogue.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		byEmail: make(map[string][]entry),
		now:     time.Now,
	}
}

// Insert stores rec, assigning an ID when it has none and the current time
// when CreatedAt is zero.
func (s *Store) Insert(ctx context.Context, rec dialogue.Record) (dialogue.Record, error) {
	if err := ctx.Err(); err != nil {
		return dialogue.Record{}, fmt.Errorf("%w: %w", dialogue.ErrStorage, err)
	}
	if rec.Instruction == "" || rec.Question == "" || rec.Email == "" {
		return dialogue.Record{}, fmt.Errorf("%w: instruction, question and email are required", dialogue.ErrStorage)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	if rec.Origin == "" {
		rec.Origin = dialogue.OriginModel
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.byEmail[rec.Email] = append(s.byEmail[rec.Email], entry{seq: s.seq, rec: rec})
	return rec, nil
}

// FetchAll returns the records stored under email, oldest first.
func (s *Store) FetchAll(ctx context.Context, email string) ([]dialogue.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", dialogue.ErrStorage, err)
	}

	s.mu.RLock()
	entries := make([]entry, len(s.byEmail[email]))
	copy(entries, s.byEmail[email])
	s.mu.RUnlock()

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.rec.CreatedAt.Equal(b.rec.CreatedAt) {
			return a.rec.CreatedAt.Before(b.rec.CreatedAt)
		}
		return a.seq < b.seq
	})

	out := make([]dialogue.Record, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.rec)
	}
	return out, nil
}

// Len reports the total number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, entries := range s.byEmail {
		n += len(entries)
	}
	return n
}
