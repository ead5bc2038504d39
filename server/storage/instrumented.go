// Package storage holds what dialogue stores share. The backends live in
// the memory and postgres subpackages.
package storage

import (
	"context"
	"time"

	"github.com/teilomillet/colloquy/server/dialogue"
	"github.com/teilomillet/colloquy/server/metrics"
)

// Instrumented wraps a store and records operation counts and latency.
type Instrumented struct {
	next    dialogue.Store
	metrics *metrics.Metrics
}

var _ dialogue.Store = (*Instrumented)(nil)

// Instrument returns next wrapped with metrics. A nil m returns next as is.
func Instrument(next dialogue.Store, m *metrics.Metrics) dialogue.Store {
	if m == nil {
		return next
	}
	return &Instrumented{next: next, metrics: m}
}

func (s *Instrumented) Insert(ctx context.Context, rec dialogue.Record) (dialogue.Record, error) {
	start := time.Now()
	saved, err := s.next.Insert(ctx, rec)
	s.observe("insert", start, err)
	return saved, err
}

func (s *Instrumented) FetchAll(ctx context.Context, email string) ([]dialogue.Record, error) {
	start := time.Now()
	records, err := s.next.FetchAll(ctx, email)
	s.observe("fetch_all", start, err)
	return records, err
}

func (s *Instrumented) observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.StoreOperations.WithLabelValues(op, status).Inc()
	s.metrics.StoreDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
