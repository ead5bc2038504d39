// Package pool provides bounded execution pools and the futures their tasks
// resolve. Colloquy runs upstream completion calls and store calls on
// separate pools so slow I/O of one kind can never take the slots of the other.
package pool

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"
)

// ErrPanic wraps a panic recovered from a task.
var ErrPanic = errors.New("task panicked")

// Pool bounds how many tasks run at once.
type Pool struct {
	name   string
	size   int64
	sem    *semaphore.Weighted
	active prometheus.Gauge
}

// Option configures a Pool.
type Option func(*Pool)

// WithActiveGauge reports the number of running tasks on g.
func WithActiveGauge(g prometheus.Gauge) Option {
	return func(p *Pool) {
		p.active = g
	}
}

// New creates a pool running at most size tasks concurrently.
// A size below 1 is treated as 1.
func New(name string, size int64, opts ...Option) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		name: name,
		size: size,
		sem:  semaphore.NewWeighted(size),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the pool name used in errors and metrics.
func (p *Pool) Name() string { return p.name }

// Size returns the maximum number of concurrent tasks.
func (p *Pool) Size() int64 { return p.size }

// Submit schedules fn on p and returns immediately. If ctx ends before a
// slot frees up, the future resolves with the context error and fn never runs.
func Submit[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()
	go execute(ctx, p, f, fn)
	return f
}

// Then waits for f without holding a slot of p, then runs fn on p with f's
// outcome. fn always starts after f has resolved.
func Then[T, U any](ctx context.Context, f *Future[T], p *Pool, fn func(context.Context, T, error) (U, error)) *Future[U] {
	out := newFuture[U]()
	go func() {
		<-f.done
		execute(ctx, p, out, func(ctx context.Context) (U, error) {
			return fn(ctx, f.val, f.err)
		})
	}()
	return out
}

func execute[T any](ctx context.Context, p *Pool, f *Future[T], fn func(context.Context) (T, error)) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		var zero T
		f.resolve(zero, fmt.Errorf("%s pool: %w", p.name, err))
		return
	}
	if p.active != nil {
		p.active.Inc()
	}
	defer func() {
		if p.active != nil {
			p.active.Dec()
		}
		p.sem.Release(1)
	}()

	f.resolve(guard(ctx, p.name, fn))
}

// guard runs fn, converting a panic into an ErrPanic error.
func guard[T any](ctx context.Context, name string, fn func(context.Context) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v, err = zero, fmt.Errorf("%w in %s pool: %v", ErrPanic, name, r)
		}
	}()
	return fn(ctx)
}
