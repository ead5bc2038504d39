package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teilomillet/colloquy/server/completion"
	"github.com/teilomillet/colloquy/server/metrics"
	"github.com/teilomillet/colloquy/server/pool"
	"go.uber.org/zap"
)

const (
	mockPrefix  = "This is a mock response for the question: "
	errorPrefix = "Error:"
)

// MockResponse is the text stored when no usable completion is available.
func MockResponse(question string) string {
	return mockPrefix + question
}

// Service answers queries through a Completer and records every answered
// dialogue in a Store. Completion calls run on the network pool and store
// calls on the storage pool.
type Service struct {
	completer Completer
	store     Store
	network   *pool.Pool
	storage   *pool.Pool
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the clock used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithMetrics counts fallbacks on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService wires a service. network and storage must be distinct pools
// for the isolation between the two kinds of I/O to hold.
func NewService(completer Completer, store Store, network, storage *pool.Pool, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		completer: completer,
		store:     store,
		network:   network,
		storage:   storage,
		logger:    logger.Named("dialogue"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProcessQuery obtains a response for q and records it under identity. The
// returned future resolves with the stored dialogue once the insert has
// completed. Completion failures are absorbed into the fallback text; only
// storage failures (wrapping ErrStorage) and abandoned requests surface.
//
// ctx only bounds the wait for a network slot. Once the completion call has
// started it runs to the end detached from ctx, and its outcome is recorded.
// A query abandoned before it got a slot is neither sent nor recorded.
func (s *Service) ProcessQuery(ctx context.Context, q Query, identity string) *pool.Future[View] {
	if q.Instruction == "" || q.Question == "" || identity == "" {
		return pool.Resolved(View{}, ErrInvalidQuery)
	}

	started := false
	answer := pool.Submit(ctx, s.network, func(ctx context.Context) (string, error) {
		started = true
		return s.completer.Complete(context.WithoutCancel(ctx), q.Instruction, q.Question)
	})

	return pool.Then(context.WithoutCancel(ctx), answer, s.storage, func(sctx context.Context, text string, err error) (View, error) {
		// started is written before answer resolves and read after.
		if !started {
			return View{}, err
		}

		response, origin := s.resolve(q, text, err)
		saved, err := s.insert(sctx, Record{
			Instruction: q.Instruction,
			Question:    q.Question,
			Response:    response,
			Email:       identity,
			CreatedAt:   s.now(),
			Origin:      origin,
		})
		if err != nil {
			s.logger.Error("failed to store dialogue", zap.String("email", identity), zap.Error(err))
			return View{}, err
		}
		return saved.View(), nil
	})
}

// insert stores rec, reporting any failure of the store, panics included,
// as ErrStorage.
func (s *Service) insert(ctx context.Context, rec Record) (saved Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			saved, err = Record{}, storageError(fmt.Errorf("%w in store insert: %v", pool.ErrPanic, r))
		}
	}()
	saved, err = s.store.Insert(ctx, rec)
	if err != nil {
		return Record{}, storageError(err)
	}
	return saved, nil
}

// History returns every dialogue recorded for identity in store order.
func (s *Service) History(ctx context.Context, identity string) *pool.Future[[]View] {
	return pool.Submit(ctx, s.storage, func(ctx context.Context) ([]View, error) {
		records, err := s.store.FetchAll(ctx, identity)
		if err != nil {
			s.logger.Error("failed to fetch dialogues", zap.String("email", identity), zap.Error(err))
			return nil, storageError(err)
		}
		views := make([]View, 0, len(records))
		for _, rec := range records {
			views = append(views, rec.View())
		}
		return views, nil
	})
}

// Ask is ProcessQuery followed by Await.
func (s *Service) Ask(ctx context.Context, q Query, identity string) (View, error) {
	return s.ProcessQuery(ctx, q, identity).Await(ctx)
}

// Dialogues is History followed by Await.
func (s *Service) Dialogues(ctx context.Context, identity string) ([]View, error) {
	return s.History(ctx, identity).Await(ctx)
}

// resolve picks the text to store for a completion outcome.
func (s *Service) resolve(q Query, text string, err error) (string, Origin) {
	var reason string
	switch {
	case errors.Is(err, pool.ErrPanic):
		reason = "panic"
	case err != nil:
		reason = completion.Outcome(err)
	case strings.HasPrefix(text, errorPrefix):
		reason = "error_text"
	case text == "":
		reason = "empty"
	default:
		return text, OriginModel
	}

	s.logger.Warn("using fallback response",
		zap.String("reason", reason),
		zap.Error(err))
	if s.metrics != nil {
		s.metrics.DialogueFallbacks.WithLabelValues(reason).Inc()
	}
	return MockResponse(q.Question), OriginFallback
}

func storageError(err error) error {
	if errors.Is(err, ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorage, err)
}
