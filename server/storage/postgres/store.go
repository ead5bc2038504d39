// Package postgres is the PostgreSQL dialogue store, built on a pgxpool.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/teilomillet/colloquy/config"
	"github.com/teilomillet/colloquy/server/dialogue"
	"go.uber.org/zap"
)

// Store persists dialogues in the chat_dialogue table.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	slow   time.Duration
}

var _ dialogue.Store = (*Store)(nil)

var newPool = pgxpool.NewWithConfig

// Open connects a pool for cfg. poolCfgMut, when non-nil, may adjust the
// pool configuration before the pool is created.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger, poolCfgMut func(*pgxpool.Config)) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse store url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if poolCfgMut != nil {
		poolCfgMut(pcfg)
	}
	pool, err := newPool(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("open store pool: %w", err)
	}
	return &Store{
		pool:   pool,
		logger: logger.Named("postgres"),
		slow:   time.Duration(cfg.SlowMs) * time.Millisecond,
	}, nil
}

// Migrate creates the table and index when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("%w: migrate: %w", dialogue.ErrStorage, err)
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", dialogue.ErrStorage, err)
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// Insert writes rec. A zero CreatedAt takes the database's now().
func (s *Store) Insert(ctx context.Context, rec dialogue.Record) (dialogue.Record, error) {
	if rec.Instruction == "" || rec.Question == "" || rec.Email == "" {
		return dialogue.Record{}, fmt.Errorf("%w: instruction, question and email are required", dialogue.ErrStorage)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Origin == "" {
		rec.Origin = dialogue.OriginModel
	}
	var createdAt *time.Time
	if !rec.CreatedAt.IsZero() {
		createdAt = &rec.CreatedAt
	}

	start := time.Now()
	err := s.pool.QueryRow(ctx, insertDialogue,
		rec.ID, rec.Instruction, rec.Question, rec.Response, string(rec.Origin), createdAt, rec.Email,
	).Scan(&rec.CreatedAt)
	s.trace(insertDialogue, start, err)
	if err != nil {
		return dialogue.Record{}, fmt.Errorf("%w: insert: %w", dialogue.ErrStorage, err)
	}
	return rec, nil
}

// FetchAll returns the dialogues of email ordered by creation time, ties
// broken by insertion order.
func (s *Store) FetchAll(ctx context.Context, email string) ([]dialogue.Record, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, selectByEmail, email)
	if err != nil {
		s.trace(selectByEmail, start, err)
		return nil, fmt.Errorf("%w: fetch: %w", dialogue.ErrStorage, err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (dialogue.Record, error) {
		var rec dialogue.Record
		var origin string
		err := row.Scan(&rec.ID, &rec.Instruction, &rec.Question, &rec.Response, &origin, &rec.CreatedAt, &rec.Email)
		rec.Origin = dialogue.Origin(origin)
		return rec, err
	})
	s.trace(selectByEmail, start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch: %w", dialogue.ErrStorage, err)
	}
	if records == nil {
		records = []dialogue.Record{}
	}
	return records, nil
}

// trace logs every query at debug and slow or failed ones at warn.
func (s *Store) trace(sql string, start time.Time, err error) {
	elapsed := time.Since(start)
	slow := s.slow > 0 && elapsed >= s.slow
	fields := []zap.Field{
		zap.String("sql", compact(sql)),
		zap.Duration("elapsed", elapsed),
		zap.Bool("slow", slow),
	}
	if err != nil {
		s.logger.Warn("pg query failed", append(fields, zap.Error(err))...)
		return
	}
	if slow {
		s.logger.Warn("pg query", fields...)
		return
	}
	s.logger.Debug("pg query", fields...)
}

func compact(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}
