package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bridgeRelay/internal/model"
)

// Store provides Postgres persistence for the checkpoint and dedup ledger.
type Store struct {
	pool *pgxpool.Pool
	name string
}

// NewStore connects to Postgres and ensures the relay tables exist. The
// pipeline name keys the checkpoint row so independent pipelines can share
// one database.
func NewStore(ctx context.Context, dsn string, pipelineName string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	if pipelineName == "" {
		return nil, fmt.Errorf("pipeline name is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	s := &Store{pool: pool, name: pipelineName}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS relay_checkpoint (
			pipeline TEXT PRIMARY KEY,
			last_processed_block BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure relay_checkpoint: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS relay_ledger (
			pipeline TEXT NOT NULL,
			identity TEXT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (pipeline, identity)
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure relay_ledger: %w", err)
	}
	return nil
}

func (s *Store) LoadCheckpoint(ctx context.Context) (uint64, bool, error) {
	var height int64
	err := s.pool.QueryRow(ctx, `
		SELECT last_processed_block FROM relay_checkpoint WHERE pipeline = $1
	`, s.name).Scan(&height)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("load checkpoint: %w", err)
	}
	return uint64(height), true, nil
}

func (s *Store) SaveCheckpoint(ctx context.Context, height uint64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO relay_checkpoint (pipeline, last_processed_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (pipeline)
		DO UPDATE SET
			last_processed_block = EXCLUDED.last_processed_block,
			updated_at = now()
	`, s.name, int64(height))
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (s *Store) HasSubmitted(ctx context.Context, id model.EventIdentity) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM relay_ledger WHERE pipeline = $1 AND identity = $2
		)
	`, s.name, id.String()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query ledger: %w", err)
	}
	return exists, nil
}

func (s *Store) RecordSubmitted(ctx context.Context, id model.EventIdentity) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO relay_ledger (pipeline, identity)
		VALUES ($1, $2)
		ON CONFLICT (pipeline, identity) DO NOTHING
	`, s.name, id.String())
	if err != nil {
		return fmt.Errorf("record ledger entry: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
