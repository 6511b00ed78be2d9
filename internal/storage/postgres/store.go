// Package postgres persists state records in PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dsamentor/mentor/internal/background"
	"github.com/dsamentor/mentor/internal/domain"
	"github.com/dsamentor/mentor/internal/storage"
	"github.com/dsamentor/mentor/internal/storage/migrations"
)

var _ background.StateStore = (*StateStore)(nil)

// StateStore implements background.StateStore using PostgreSQL
type StateStore struct {
	pool   *pgxpool.Pool
	policy domain.Policy
}

// Open connects to PostgreSQL and applies pending migrations
func Open(ctx context.Context, dsn string, policy domain.Policy) (*StateStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := NewStateStore(pool, policy)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewStateStore wraps an existing pool
func NewStateStore(pool *pgxpool.Pool, policy domain.Policy) *StateStore {
	return &StateStore{pool: pool, policy: policy}
}

// Migrate applies the embedded migrations not yet recorded
func (s *StateStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	list, err := migrations.List()
	if err != nil {
		return err
	}

	for _, m := range list {
		if m.Version <= current {
			continue
		}
		if err := s.apply(ctx, m); err != nil {
			return err
		}
		slog.Info("applied migration", "name", m.Name, "version", m.Version, "driver", "postgres")
	}
	return nil
}

func (s *StateStore) apply(ctx context.Context, m migrations.Migration) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx for migration %s: %w", m.Name, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, m.SQL); err != nil {
		return fmt.Errorf("apply migration %s: %w", m.Name, err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING`, m.Version); err != nil {
		return fmt.Errorf("record migration %s: %w", m.Name, err)
	}
	return tx.Commit(ctx)
}

// Load reads both records; an empty table is domain.ErrNotFound
func (s *StateStore) Load(ctx context.Context) (domain.Snapshot, error) {
	records := make(map[string][]byte)
	for _, name := range []string{storage.RecordEffort, storage.RecordApp} {
		var payload string
		err := s.pool.QueryRow(ctx, `SELECT payload FROM state_records WHERE name = $1`, name).Scan(&payload)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("load %s: %w", name, err)
		}
		records[name] = []byte(payload)
	}
	return storage.DecodeSnapshot(records, s.policy)
}

// Save upserts both records in one transaction
func (s *StateStore) Save(ctx context.Context, snap domain.Snapshot) error {
	records, err := storage.EncodeSnapshot(snap)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	for _, name := range []string{storage.RecordEffort, storage.RecordApp} {
		_, err := tx.Exec(ctx, `
			INSERT INTO state_records (name, payload, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (name) DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at
		`, name, string(records[name]), now)
		if err != nil {
			return fmt.Errorf("upsert %s: %w", name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit state: %w", err)
	}
	return nil
}

// Close releases the pool
func (s *StateStore) Close() error {
	s.pool.Close()
	return nil
}
