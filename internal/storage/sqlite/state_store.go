package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/dsamentor/mentor/internal/domain"
	"github.com/dsamentor/mentor/internal/storage"
)

// StateStore persists the state records in the state_records table
type StateStore struct {
	db     *DB
	policy domain.Policy
}

// NewStateStore creates a SQLite-backed state store. The database must be migrated.
func NewStateStore(db *DB, policy domain.Policy) *StateStore {
	return &StateStore{db: db, policy: policy}
}

// Load reads both records; an empty table is domain.ErrNotFound
func (s *StateStore) Load(ctx context.Context) (domain.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, payload FROM state_records WHERE name IN (?, ?)`,
		storage.RecordEffort, storage.RecordApp)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("query state: %w", err)
	}
	defer rows.Close()

	records := make(map[string][]byte)
	for rows.Next() {
		var name, payload string
		if err := rows.Scan(&name, &payload); err != nil {
			return domain.Snapshot{}, fmt.Errorf("scan state: %w", err)
		}
		records[name] = []byte(payload)
	}
	if err := rows.Err(); err != nil {
		return domain.Snapshot{}, fmt.Errorf("iterate state: %w", err)
	}

	return storage.DecodeSnapshot(records, s.policy)
}

// Save upserts both records in one transaction
func (s *StateStore) Save(ctx context.Context, snap domain.Snapshot) error {
	records, err := storage.EncodeSnapshot(snap)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, name := range []string{storage.RecordEffort, storage.RecordApp} {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO state_records (name, payload, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at
		`, name, string(records[name]), now)
		if err != nil {
			return fmt.Errorf("upsert %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit state: %w", err)
	}
	return nil
}

// Close closes the underlying database
func (s *StateStore) Close() error {
	return s.db.Close()
}
