package local

import (
	"context"
	"errors"
	"fmt"

	"github.com/dsamentor/mentor/internal/domain"
	"github.com/dsamentor/mentor/internal/storage"
)

const (
	stateCollection = "state"
	stateID         = "current"
)

// StateStore keeps both state records in a single JSON document
type StateStore struct {
	store  *Store
	policy domain.Policy
}

// NewStateStore wraps a JSON store
func NewStateStore(store *Store, policy domain.Policy) *StateStore {
	return &StateStore{store: store, policy: policy}
}

// Load returns the persisted snapshot or domain.ErrNotFound
func (s *StateStore) Load(ctx context.Context) (domain.Snapshot, error) {
	var snap domain.Snapshot
	if err := s.store.Load(stateCollection, stateID, &snap); err != nil {
		if errors.Is(err, ErrNotFound) {
			return domain.Snapshot{}, domain.ErrNotFound
		}
		return domain.Snapshot{}, fmt.Errorf("load state: %w", err)
	}
	return storage.Normalize(snap, s.policy), nil
}

// Save replaces both records in one rename
func (s *StateStore) Save(ctx context.Context, snap domain.Snapshot) error {
	if err := s.store.Save(stateCollection, stateID, snap); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// Close is a no-op; files are closed after every write
func (s *StateStore) Close() error { return nil }
