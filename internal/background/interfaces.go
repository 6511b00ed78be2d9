package background

import (
	"context"

	"github.com/dsamentor/mentor/internal/domain"
)

// StateStore persists the two state records together.
// Load returns domain.ErrNotFound when nothing has been saved yet.
// The JSON file, SQLite and PostgreSQL stores implement this.
type StateStore interface {
	Load(ctx context.Context) (domain.Snapshot, error)
	Save(ctx context.Context, snap domain.Snapshot) error
}

// Recorder observes effort gate and reset activity
type Recorder interface {
	EffortActivated()
	EffortUnlocked(trigger string)
	StateReset(reason string)
}

type nopRecorder struct{}

func (nopRecorder) EffortActivated()      {}
func (nopRecorder) EffortUnlocked(string) {}
func (nopRecorder) StateReset(string)     {}
