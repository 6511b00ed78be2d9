package background

import (
	"context"
	"sync"

	"github.com/dsamentor/mentor/internal/domain"
)

type fakeStore struct {
	mu      sync.Mutex
	snap    *domain.Snapshot
	saves   int
	saveErr error
	loadErr error
}

func (f *fakeStore) Load(context.Context) (domain.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return domain.Snapshot{}, f.loadErr
	}
	if f.snap == nil {
		return domain.Snapshot{}, domain.ErrNotFound
	}
	return *f.snap, nil
}

func (f *fakeStore) Save(_ context.Context, s domain.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves++
	f.snap = &s
	return nil
}

func (f *fakeStore) last() domain.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snap == nil {
		return domain.Snapshot{}
	}
	return *f.snap
}

func (f *fakeStore) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (f *fakeNotifier) Notify(_ context.Context, e domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return f.err
}

func (f *fakeNotifier) types() []domain.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.EventType, len(f.events))
	for i, e := range f.events {
		out[i] = e.Type
	}
	return out
}

func (f *fakeNotifier) all() []domain.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Event(nil), f.events...)
}

type fakeRecorder struct {
	mu          sync.Mutex
	activations int
	unlocks     []string
	resets      []string
}

func (f *fakeRecorder) EffortActivated() {
	f.mu.Lock()
	f.activations++
	f.mu.Unlock()
}

func (f *fakeRecorder) EffortUnlocked(trigger string) {
	f.mu.Lock()
	f.unlocks = append(f.unlocks, trigger)
	f.mu.Unlock()
}

func (f *fakeRecorder) StateReset(reason string) {
	f.mu.Lock()
	f.resets = append(f.resets, reason)
	f.mu.Unlock()
}
