package domain

import (
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Push notifications
// Fire-and-forget events sent from the background process to front ends.
// -----------------------------------------------------------------------------

// EventType names a push notification
type EventType string

const (
	EventEffortTimerUpdate EventType = "EFFORT_TIMER_UPDATE"
	EventEffortUnlocked    EventType = "EFFORT_UNLOCKED"
	EventRunCountUpdate    EventType = "RUN_COUNT_UPDATE"
)

// Event is a push notification. TimeLeft and RunCount are only set for the
// event types that carry them.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Type      EventType `json:"type"`
	TimeLeft  *int      `json:"timeLeft,omitempty"`
	RunCount  *int      `json:"runCount,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func newEvent(t EventType, at time.Time) Event {
	return Event{ID: uuid.New(), Type: t, Timestamp: at}
}

// NewEffortTimerUpdate reports the remaining effort countdown
func NewEffortTimerUpdate(timeLeft int, at time.Time) Event {
	e := newEvent(EventEffortTimerUpdate, at)
	e.TimeLeft = &timeLeft
	return e
}

// NewEffortUnlocked reports that the gate released
func NewEffortUnlocked(at time.Time) Event {
	return newEvent(EventEffortUnlocked, at)
}

// NewRunCountUpdate reports a counted run signal
func NewRunCountUpdate(runCount int, at time.Time) Event {
	e := newEvent(EventRunCountUpdate, at)
	e.RunCount = &runCount
	return e
}

// ApplyTo folds the event into a cached effort state
func (e Event) ApplyTo(s EffortState, p Policy) EffortState {
	switch e.Type {
	case EventEffortTimerUpdate:
		if e.TimeLeft != nil {
			s.TimeLeft = *e.TimeLeft
		}
	case EventRunCountUpdate:
		if e.RunCount != nil {
			s.RunCount = *e.RunCount
		}
	case EventEffortUnlocked:
		s = DefaultEffortState(p)
	}
	return s
}
