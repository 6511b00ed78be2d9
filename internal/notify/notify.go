// Package notify delivers best-effort push notifications to front ends.
package notify

import (
	"context"
	"errors"

	"github.com/dsamentor/mentor/internal/domain"
)

// ErrNoListeners is returned when nobody is attached to receive an event
var ErrNoListeners = errors.New("no listeners attached")

// Notifier sends a push notification. Delivery is not guaranteed and
// callers must not retry.
type Notifier interface {
	Notify(ctx context.Context, event domain.Event) error
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(ctx context.Context, event domain.Event) error

// Notify calls f
func (f NotifierFunc) Notify(ctx context.Context, event domain.Event) error {
	return f(ctx, event)
}

// Nop discards every event
type Nop struct{}

// Notify always reports that nobody listened
func (Nop) Notify(context.Context, domain.Event) error { return ErrNoListeners }

type multi []Notifier

// Multi fans an event out to every notifier. It succeeds when at least one
// notifier delivered; ErrNoListeners when none had listeners.
func Multi(notifiers ...Notifier) Notifier {
	var m multi
	for _, n := range notifiers {
		if n != nil {
			m = append(m, n)
		}
	}
	return m
}

func (m multi) Notify(ctx context.Context, event domain.Event) error {
	delivered := false
	var errs []error
	for _, n := range m {
		err := n.Notify(ctx, event)
		switch {
		case err == nil:
			delivered = true
		case errors.Is(err, ErrNoListeners):
		default:
			errs = append(errs, err)
		}
	}
	if delivered {
		return nil
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return ErrNoListeners
}
