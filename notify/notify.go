// Package notify carries the wake-up signal that tells an idle claim loop
// new work may be available.
//
// A [Signal] is a local, coalescing channel: any number of Notify calls
// between two receives collapse into one wake-up. Signals are hints only;
// the claim loop also polls, so a lost notification delays work by at
// most one poll interval. The notify/redis sub-package bridges a Signal
// across processes.
package notify

import (
	"context"
	"errors"
)

// Notifier announces that new work may be available.
type Notifier interface {
	Notify(ctx context.Context) error
}

// Ensure Signal implements Notifier at compile time.
var _ Notifier = (*Signal)(nil)

// Signal is a coalescing in-process wake-up channel.
type Signal struct {
	ch chan struct{}
}

// NewSignal returns a ready Signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Notify queues a wake-up unless one is already pending. It never blocks.
func (s *Signal) Notify(context.Context) error {
	select {
	case s.ch <- struct{}{}:
	default:
	}
	return nil
}

// C returns the channel a waiter receives wake-ups on.
func (s *Signal) C() <-chan struct{} { return s.ch }

// Multi fans a notification out to several notifiers. Every notifier is
// called; the errors are joined.
type Multi []Notifier

// Notify calls every notifier in order.
func (m Multi) Notify(ctx context.Context) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
