// Package uow implements the caller-managed unit-of-work a lease transport
// reacts to. A unit ends exactly once, either committed or aborted, and runs
// the hooks registered for that outcome.
package uow

import (
	"context"
	"errors"
	"sync"
)

// ErrCompleted is returned by Commit on a unit that already ended.
var ErrCompleted = errors.New("unit of work already completed")

// Hook runs when a unit of work ends.
type Hook func(ctx context.Context) error

type state int

const (
	stateOpen state = iota
	stateCommitted
	stateAborted
)

// UnitOfWork collects commit and abort hooks plus per-unit items such as
// the outbound message buffer.
type UnitOfWork struct {
	mu        sync.Mutex
	state     state
	committed []Hook
	aborted   []Hook
	items     map[string]any
}

func New() *UnitOfWork {
	return &UnitOfWork{items: make(map[string]any)}
}

// OnCommitted registers h to run on Commit. Hooks run in registration order.
// Registering on a completed unit is a no-op.
func (u *UnitOfWork) OnCommitted(h Hook) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state == stateOpen {
		u.committed = append(u.committed, h)
	}
}

// OnAborted registers h to run on Abort.
func (u *UnitOfWork) OnAborted(h Hook) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state == stateOpen {
		u.aborted = append(u.aborted, h)
	}
}

// GetOrAdd returns the item stored under key, creating it with factory when
// absent. added reports whether factory ran. factory must not call back
// into the unit.
func (u *UnitOfWork) GetOrAdd(key string, factory func() any) (v any, added bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if v, ok := u.items[key]; ok {
		return v, false
	}
	v = factory()
	u.items[key] = v
	return v, true
}

// Done reports whether the unit has been committed or aborted.
func (u *UnitOfWork) Done() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state != stateOpen
}

// Commit ends the unit and runs the commit hooks, stopping at the first
// failing hook. Abort hooks never run after Commit, even when it fails.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	u.mu.Lock()
	if u.state != stateOpen {
		u.mu.Unlock()
		return ErrCompleted
	}
	u.state = stateCommitted
	hooks := u.committed
	u.committed, u.aborted = nil, nil
	u.mu.Unlock()

	for _, h := range hooks {
		if err := h(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Abort ends the unit and runs every abort hook. Calling Abort on a unit
// that already ended does nothing.
func (u *UnitOfWork) Abort(ctx context.Context) error {
	u.mu.Lock()
	if u.state != stateOpen {
		u.mu.Unlock()
		return nil
	}
	u.state = stateAborted
	hooks := u.aborted
	u.committed, u.aborted = nil, nil
	u.mu.Unlock()

	var errs []error
	for _, h := range hooks {
		if err := h(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Complete commits when result is nil and aborts otherwise.
func (u *UnitOfWork) Complete(ctx context.Context, result error) error {
	if result == nil {
		return u.Commit(ctx)
	}
	return u.Abort(ctx)
}
