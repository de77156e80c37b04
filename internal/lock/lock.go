// Package lock serializes uploads that target the same database name.
package lock

import "context"

// Release gives a lock back. It is safe to call more than once.
type Release func() error

// Locker hands out exclusive locks keyed by an arbitrary string.
type Locker interface {
	// Acquire blocks until the lock for key is held or ctx is done.
	Acquire(ctx context.Context, key string) (Release, error)
}
