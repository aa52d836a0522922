// Package lock provides keyed mutual exclusion for the booking write path,
// either within one process or across instances through Redis.
package lock

import (
	"context"
	"errors"
)

var ErrNotAcquired = errors.New("lock not acquired")

// Unlock releases a held lock. It is safe to call more than once.
type Unlock func(ctx context.Context) error

// Locker grants exclusive ownership of a key. Lock blocks until the key is
// free or ctx ends, in which case it returns ErrNotAcquired.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}
