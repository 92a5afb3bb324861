// Package lock defines the distributed lease abstraction used by tagcache
// to coordinate cache fills across processes.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotAcquired is returned by Acquire when every attempt found the lease
// held by another owner.
var ErrNotAcquired = errors.New("lock: not acquired")

// Options bound a single acquisition.
type Options struct {
	// TTL is the lease duration. The lease self-expires after TTL even
	// if never released.
	TTL time.Duration

	// RetryDelay is the pause between acquisition attempts.
	RetryDelay time.Duration

	// RetryCount is the number of retries after the first attempt, so
	// an acquisition makes at most RetryCount+1 attempts.
	RetryCount int
}

// Lease is a held distributed lock.
type Lease interface {
	// Attempts reports how many acquisition tries were made, including
	// the successful one. Callers rely on Attempts() == 1 meaning "the
	// lease was free on first contact"; implementations must count
	// every round trip that found the lease held.
	Attempts() int

	// Release frees the lease. Releasing a lease that already expired
	// or was taken over is a no-op, not an error.
	Release(ctx context.Context) error
}

// Client acquires named leases. At most one live lease exists per name
// cluster-wide; enforcing that is the implementation's job.
type Client interface {
	// Acquire blocks up to roughly TTL-bounded retry time. It returns
	// ErrNotAcquired when retries exhaust, or another error when the
	// lock backend is unreachable.
	Acquire(ctx context.Context, name string, opts Options) (Lease, error)
}
