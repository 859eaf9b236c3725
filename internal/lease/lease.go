// Package lease provides short-lived exclusive claims on tasks so that more
// than one scheduler process can poll the same store without publishing a
// task twice. A single process needs no lease and uses NopLocker.
package lease

import (
	"context"
	"time"
)

// DefaultTTL bounds how long a crashed holder blocks a task.
const DefaultTTL = 5 * time.Minute

// Locker acquires and releases leases on arbitrary keys.
type Locker interface {
	// Acquire claims key for ttl. It returns false, nil when another holder
	// has an unexpired lease.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release gives up a lease held by this Locker. Releasing a lease that
	// has expired or belongs to someone else is a no-op.
	Release(ctx context.Context, key string) error
}

// NopLocker grants every lease.
type NopLocker struct{}

func (NopLocker) Acquire(context.Context, string, time.Duration) (bool, error) { return true, nil }
func (NopLocker) Release(context.Context, string) error { return nil }
