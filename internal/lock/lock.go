// Package lock provides a lease-based distributed mutual-exclusion primitive.
//
// A lease is held until it is released or its TTL expires, whichever comes
// first. Leases are best-effort: holders must not rely on them for
// correctness, only to avoid duplicated work across processes.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrLeaseLost is returned by Release when the lease expired or was taken
// over by another holder before release.
var ErrLeaseLost = errors.New("lease no longer held")

// DefaultPoll is the retry interval used while waiting for a held key.
const DefaultPoll = 50 * time.Millisecond

// Lease identifies one successful acquisition.
type Lease struct {
	Key   string
	Token string
	TTL   time.Duration
}

// LeaseLock acquires and releases named leases.
//
// Acquire waits at most wait for the key to become free and reports
// ok=false when it did not. err is reserved for backend failures; callers
// that prefer availability may treat an error as a miss.
type LeaseLock interface {
	Acquire(ctx context.Context, key string, ttl, wait time.Duration) (*Lease, bool, error)
	Release(ctx context.Context, l *Lease) error
}

// retryUntil calls try until it reports ok, returns an error, the wait
// budget runs out or ctx is cancelled.
func retryUntil(ctx context.Context, wait, poll time.Duration, try func() (bool, error)) (bool, error) {
	if poll <= 0 {
		poll = DefaultPoll
	}
	deadline := time.Now().Add(wait)
	for {
		ok, err := try()
		if err != nil || ok {
			return ok, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		sleep := poll
		if remaining < sleep {
			sleep = remaining
		}
		t := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			t.Stop()
			return false, ctx.Err()
		case <-t.C:
		}
	}
}
