package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process LeaseLock for single-replica deployments and tests.
type Memory struct {
	mu     sync.Mutex
	leases map[string]memLease
	Now    func() time.Time
	Poll   time.Duration
}

type memLease struct {
	token   string
	expires time.Time
}

// NewMemory returns an empty in-process lease lock.
func NewMemory() *Memory {
	return &Memory{leases: make(map[string]memLease), Now: time.Now}
}

// Acquire implements LeaseLock.
func (m *Memory) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (*Lease, bool, error) {
	token := uuid.NewString()
	ok, err := retryUntil(ctx, wait, m.Poll, func() (bool, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.leases == nil {
			m.leases = make(map[string]memLease)
		}
		now := m.now()
		if cur, held := m.leases[key]; held && now.Before(cur.expires) {
			return false, nil
		}
		m.leases[key] = memLease{token: token, expires: now.Add(ttl)}
		return true, nil
	})
	if err != nil || !ok {
		return nil, false, err
	}
	return &Lease{Key: key, Token: token, TTL: ttl}, true, nil
}

// Release implements LeaseLock.
func (m *Memory) Release(_ context.Context, l *Lease) error {
	if l == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, held := m.leases[l.Key]
	if !held || cur.token != l.Token || !m.now().Before(cur.expires) {
		return ErrLeaseLost
	}
	delete(m.leases, l.Key)
	return nil
}

func (m *Memory) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}
