// Package ledger stores short-lived idempotency markers in a key-value store
// with TTLs. The scheduler uses it to avoid publishing the same schedule twice
// when two workers happen to see the same row.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Marker values written by the scheduler.
const (
	Processing = "processing"
	Completed  = "completed"
	Failed     = "failed"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("ledger: key not found")

// Ledger is a key-value store with per-key expiry.
type Ledger interface {
	Get(ctx context.Context, key string) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
}

// ScheduleKey is the ledger key for one schedule.
func ScheduleKey(scheduleID uint) string {
	return fmt.Sprintf("scheduler:processed:%d", scheduleID)
}

// Redis is a Ledger backed by plain Redis strings.
type Redis struct {
	Client redis.UniversalClient
}

// NewRedis wraps a go-redis client.
func NewRedis(c redis.UniversalClient) *Redis { return &Redis{Client: c} }

// Get implements Ledger.
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

// Exists implements Ledger.
func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.Client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", key, err)
	}
	return n > 0, nil
}

// SetWithTTL implements Ledger.
func (r *Redis) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.Client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Memory is an in-process Ledger. Expired keys are dropped lazily on read.
type Memory struct {
	mu    sync.Mutex
	items map[string]memItem
	Now   func() time.Time
}

type memItem struct {
	value   string
	expires time.Time // zero means no expiry
}

// NewMemory returns an empty in-process ledger.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]memItem), Now: time.Now}
}

// Get implements Ledger.
func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok {
		return "", ErrMiss
	}
	if !it.expires.IsZero() && !m.now().Before(it.expires) {
		delete(m.items, key)
		return "", ErrMiss
	}
	return it.value, nil
}

// Exists implements Ledger.
func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	_, err := m.Get(ctx, key)
	if errors.Is(err, ErrMiss) {
		return false, nil
	}
	return err == nil, err
}

// SetWithTTL implements Ledger. A non-positive ttl keeps the key forever.
func (m *Memory) SetWithTTL(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items == nil {
		m.items = make(map[string]memItem)
	}
	it := memItem{value: value}
	if ttl > 0 {
		it.expires = m.now().Add(ttl)
	}
	m.items[key] = it
	return nil
}

func (m *Memory) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}
