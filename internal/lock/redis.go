package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis implements LeaseLock with SET NX PX and a compare-and-delete release.
type Redis struct {
	Client redis.UniversalClient
	Prefix string        // optional key namespace, e.g. "lock:"
	Poll   time.Duration // wait loop interval; DefaultPoll when zero
}

// NewRedis returns a Redis lease lock on the given client.
func NewRedis(c redis.UniversalClient) *Redis {
	return &Redis{Client: c, Prefix: "lock:"}
}

// Acquire implements LeaseLock.
func (r *Redis) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (*Lease, bool, error) {
	token := uuid.NewString()
	full := r.Prefix + key

	ok, err := retryUntil(ctx, wait, r.Poll, func() (bool, error) {
		ok, err := r.Client.SetNX(ctx, full, token, ttl).Result()
		if err != nil {
			return false, fmt.Errorf("redis setnx %s: %w", full, err)
		}
		return ok, nil
	})
	if err != nil || !ok {
		return nil, false, err
	}
	return &Lease{Key: key, Token: token, TTL: ttl}, true, nil
}

// Release implements LeaseLock.
func (r *Redis) Release(ctx context.Context, l *Lease) error {
	if l == nil {
		return nil
	}
	n, err := releaseScript.Run(ctx, r.Client, []string{r.Prefix + l.Key}, l.Token).Int64()
	if err != nil {
		return fmt.Errorf("redis release %s: %w", l.Key, err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}
