package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultTTL = 30 * time.Second

// Redis is a Lock backed by a Redis SETNX-with-TTL advisory lock, keyed by
// session ID. It lets multiple executor processes share a single
// session.Store backend (e.g. the Mongo backend) without two processes
// resuming the same session concurrently. Not required when a single
// process owns all execution (spec.md's single-writer assumption already
// covers that case); this is additive insurance for multi-process
// deployments.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedis returns a Redis-backed Lock using client, with each lock key
// expiring after ttl if never released (guarding against a crashed holder
// wedging the lock forever). ttl <= 0 uses defaultTTL.
func NewRedis(client *redis.Client, ttl time.Duration) (*Redis, error) {
	if client == nil {
		return nil, errors.New("lock: redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Redis{client: client, ttl: ttl, prefix: "strandsflow:session-lock:"}, nil
}

// Acquire implements Lock. It polls with a short backoff until the key is
// claimed or ctx is canceled.
func (r *Redis) Acquire(ctx context.Context, sessionID string) (func(), error) {
	key := r.prefix + sessionID
	token := uuid.NewString()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lock: redis setnx: %w", err)
		}
		if ok {
			return func() { r.release(key, token) }, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// release deletes key only if it still holds token, so a lock whose TTL
// already expired and was reclaimed by another holder is never deleted out
// from under that holder.
func (r *Redis) release(key, token string) {
	const script = `
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`
	r.client.Eval(context.Background(), script, []string{key}, token)
}
