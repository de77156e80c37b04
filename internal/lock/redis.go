package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL     = 5 * time.Minute
	defaultRetry   = 100 * time.Millisecond
	redisKeyPrefix = "estorage:lock:"
	releaseTimeout = 2 * time.Second
)

// releaseScript deletes the key only when it still carries our token, so a
// holder whose TTL ran out cannot drop someone else's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every process pointing at the same Redis. It is
// meant for several replicas mounting one store volume.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

var _ Locker = (*Redis)(nil)

// NewRedis parses url, verifies connectivity and returns a Redis locker.
func NewRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &Redis{client: client, ttl: defaultTTL, retry: defaultRetry}, nil
}

// Close shuts down the Redis client.
func (r *Redis) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

// Acquire implements Locker. The lock expires after the TTL even if Release
// is never called.
func (r *Redis) Acquire(ctx context.Context, key string) (Release, error) {
	if r == nil || r.client == nil {
		return nil, errors.New("lock store unavailable")
	}
	k := redisKeyPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, k, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %q: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	var (
		once sync.Once
		rerr error
	)
	return func() error {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			rerr = releaseScript.Run(ctx, r.client, []string{k}, token).Err()
		})
		return rerr
	}, nil
}
