package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sescanella/spoolflow/config"
)

// Client wraps the go-redis client used as the distributed mirror for
// the Lock Service (C2) and as a shared counter store for the sliding
// window rate monitor (§5). A nil *Client is a valid value: callers
// fall back to in-process-only state when Redis is unavailable.
type Client struct {
	c *redis.Client
}

// New creates a Redis client from the provided config. Returns an error
// if the lock backend URL cannot be parsed.
func New(cfg *config.Config) (*Client, error) {
	opt, err := redis.ParseURL(cfg.LockBackendURL)
	if err != nil {
		return nil, fmt.Errorf("invalid LOCK_BACKEND_URL: %w", err)
	}
	r := redis.NewClient(opt)
	return &Client{c: r}, nil
}

func (r *Client) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return r.c.Ping(ctx).Err()
}

// SetNX sets key to value with the given TTL only if it does not
// already exist. Returns true if the key was set by this call.
func (r *Client) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return r.c.SetNX(ctx, key, value, ttl).Result()
}

// Get returns the current value for key, or "" with ok=false if absent.
func (r *Client) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.c.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// releaseScript deletes key only if its value still equals the
// expected token, so a release never clobbers a lock re-acquired by
// someone else after a stale caller's view of ownership.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// ReleaseIfMatch deletes key iff its current value equals expected.
// Returns true if the delete happened.
func (r *Client) ReleaseIfMatch(ctx context.Context, key, expected string) (bool, error) {
	res, err := releaseScript.Run(ctx, r.c, []string{key}, expected).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// IncrWindow records one occurrence at key (a fixed-window bucket)
// and returns the new count. The bucket's expiry is set to window on
// its first increment only, so the bucket self-cleans window after it
// was created.
func (r *Client) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := r.c.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		r.c.Expire(ctx, key, window)
	}
	return n, nil
}
