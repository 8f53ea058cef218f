package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces cache keys in Redis.
const DefaultRedisPrefix = "memopt:cache:"

// Redis is a Store shared across processes. Values are JSON encoded together
// with their write time; Redis expiry removes entries after the TTL and the
// age is checked again on read.
type Redis[V any] struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time

	// OnError, when set, is called for Redis failures. Failures are
	// otherwise treated as misses.
	OnError func(op, key string, err error)
}

type redisEnvelope[V any] struct {
	Value    V         `json:"value"`
	StoredAt time.Time `json:"stored_at"`
}

// NewRedis creates a Redis-backed store.
func NewRedis[V any](client redis.UniversalClient, prefix string, ttl time.Duration) *Redis[V] {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis[V]{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

func (r *Redis[V]) report(op, key string, err error) {
	if r.OnError != nil {
		r.OnError(op, key, err)
	}
}

// Get returns the entry for key if present and younger than the TTL.
func (r *Redis[V]) Get(ctx context.Context, key string) (V, time.Duration, bool) {
	var zero V
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.report("get", key, err)
		}
		return zero, 0, false
	}

	var env redisEnvelope[V]
	if err := json.Unmarshal(data, &env); err != nil {
		r.report("decode", key, err)
		return zero, 0, false
	}
	age := r.now().Sub(env.StoredAt)
	if r.ttl > 0 && age > r.ttl {
		return zero, age, false
	}
	return env.Value, age, true
}

// Set stores value under key with the store TTL.
func (r *Redis[V]) Set(ctx context.Context, key string, value V) error {
	data, err := json.Marshal(redisEnvelope[V]{Value: value, StoredAt: r.now()})
	if err != nil {
		return fmt.Errorf("cache: marshal %s: %w", key, err)
	}
	if err := r.client.Set(ctx, r.prefix+key, data, r.ttl).Err(); err != nil {
		r.report("set", key, err)
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (r *Redis[V]) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		r.report("delete", key, err)
		return fmt.Errorf("cache: delete %s: %w", key, err)
	}
	return nil
}
