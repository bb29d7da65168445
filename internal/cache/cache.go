// Package cache provides the read-result cache: pluggable stores (in-process
// go-cache, shared Redis) under a keying layer that understands query IR and
// model-level invalidation.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"
)

// Store is the backend contract for cached values. Local stores keep values
// as-is; shared stores round-trip them through JSON, so numeric types may
// come back widened (int64 → float64).
type Store interface {
	Get(ctx context.Context, key string) (interface{}, bool)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// LocalStore wraps patrickmn/go-cache for in-process caching.
type LocalStore struct {
	cache *gocache.Cache
}

func NewLocalStore(defaultTTL, cleanupInterval time.Duration) *LocalStore {
	return &LocalStore{cache: gocache.New(defaultTTL, cleanupInterval)}
}

func (l *LocalStore) Get(ctx context.Context, key string) (interface{}, bool) {
	return l.cache.Get(key)
}

func (l *LocalStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	l.cache.Set(key, value, ttl)
	return nil
}

func (l *LocalStore) Delete(ctx context.Context, key string) error {
	l.cache.Delete(key)
	return nil
}

func (l *LocalStore) Clear(ctx context.Context) error {
	l.cache.Flush()
	return nil
}

// RedisStore keeps cached values in Redis under a shared key prefix, so
// several engine processes see the same cache and the same invalidations.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (r *RedisStore) Get(ctx context.Context, key string) (interface{}, bool) {
	val, err := r.client.Get(ctx, r.keyPrefix+key).Result()
	if err != nil {
		return nil, false
	}

	var result interface{}
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		return val, true
	}
	return result, true
}

func (r *RedisStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.keyPrefix+key, data, ttl).Err()
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.keyPrefix+key).Err()
}

// Clear removes every key under the store's prefix.
func (r *RedisStore) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.keyPrefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return r.client.Del(ctx, keys...).Err()
	}
	return nil
}
