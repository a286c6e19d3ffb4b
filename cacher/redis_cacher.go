package cacher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	lockTTL     = 30 * time.Second
	waitTimeout = 30 * time.Second
	maxBackoff  = 500 * time.Millisecond
)

// releaseLockScript deletes the lock only if we still own it.
var releaseLockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// redisCacher is a Redis-backed Cacher. Values are stored as JSON under
// "{namespace}:{key}". A SETNX lock per key ensures only one process fetches
// a missing value; the others poll until it appears.
type redisCacher[T any] struct {
	client    *redis.Client
	namespace string
}

// NewRedisCacher creates a Redis-based cacher. Keys are prefixed with
// namespace so Clear and ItemCount only touch this cache's entries.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	songs := NewRedisCacher[[]catalog.SongInfo](client, "songstream")
func NewRedisCacher[T any](client *redis.Client, namespace string) Cacher[T] {
	if namespace == "" {
		namespace = "cache"
	}

	return &redisCacher[T]{client: client, namespace: namespace}
}

func (c *redisCacher[T]) key(key string) string {
	return c.namespace + ":" + key
}

// GetOrFetch implements Cacher.
func (c *redisCacher[T]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc[T]) (T, error) {
	var zero T
	fullKey := c.key(key)

	if v, ok, err := c.get(ctx, fullKey); err != nil || ok {
		return v, err
	}

	lockKey := fullKey + ":lock"
	lockValue := strconv.FormatInt(time.Now().UnixNano(), 10)

	acquired, err := c.client.SetNX(ctx, lockKey, lockValue, lockTTL).Result()
	if err != nil {
		return zero, fmt.Errorf("failed to acquire lock: %w", err)
	}

	if !acquired {
		return c.waitForCache(ctx, fullKey, lockKey)
	}

	defer releaseLockScript.Run(context.Background(), c.client, []string{lockKey}, lockValue)

	result, err := fetchFn(ctx)
	if err != nil {
		return zero, fmt.Errorf("fetch function failed: %w", err)
	}

	data, err := json.Marshal(result)
	if err != nil {
		return zero, fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := c.client.Set(ctx, fullKey, data, ttl).Err(); err != nil {
		return zero, fmt.Errorf("failed to cache result: %w", err)
	}

	return result, nil
}

// get reads and decodes fullKey. ok is false on a miss.
func (c *redisCacher[T]) get(ctx context.Context, fullKey string) (T, bool, error) {
	var result T

	val, err := c.client.Get(ctx, fullKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return result, false, nil
	}
	if err != nil {
		return result, false, fmt.Errorf("redis get error: %w", err)
	}

	if err := json.Unmarshal(val, &result); err != nil {
		return result, false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}

	return result, true, nil
}

// waitForCache polls with exponential backoff until another process fills
// fullKey, its lock disappears, the timeout passes, or ctx is cancelled.
func (c *redisCacher[T]) waitForCache(ctx context.Context, fullKey, lockKey string) (T, error) {
	var zero T

	backoff := 10 * time.Millisecond
	deadline := time.Now().Add(waitTimeout)

	for time.Now().Before(deadline) {
		if v, ok, err := c.get(ctx, fullKey); err != nil || ok {
			return v, err
		}

		exists, err := c.client.Exists(ctx, lockKey).Result()
		if err != nil {
			return zero, fmt.Errorf("failed to check lock existence: %w", err)
		}

		if exists == 0 {
			if v, ok, err := c.get(ctx, fullKey); err != nil || ok {
				return v, err
			}
			return zero, errors.New("fetch operation failed or cache not populated")
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}

		backoff = min(backoff*2, maxBackoff)
	}

	return zero, errors.New("timeout waiting for cache")
}

// Delete implements Cacher.
func (c *redisCacher[T]) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}

	return nil
}

// DeleteByPrefix implements Cacher.
func (c *redisCacher[T]) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	keys, err := c.scan(ctx, c.key(prefix)+"*")
	if err != nil {
		return 0, err
	}

	if len(keys) == 0 {
		return 0, nil
	}

	deleted, err := c.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to delete keys: %w", err)
	}

	return int(deleted), nil
}

// Clear implements Cacher.
func (c *redisCacher[T]) Clear(ctx context.Context) error {
	_, err := c.DeleteByPrefix(ctx, "")
	return err
}

// ItemCount implements Cacher.
func (c *redisCacher[T]) ItemCount(ctx context.Context) (int, error) {
	keys, err := c.scan(ctx, c.key("*"))
	if err != nil {
		return 0, err
	}

	return len(keys), nil
}

func (c *redisCacher[T]) scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string

	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan keys: %w", err)
	}

	return keys, nil
}
