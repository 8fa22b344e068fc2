package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	valueAllow = "1"
	valueDeny  = "0"

	defaultScanCount = 500
)

// Redis stores decisions in a single Redis deployment. Cluster clients are
// not accepted because SCAN only walks one shard.
type Redis struct {
	client    *redis.Client
	scanCount int64
}

// NewRedis wraps a Redis client as a decision cache.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, scanCount: defaultScanCount}
}

// Get implements Cache.
func (r *Redis) Get(ctx context.Context, key string) (bool, bool, error) {
	if r == nil || r.client == nil {
		return false, false, nil
	}
	raw, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("cache: redis get: %w", err)
	}
	switch raw {
	case valueAllow:
		return true, true, nil
	case valueDeny:
		return false, true, nil
	default:
		return false, false, fmt.Errorf("cache: unexpected value %q for %s", raw, key)
	}
}

// Set implements Cache.
func (r *Redis) Set(ctx context.Context, key string, value bool, ttl time.Duration) error {
	if r == nil || r.client == nil {
		return nil
	}
	raw := valueDeny
	if value {
		raw = valueAllow
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

// DeletePattern implements Cache. The keyspace is scanned to completion before
// anything is unlinked, so deletions never move the cursor past live keys.
func (r *Redis) DeletePattern(ctx context.Context, pattern string) (int, error) {
	if r == nil || r.client == nil {
		return 0, nil
	}
	keys, err := r.matchingKeys(ctx, pattern)
	if err != nil {
		return 0, err
	}
	removed := 0
	for start := 0; start < len(keys); start += int(r.scanCount) {
		end := min(start+int(r.scanCount), len(keys))
		n, err := r.client.Unlink(ctx, keys[start:end]...).Result()
		if err != nil {
			return removed, fmt.Errorf("cache: redis unlink: %w", err)
		}
		removed += int(n)
	}
	return removed, nil
}

func (r *Redis) matchingKeys(ctx context.Context, pattern string) ([]string, error) {
	seen := make(map[string]struct{})
	keys := make([]string, 0, r.scanCount)
	iter := r.client.Scan(ctx, 0, pattern, r.scanCount).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("cache: redis scan: %w", err)
	}
	return keys, nil
}
